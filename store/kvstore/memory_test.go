package kvstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVStoreGetSetDelete(t *testing.T) {
	store := NewMemoryKVStore()

	value, err := store.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, value, "missing key should return nil without error")

	require.NoError(t, store.Set("key1", []byte("value1")))
	value, err = store.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)

	require.NoError(t, store.Set("key1", []byte("value2")))
	value, err = store.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value2"), value)

	require.NoError(t, store.Delete("key1"))
	value, err = store.Get("key1")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Delete("key1"), "deleting a missing key is not an error")
}

func TestMemoryKVStoreValueIsolation(t *testing.T) {
	store := NewMemoryKVStore()

	original := []byte("value")
	require.NoError(t, store.Set("key1", original))
	original[0] = 'X'

	value, err := store.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value, "stored value must not alias the caller's slice")

	value[0] = 'Y'
	again, err := store.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again, "returned value must not alias the stored slice")
}

func TestMemoryKVStoreListKeys(t *testing.T) {
	store := NewMemoryKVStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(fmt.Sprintf("key%d", i), []byte("v")))
	}

	page0, err := store.ListKeys(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"key0", "key1"}, page0)

	page1, err := store.ListKeys(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"key2", "key3"}, page1)

	page2, err := store.ListKeys(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"key4"}, page2)

	beyond, err := store.ListKeys(3, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestBuildKeys(t *testing.T) {
	assert.Equal(t, "ghost_record_U1", BuildGhostRecordKey("U1"))
	assert.Equal(t, "ghost_user_U1", BuildGhostUserKey("U1"))
	assert.Equal(t, "ghost_room_U1_!room:example.com", BuildGhostRoomKey("U1", "!room:example.com"))
	assert.Equal(t, "channel_link_C1", BuildChannelLinkKey("C1"))
	assert.Equal(t, "slack_event_C1_1700000000.000100", BuildSlackEventKey("C1", "1700000000.000100"))
	assert.Equal(t, "matrix_event_$evt1", BuildMatrixEventKey("$evt1"))
}
