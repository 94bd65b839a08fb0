package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTrackerMarkAndSeen(t *testing.T) {
	tracker := NewEventTracker(DefaultEventTrackerMaxEntries)

	key := "C1_1700000000.000100"
	assert.False(t, tracker.Seen(key))

	require.NoError(t, tracker.Mark(key))
	assert.True(t, tracker.Seen(key))
	assert.False(t, tracker.Seen("C1_1700000000.000200"))
	assert.Equal(t, 1, tracker.Size())
}

func TestEventTrackerCapacity(t *testing.T) {
	tracker := NewEventTracker(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Mark(fmt.Sprintf("C1_%d", i)))
	}
	assert.Equal(t, 3, tracker.Size())

	// All entries are recent, so cleanup cannot make room.
	err := tracker.Mark("C1_overflow")
	require.Error(t, err)
	assert.False(t, tracker.Seen("C1_overflow"))
}

func TestEventTrackerRemarkSameKey(t *testing.T) {
	tracker := NewEventTracker(DefaultEventTrackerMaxEntries)

	require.NoError(t, tracker.Mark("C1_1700000000.000100"))
	require.NoError(t, tracker.Mark("C1_1700000000.000100"))
	assert.Equal(t, 1, tracker.Size())
}
