package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

func newTestBridge(t *testing.T) (*Bridge, *matrixRecorder) {
	t.Helper()

	server, rec := newTestMatrixServer(t)
	config := &Configuration{
		ListenAddress:          "localhost:0",
		MatrixServerURL:        server.URL,
		MatrixASToken:          "as-token",
		MatrixServerDomain:     "bridge.test",
		SlackVerificationToken: "vtok",
		AdminSecret:            "admin-secret",
	}

	b := New(config, kvstore.NewMemoryKVStore(), &testLogger{t: t})
	return b, rec
}

func postSlackEvent(t *testing.T, b *Bridge, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	b.Router().ServeHTTP(recorder, request)
	return recorder
}

func TestHandleSlackEventURLVerification(t *testing.T) {
	b, _ := newTestBridge(t)

	recorder := postSlackEvent(t, b, map[string]string{
		"token":     "vtok",
		"type":      "url_verification",
		"challenge": "challenge-abc",
	})

	require.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "challenge-abc", response["challenge"])
}

func TestHandleSlackEventRejectsBadToken(t *testing.T) {
	b, _ := newTestBridge(t)

	recorder := postSlackEvent(t, b, map[string]string{
		"token": "wrong",
		"type":  "url_verification",
	})

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHandleSlackEventRelaysMessage(t *testing.T) {
	b, rec := newTestBridge(t)

	link := &ChannelLink{SlackChannelID: "C1", MatrixRoomID: "!room:bridge.test", AccessToken: ""}
	require.NoError(t, b.PutChannelLink(link))

	payload := map[string]any{
		"token":    "vtok",
		"type":     "event_callback",
		"event_id": "Ev1",
		"event": map[string]string{
			"type":     "message",
			"user":     "U1",
			"username": "alice",
			"text":     "hello world",
			"channel":  "C1",
			"ts":       "1700000000.000100",
		},
	}

	recorder := postSlackEvent(t, b, payload)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, rec.SendBodies(), 1)
	assert.Contains(t, rec.SendBodies()[0], "hello world")

	// Slack redelivery of the same event must not send twice.
	recorder = postSlackEvent(t, b, payload)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, rec.SendBodies(), 1)
}

func TestHandleSlackEventIgnoresSubtypedMessages(t *testing.T) {
	b, rec := newTestBridge(t)

	recorder := postSlackEvent(t, b, map[string]any{
		"token": "vtok",
		"type":  "event_callback",
		"event": map[string]string{
			"type":    "message",
			"subtype": "channel_join",
			"user":    "U1",
			"channel": "C1",
			"ts":      "1700000000.000100",
		},
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, rec.SendBodies())
}

func TestHandleSlackEventUnlinkedChannelIsNoOp(t *testing.T) {
	b, rec := newTestBridge(t)

	recorder := postSlackEvent(t, b, map[string]any{
		"token": "vtok",
		"type":  "event_callback",
		"event": map[string]string{
			"type":    "message",
			"user":    "U1",
			"text":    "hello",
			"channel": "C-unlinked",
			"ts":      "1700000000.000100",
		},
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, rec.SendBodies())
}

func TestMetricsEndpointRequiresAdminSecret(t *testing.T) {
	b, _ := newTestBridge(t)
	router := b.Router()

	request := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	request = httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	request.Header.Set("X-Admin-Secret", "admin-secret")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	var snapshot map[string]int64
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snapshot))
}

func TestCreateLinkEndpoint(t *testing.T) {
	b, _ := newTestBridge(t)
	router := b.Router()

	body, err := json.Marshal(createLinkRequest{
		SlackChannelID: "C1",
		MatrixRoomID:   "!room:bridge.test",
	})
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/links", bytes.NewReader(body))
	request.Header.Set("X-Admin-Secret", "admin-secret")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusCreated, recorder.Code)

	link, err := b.GetChannelLink("C1")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "!room:bridge.test", link.MatrixRoomID)
}

func TestCreateLinkEndpointValidatesPayload(t *testing.T) {
	b, _ := newTestBridge(t)
	router := b.Router()

	body, err := json.Marshal(createLinkRequest{SlackChannelID: "C1"})
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/links", bytes.NewReader(body))
	request.Header.Set("X-Admin-Secret", "admin-secret")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
