package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wiggin77/slack-matrix-bridge/matrix"
	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

// testLogger implements Logger interface for testing
type testLogger struct {
	t *testing.T
}

func (l *testLogger) LogDebug(message string, keyValuePairs ...any) {
	if l.t != nil {
		l.t.Logf("[DEBUG] %s %v", message, keyValuePairs)
	}
}

func (l *testLogger) LogInfo(message string, keyValuePairs ...any) {
	if l.t != nil {
		l.t.Logf("[INFO] %s %v", message, keyValuePairs)
	}
}

func (l *testLogger) LogWarn(message string, keyValuePairs ...any) {
	if l.t != nil {
		l.t.Logf("[WARN] %s %v", message, keyValuePairs)
	}
}

func (l *testLogger) LogError(message string, keyValuePairs ...any) {
	if l.t != nil {
		l.t.Logf("[ERROR] %s %v", message, keyValuePairs)
	}
}

// matrixRecorder captures puppet API calls made against the fake homeserver.
type matrixRecorder struct {
	mutex           sync.Mutex
	displayNames    []string
	avatarRefs      []string
	registerCalls   int
	joinCalls       int
	sendBodies      []string
	uploadBodies    [][]byte
	uploadMimeTypes []string
	failDisplayName bool
}

func (r *matrixRecorder) DisplayNames() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.displayNames...)
}

func (r *matrixRecorder) AvatarRefs() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.avatarRefs...)
}

func (r *matrixRecorder) SendBodies() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.sendBodies...)
}

func (r *matrixRecorder) UploadCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.uploadBodies)
}

// newTestMatrixServer starts a fake homeserver covering the endpoints the
// bridge uses: profile updates, AS registration, joins, sends and media
// uploads.
func newTestMatrixServer(t *testing.T) (*httptest.Server, *matrixRecorder) {
	t.Helper()
	rec := &matrixRecorder{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readAll(t, r)

		rec.mutex.Lock()
		defer rec.mutex.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/displayname"):
			if rec.failDisplayName {
				http.Error(w, `{"errcode":"M_UNKNOWN"}`, http.StatusInternalServerError)
				return
			}
			var content struct {
				DisplayName string `json:"displayname"`
			}
			_ = json.Unmarshal(body, &content)
			rec.displayNames = append(rec.displayNames, content.DisplayName)
			writeOK(w, map[string]string{})
		case strings.HasSuffix(r.URL.Path, "/avatar_url"):
			var content struct {
				AvatarURL string `json:"avatar_url"`
			}
			_ = json.Unmarshal(body, &content)
			rec.avatarRefs = append(rec.avatarRefs, content.AvatarURL)
			writeOK(w, map[string]string{})
		case r.URL.Path == "/_matrix/client/v3/register":
			rec.registerCalls++
			writeOK(w, map[string]string{})
		case strings.HasSuffix(r.URL.Path, "/join"):
			rec.joinCalls++
			writeOK(w, map[string]string{})
		case strings.Contains(r.URL.Path, "/send/"):
			rec.sendBodies = append(rec.sendBodies, string(body))
			writeOK(w, map[string]string{"event_id": "$evt1"})
		case r.URL.Path == "/_matrix/media/v3/upload":
			rec.uploadBodies = append(rec.uploadBodies, body)
			rec.uploadMimeTypes = append(rec.uploadMimeTypes, r.Header.Get("Content-Type"))
			writeOK(w, map[string]string{"content_uri": "mxc://bridge.test/media1"})
		case r.URL.Path == "/_matrix/client/v3/account/whoami":
			writeOK(w, map[string]string{"user_id": "@bridge:bridge.test"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, rec
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("failed to read request body: %v", err)
	}
	return body
}

func writeOK(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}

// fakeLookup is a scriptable ProfileLookup.
type fakeLookup struct {
	mutex   sync.Mutex
	calls   int
	profile *RemoteProfile
	err     error
	block   chan struct{} // when set, lookups stall until closed
	started chan struct{} // when set, receives one signal per lookup issued
}

func (f *fakeLookup) GetUserProfile(_, _ string) (*RemoteProfile, error) {
	f.mutex.Lock()
	f.calls++
	f.mutex.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.profile, f.err
}

func (f *fakeLookup) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

// syncFixture bundles a fully wired synchronizer backed by fakes.
type syncFixture struct {
	sync    *ProfileSynchronizer
	ghosts  *GhostStore
	cache   *ProfileCache
	metrics *CounterMetrics
	kv      *kvstore.MemoryKVStore
	rec     *matrixRecorder
}

func newSyncFixture(t *testing.T, lookup ProfileLookup) *syncFixture {
	t.Helper()

	logger := &testLogger{t: t}
	server, rec := newTestMatrixServer(t)
	client := matrix.NewClient(server.URL, "as-token", "bridge.test")
	kv := kvstore.NewMemoryKVStore()
	metrics := NewCounterMetrics()

	ghosts := NewGhostStore(kv, client, DefaultGhostUsernamePrefix, logger)
	cache := NewProfileCacheWithTTL(lookup, time.Minute, metrics, logger)
	media := NewMediaRelay(client, logger)

	return &syncFixture{
		sync:    NewProfileSynchronizer(cache, ghosts, media, client, logger),
		ghosts:  ghosts,
		cache:   cache,
		metrics: metrics,
		kv:      kv,
		rec:     rec,
	}
}
