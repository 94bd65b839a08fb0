package bridge

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/matrix"
	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

// GhostRecord is the bridge's view of one remote user's puppet. DisplayName
// and AvatarRef hold the last values successfully pushed to the Matrix ghost,
// never desired values, so profile sync is a no-op when the freshly fetched
// attribute matches. LastActivity is bookkeeping only and is not persisted.
type GhostRecord struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	AvatarRef    string    `json:"avatar_url"`
	LastActivity time.Time `json:"-"`
}

// GhostStore manages ghost records and the Matrix ghost users that puppet
// remote subjects. Records are held in memory once loaded; the KV store is
// the persistent copy. The stored records are mutated only under the store
// mutex; callers see value snapshots, never the shared struct.
type GhostStore struct {
	mutex          sync.Mutex
	records        map[string]*GhostRecord
	subjectLocks   map[string]*sync.Mutex
	kv             kvstore.KVStore
	matrixClient   *matrix.Client
	logger         Logger
	usernamePrefix string
}

// NewGhostStore creates a ghost store over the given KV store and Matrix client.
func NewGhostStore(kv kvstore.KVStore, matrixClient *matrix.Client, usernamePrefix string, logger Logger) *GhostStore {
	return &GhostStore{
		records:        make(map[string]*GhostRecord),
		subjectLocks:   make(map[string]*sync.Mutex),
		kv:             kv,
		matrixClient:   matrixClient,
		logger:         logger,
		usernamePrefix: usernamePrefix,
	}
}

// loadLocked returns the shared record for a subject, loading it from the KV
// store on first access. A subject never seen before gets a fresh record.
// Must be called with the store mutex held.
func (g *GhostStore) loadLocked(subjectID string) (*GhostRecord, error) {
	if record, ok := g.records[subjectID]; ok {
		return record, nil
	}

	data, err := g.kv.Get(kvstore.BuildGhostRecordKey(subjectID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ghost record")
	}

	record := &GhostRecord{ID: subjectID}
	if len(data) > 0 {
		if err := json.Unmarshal(data, record); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal ghost record")
		}
	}

	g.records[subjectID] = record
	return record, nil
}

// GetRecord returns a snapshot of the subject's ghost record.
func (g *GhostStore) GetRecord(subjectID string) (GhostRecord, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	record, err := g.loadLocked(subjectID)
	if err != nil {
		return GhostRecord{}, err
	}
	return *record, nil
}

// UpdateRecord applies mutate to the subject's record under the store mutex
// and returns a snapshot of the result, suitable for persistence.
func (g *GhostStore) UpdateRecord(subjectID string, mutate func(*GhostRecord)) (GhostRecord, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	record, err := g.loadLocked(subjectID)
	if err != nil {
		return GhostRecord{}, err
	}
	mutate(record)
	return *record, nil
}

// LockSubject serializes profile sync for one subject. Concurrent webhook
// deliveries for the same sender otherwise both observe the pre-sync record
// state and both push a puppet write for one logical change. Returns the
// unlock function.
func (g *GhostStore) LockSubject(subjectID string) func() {
	g.mutex.Lock()
	lock, ok := g.subjectLocks[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		g.subjectLocks[subjectID] = lock
	}
	g.mutex.Unlock()

	lock.Lock()
	return lock.Unlock
}

// PutRecord persists a ghost record. Only the id, display name and avatar
// reference are serialized.
func (g *GhostStore) PutRecord(record *GhostRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal ghost record")
	}
	if err := g.kv.Set(kvstore.BuildGhostRecordKey(record.ID), data); err != nil {
		return errors.Wrap(err, "failed to store ghost record")
	}
	return nil
}

// BumpActivity updates the subject's last-activity timestamp, loading the
// record first if this event is the subject's first contact. Bump-on-activity
// only; there is no TTL on this field.
func (g *GhostStore) BumpActivity(subjectID string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	record, err := g.loadLocked(subjectID)
	if err != nil {
		g.logger.LogWarn("Failed to load ghost record for activity bump", "error", err, "subject_id", subjectID)
		return
	}
	record.LastActivity = time.Now()
}

// GetGhostUser retrieves the Matrix ghost user ID for a subject if one was
// already registered.
func (g *GhostStore) GetGhostUser(subjectID string) (string, bool) {
	data, err := g.kv.Get(kvstore.BuildGhostUserKey(subjectID))
	if err == nil && len(data) > 0 {
		return string(data), true
	}
	return "", false
}

// CreateOrGetGhostUser returns the Matrix ghost user for a subject,
// registering it through the Application Service API on first use.
func (g *GhostStore) CreateOrGetGhostUser(subjectID string) (string, error) {
	if ghostUserID, ok := g.GetGhostUser(subjectID); ok {
		return ghostUserID, nil
	}

	localpart := g.usernamePrefix + strings.ToLower(subjectID)
	ghostUserID, err := g.matrixClient.RegisterGhostUser(localpart)
	if err != nil {
		return "", errors.Wrap(err, "failed to register ghost user")
	}

	if err := g.kv.Set(kvstore.BuildGhostUserKey(subjectID), []byte(ghostUserID)); err != nil {
		g.logger.LogWarn("Failed to cache ghost user ID", "error", err, "ghost_user_id", ghostUserID)
		// Continue anyway, the ghost user was registered successfully
	}

	g.logger.LogDebug("Registered ghost user", "subject_id", subjectID, "ghost_user_id", ghostUserID)
	return ghostUserID, nil
}

// EnsureGhostInRoom joins the ghost user to a room if membership hasn't been
// recorded yet.
func (g *GhostStore) EnsureGhostInRoom(ghostUserID, roomID, subjectID string) error {
	key := kvstore.BuildGhostRoomKey(subjectID, roomID)
	if data, err := g.kv.Get(key); err == nil && len(data) > 0 {
		return nil
	}

	if err := g.matrixClient.JoinRoomAsUser(roomID, ghostUserID); err != nil {
		return errors.Wrap(err, "failed to join ghost user to room")
	}

	if err := g.kv.Set(key, []byte("joined")); err != nil {
		g.logger.LogWarn("Failed to record ghost room membership", "error", err, "ghost_user_id", ghostUserID, "room_id", roomID)
	}
	return nil
}
