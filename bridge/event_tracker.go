package bridge

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultEventTrackerMaxEntries caps how many processed events are remembered.
const DefaultEventTrackerMaxEntries = 10000

// EventTracker remembers recently processed remote events so webhook
// redeliveries (Slack retries on slow responses) are not relayed twice.
type EventTracker struct {
	mutex       sync.RWMutex
	entries     map[string]int64 // event key -> processed-at timestamp (ms)
	maxEntries  int
	markCounter int // Counter for triggering cleanup
	cleanupFreq int // Cleanup every N marks
}

// NewEventTracker creates a tracker holding at most maxEntries events.
func NewEventTracker(maxEntries int) *EventTracker {
	return &EventTracker{
		entries:     make(map[string]int64),
		maxEntries:  maxEntries,
		cleanupFreq: 100, // Cleanup every 100 marks
	}
}

// Seen reports whether an event key was already processed.
func (t *EventTracker) Seen(eventKey string) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	_, exists := t.entries[eventKey]
	return exists
}

// Mark records an event key as processed. Returns an error if the tracker is
// at capacity and cleanup could not make room.
func (t *EventTracker) Mark(eventKey string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(t.entries) >= t.maxEntries {
		t.cleanupOldEntries()

		if len(t.entries) >= t.maxEntries {
			return errors.New("event tracker at capacity - cannot add new entry")
		}
	}

	t.entries[eventKey] = time.Now().UnixMilli()
	t.markCounter++

	// Periodic cleanup based on mark frequency
	if t.markCounter%t.cleanupFreq == 0 {
		t.cleanupOldEntries()
	}

	return nil
}

// cleanupOldEntries removes entries older than 1 hour.
// Must be called with mutex already locked.
func (t *EventTracker) cleanupOldEntries() {
	cutoff := time.Now().Add(-1 * time.Hour).UnixMilli()

	for eventKey, processedAt := range t.entries {
		if processedAt < cutoff {
			delete(t.entries, eventKey)
		}
	}

	t.markCounter = 0
}

// Size returns the current number of tracked entries (for debugging/monitoring)
func (t *EventTracker) Size() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.entries)
}
