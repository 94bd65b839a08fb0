package bridge

import "sync"

// Counter names reported by the bridge core.
const (
	// MetricRemoteCallUsersInfo counts remote users.info lookups actually issued.
	MetricRemoteCallUsersInfo = "remote_call:users.info"
	// MetricSentMessagesMatrix counts messages relayed to the Matrix side.
	MetricSentMessagesMatrix = "sent_messages:matrix"
)

// Metrics is the observability collaborator: named monotonic counters.
type Metrics interface {
	IncCounter(name string)
}

// CounterMetrics is an in-memory Metrics implementation exposed through the
// bridge's metrics endpoint.
type CounterMetrics struct {
	mutex    sync.RWMutex
	counters map[string]int64
}

// NewCounterMetrics creates an empty counter set.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{
		counters: make(map[string]int64),
	}
}

// IncCounter increments the named counter by one.
func (m *CounterMetrics) IncCounter(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[name]++
}

// Counter returns the current value of the named counter.
func (m *CounterMetrics) Counter(name string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.counters[name]
}

// Snapshot returns a copy of all counters.
func (m *CounterMetrics) Snapshot() map[string]int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshot := make(map[string]int64, len(m.counters))
	for name, value := range m.counters {
		snapshot[name] = value
	}
	return snapshot
}
