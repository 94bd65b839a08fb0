package bridge

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// profileCacheTTL bounds how long a fetched profile is served without a
// fresh remote lookup.
const profileCacheTTL = 10 * time.Minute

// RemoteProfile is the immutable result of a remote profile lookup.
type RemoteProfile struct {
	DisplayName   string
	ImageOriginal string
	Image1024     string
	Image512      string
	Image192      string
	Image72       string
	Image48       string
}

// AvatarURL returns the highest-resolution avatar candidate, or "" when the
// profile carries no image at all.
func (p *RemoteProfile) AvatarURL() string {
	candidates := []string{p.ImageOriginal, p.Image1024, p.Image512, p.Image192, p.Image72, p.Image48}
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// ProfileLookup is the remote lookup transport. Implementations return
// (nil, nil) when the response was well-formed but carried no profile
// payload, and an error only for transport-level failures.
type ProfileLookup interface {
	GetUserProfile(subjectID, credential string) (*RemoteProfile, error)
}

// cacheEntry is one per-subject slot. An entry present in the map with its
// ready channel open is Loading; with the channel closed it is Cached. A
// subject with no entry is Empty. Only a successful fetch leaves an entry in
// the map, so absence and failure are never cached.
type cacheEntry struct {
	ready   chan struct{}
	profile *RemoteProfile
	err     error
}

// ProfileCache caches remote profile lookups per subject and coalesces
// concurrent lookups for the same subject into a single remote call.
type ProfileCache struct {
	mutex   sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	lookup  ProfileLookup
	metrics Metrics
	logger  Logger
}

// NewProfileCache creates a cache with the standard TTL.
func NewProfileCache(lookup ProfileLookup, metrics Metrics, logger Logger) *ProfileCache {
	return NewProfileCacheWithTTL(lookup, profileCacheTTL, metrics, logger)
}

// NewProfileCacheWithTTL creates a cache with a custom TTL.
func NewProfileCacheWithTTL(lookup ProfileLookup, ttl time.Duration, metrics Metrics, logger Logger) *ProfileCache {
	return &ProfileCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		lookup:  lookup,
		metrics: metrics,
		logger:  logger,
	}
}

// Lookup returns the subject's remote profile. A cached value is returned
// without a remote call; a lookup already in flight is joined, every waiter
// receiving the same result; otherwise exactly one remote call is issued.
// (nil, nil) means the remote side has no profile for the subject.
func (c *ProfileCache) Lookup(subjectID, credential string) (*RemoteProfile, error) {
	c.mutex.Lock()
	if entry, ok := c.entries[subjectID]; ok {
		c.mutex.Unlock()
		// Cached entries have a closed channel, so this only blocks while a
		// fetch is in flight.
		<-entry.ready
		return entry.profile, entry.err
	}

	entry := &cacheEntry{ready: make(chan struct{})}
	c.entries[subjectID] = entry
	c.mutex.Unlock()

	c.metrics.IncCounter(MetricRemoteCallUsersInfo)
	profile, err := c.lookup.GetUserProfile(subjectID, credential)

	c.mutex.Lock()
	switch {
	case err != nil:
		// Transport failure: propagate to every waiter, cache nothing.
		entry.err = errors.Wrap(err, "remote profile lookup failed")
		c.removeLocked(subjectID, entry)
	case profile == nil:
		// Well-formed response without a profile payload. Not cached, so the
		// next lookup re-issues the remote call.
		c.logger.LogWarn("Remote profile lookup returned no profile", "subject_id", subjectID)
		c.removeLocked(subjectID, entry)
	default:
		entry.profile = profile
		c.scheduleEvictionLocked(subjectID, entry)
	}
	c.mutex.Unlock()

	close(entry.ready)
	return entry.profile, entry.err
}

// scheduleEvictionLocked arms the one-shot eviction timer for a freshly
// cached entry. The timer is the sole eviction trigger; reads never check
// expiry themselves. Eviction only removes the exact entry it was armed for,
// so a later re-fetch is never evicted early.
func (c *ProfileCache) scheduleEvictionLocked(subjectID string, entry *cacheEntry) {
	time.AfterFunc(c.ttl, func() {
		c.mutex.Lock()
		c.removeLocked(subjectID, entry)
		c.mutex.Unlock()
		c.logger.LogDebug("Evicted cached remote profile", "subject_id", subjectID)
	})
}

// removeLocked deletes the subject's slot if it still holds the given entry.
func (c *ProfileCache) removeLocked(subjectID string, entry *cacheEntry) {
	if current, ok := c.entries[subjectID]; ok && current == entry {
		delete(c.entries, subjectID)
	}
}
