package bridge

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/matrix"
)

// ProfileSynchronizer mirrors a remote user's display name and avatar onto
// their Matrix ghost. Sync is best-effort per event: each path catches and
// logs its own failures so one broken attribute never blocks the other, and
// a skipped update is retried naturally on the next inbound event.
type ProfileSynchronizer struct {
	cache        *ProfileCache
	ghosts       *GhostStore
	media        *MediaRelay
	matrixClient *matrix.Client
	logger       Logger
}

// NewProfileSynchronizer wires the synchronizer to its collaborators. The
// profile cache is passed in explicitly and may be shared with other
// components.
func NewProfileSynchronizer(cache *ProfileCache, ghosts *GhostStore, media *MediaRelay, matrixClient *matrix.Client, logger Logger) *ProfileSynchronizer {
	return &ProfileSynchronizer{
		cache:        cache,
		ghosts:       ghosts,
		media:        media,
		matrixClient: matrixClient,
		logger:       logger,
	}
}

// Update runs display-name and avatar sync for the event's sender. Both run
// to completion regardless of individual failures. Without a workspace
// credential on the link the event cannot be enriched, which is a no-op, not
// an error. Sync is serialized per subject so concurrent deliveries can't
// both act on the pre-sync record state.
func (s *ProfileSynchronizer) Update(event *MessageEvent, link *ChannelLink) {
	if link.AccessToken == "" {
		s.logger.LogDebug("Channel link has no access token, skipping profile sync", "channel_id", link.SlackChannelID)
		return
	}

	unlock := s.ghosts.LockSubject(event.UserID)
	defer unlock()

	if err := s.syncDisplayName(event, link); err != nil {
		s.logger.LogError("Failed to sync display name", "error", err, "subject_id", event.UserID)
	}
	if err := s.syncAvatar(event, link); err != nil {
		s.logger.LogError("Failed to sync avatar", "error", err, "subject_id", event.UserID)
	}
}

// syncDisplayName pushes the sender's display name to the ghost when it
// changed. An inline name on the event is preferred over a remote lookup.
func (s *ProfileSynchronizer) syncDisplayName(event *MessageEvent, link *ChannelLink) error {
	record, err := s.ghosts.GetRecord(event.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to load ghost record")
	}

	displayName := event.Username
	if displayName == "" {
		profile, err := s.cache.Lookup(event.UserID, link.AccessToken)
		if err != nil {
			return errors.Wrap(err, "failed to look up remote profile")
		}
		if profile != nil {
			displayName = profile.DisplayName
		}
	}

	if displayName == "" || displayName == record.DisplayName {
		return nil
	}

	ghostUserID, err := s.ghosts.CreateOrGetGhostUser(event.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to create or get ghost user")
	}

	if err := s.matrixClient.SetDisplayName(ghostUserID, displayName); err != nil {
		return errors.Wrap(err, "failed to set ghost display name")
	}

	snapshot, err := s.ghosts.UpdateRecord(event.UserID, func(r *GhostRecord) {
		r.DisplayName = displayName
	})
	if err != nil {
		return errors.Wrap(err, "failed to update ghost record")
	}
	s.persist(snapshot)

	s.logger.LogDebug("Updated ghost display name", "subject_id", event.UserID, "ghost_user_id", ghostUserID, "display_name", displayName)
	return nil
}

// syncAvatar re-hosts the sender's avatar through the content repository and
// pushes the resulting reference to the ghost when the source image changed.
func (s *ProfileSynchronizer) syncAvatar(event *MessageEvent, link *ChannelLink) error {
	record, err := s.ghosts.GetRecord(event.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to load ghost record")
	}

	profile, err := s.cache.Lookup(event.UserID, link.AccessToken)
	if err != nil {
		return errors.Wrap(err, "failed to look up remote profile")
	}
	if profile == nil {
		return nil
	}

	avatarURL := profile.AvatarURL()
	if avatarURL == "" || avatarURL == record.AvatarRef {
		return nil
	}

	title := avatarFilename(avatarURL)
	if title == "" {
		// No extractable filename segment; skip silently.
		s.logger.LogDebug("Avatar URL has no filename segment, skipping", "subject_id", event.UserID, "avatar_url", avatarURL)
		return nil
	}

	contentURI, err := s.media.Relay(avatarURL, title, "")
	if err != nil {
		return errors.Wrap(err, "failed to relay avatar")
	}

	ghostUserID, err := s.ghosts.CreateOrGetGhostUser(event.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to create or get ghost user")
	}

	if err := s.matrixClient.SetAvatarURL(ghostUserID, contentURI); err != nil {
		return errors.Wrap(err, "failed to set ghost avatar")
	}

	snapshot, err := s.ghosts.UpdateRecord(event.UserID, func(r *GhostRecord) {
		r.AvatarRef = avatarURL
	})
	if err != nil {
		return errors.Wrap(err, "failed to update ghost record")
	}
	s.persist(snapshot)

	s.logger.LogDebug("Updated ghost avatar", "subject_id", event.UserID, "ghost_user_id", ghostUserID, "avatar_url", avatarURL, "content_uri", contentURI)
	return nil
}

// persist dispatches a fire-and-forget write of a record snapshot. The
// snapshot is taken under the store mutex before the goroutine starts, so the
// persisted values are exactly the ones just applied.
func (s *ProfileSynchronizer) persist(record GhostRecord) {
	go func() {
		if err := s.ghosts.PutRecord(&record); err != nil {
			s.logger.LogWarn("Failed to persist ghost record", "error", err, "subject_id", record.ID)
		}
	}()
}

// avatarFilename extracts the final path segment of an avatar URL, ignoring
// any query string.
func avatarFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.TrimSuffix(parsed.Path, "/"), "/")
	return segments[len(segments)-1]
}
