package kvstore

// KV store key prefixes and constants
// This file centralizes all KV store key patterns used throughout the bridge
// to ensure consistency and avoid key conflicts.

const (
	// KeyPrefixGhostRecord is the prefix for Slack user ID -> ghost record storage
	KeyPrefixGhostRecord = "ghost_record_"
	// KeyPrefixGhostUser is the prefix for Slack user ID -> Matrix ghost user ID cache
	KeyPrefixGhostUser = "ghost_user_"
	// KeyPrefixGhostRoom is the prefix for ghost user room membership tracking
	KeyPrefixGhostRoom = "ghost_room_"

	// KeyPrefixChannelLink is the prefix for Slack channel ID -> channel link records
	KeyPrefixChannelLink = "channel_link_"

	// KeyPrefixSlackEvent is the prefix for Slack (channel, ts) -> Matrix event correlations
	KeyPrefixSlackEvent = "slack_event_"
	// KeyPrefixMatrixEvent is the prefix for Matrix event ID -> Slack event correlations
	KeyPrefixMatrixEvent = "matrix_event_"
)

// Helper functions for building KV store keys

// BuildGhostRecordKey creates a key for ghost record storage
func BuildGhostRecordKey(subjectID string) string {
	return KeyPrefixGhostRecord + subjectID
}

// BuildGhostUserKey creates a key for the ghost user ID cache
func BuildGhostUserKey(subjectID string) string {
	return KeyPrefixGhostUser + subjectID
}

// BuildGhostRoomKey creates a key for ghost user room membership
func BuildGhostRoomKey(subjectID, roomID string) string {
	return KeyPrefixGhostRoom + subjectID + "_" + roomID
}

// BuildChannelLinkKey creates a key for a channel link record
func BuildChannelLinkKey(channelID string) string {
	return KeyPrefixChannelLink + channelID
}

// BuildSlackEventKey creates a key for a Slack event -> Matrix event correlation
func BuildSlackEventKey(channelID, timestamp string) string {
	return KeyPrefixSlackEvent + channelID + "_" + timestamp
}

// BuildMatrixEventKey creates a key for a Matrix event -> Slack event correlation
func BuildMatrixEventKey(eventID string) string {
	return KeyPrefixMatrixEvent + eventID
}
