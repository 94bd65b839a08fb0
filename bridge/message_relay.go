package bridge

import (
	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/matrix"
)

// MessageRelay forwards remote messages into Matrix rooms through ghost users
// and records the cross-system event correlation.
type MessageRelay struct {
	matrixClient *matrix.Client
	ghosts       *GhostStore
	eventMap     *EventMapStore
	metrics      Metrics
	logger       Logger
}

// NewMessageRelay wires the relay to its collaborators.
func NewMessageRelay(matrixClient *matrix.Client, ghosts *GhostStore, eventMap *EventMapStore, metrics Metrics, logger Logger) *MessageRelay {
	return &MessageRelay{
		matrixClient: matrixClient,
		ghosts:       ghosts,
		eventMap:     eventMap,
		metrics:      metrics,
		logger:       logger,
	}
}

// RelayText forwards a textual message. Self-referential mention markup is
// rewritten to the sender's display text and the source markup is converted
// to rich formatting before sending; both transforms are pure and pass
// malformed input through unchanged.
func (r *MessageRelay) RelayText(link *ChannelLink, event *MessageEvent, displayText string) (string, error) {
	text := rewriteSelfMentions(event.Text, event.UserID, displayText)
	htmlBody := convertMarkdownToHTML(text)
	return r.Relay(link, event, text, htmlBody)
}

// Relay sends already-formatted content through the ghost user, increments
// the sent-message counter and records the event correlation. Returns the
// Matrix event ID.
func (r *MessageRelay) Relay(link *ChannelLink, event *MessageEvent, textBody, htmlBody string) (string, error) {
	ghostUserID, err := r.ghosts.CreateOrGetGhostUser(event.UserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to create or get ghost user")
	}

	if err := r.ghosts.EnsureGhostInRoom(ghostUserID, link.MatrixRoomID, event.UserID); err != nil {
		return "", errors.Wrap(err, "failed to ensure ghost user is in room")
	}

	var response *matrix.SendEventResponse
	if htmlBody != "" {
		response, err = r.matrixClient.SendFormattedMessageAsGhost(link.MatrixRoomID, textBody, htmlBody, ghostUserID)
	} else {
		response, err = r.matrixClient.SendMessageAsGhost(link.MatrixRoomID, textBody, ghostUserID)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to send message as ghost user")
	}

	r.metrics.IncCounter(MetricSentMessagesMatrix)

	correlation := EventCorrelation{
		MatrixRoomID:   link.MatrixRoomID,
		MatrixEventID:  response.EventID,
		SlackChannelID: link.SlackChannelID,
		SlackTimestamp: event.Timestamp,
	}
	if err := r.eventMap.Upsert(correlation); err != nil {
		r.logger.LogWarn("Failed to record event correlation", "error", err, "matrix_event_id", response.EventID, "slack_ts", event.Timestamp)
		// The message was delivered; correlation bookkeeping is best-effort
	}

	r.logger.LogDebug("Relayed message to Matrix", "ghost_user_id", ghostUserID, "room_id", link.MatrixRoomID, "event_id", response.EventID)
	return response.EventID, nil
}
