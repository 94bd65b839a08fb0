package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// MessageEvent is an inbound message event from the Slack Events API.
type MessageEvent struct {
	Type      string `json:"type"`
	SubType   string `json:"subtype,omitempty"`
	UserID    string `json:"user"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	ChannelID string `json:"channel"`
	Timestamp string `json:"ts"`
}

// eventEnvelope is the outer Slack Events API payload.
type eventEnvelope struct {
	Token     string          `json:"token"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// Router builds the bridge's HTTP surface: the Slack events webhook plus the
// authenticated admin API.
func (b *Bridge) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/slack/events", b.handleSlackEvent).Methods(http.MethodPost)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(b.AdminAuthorizationRequired)
	apiRouter.HandleFunc("/metrics", b.handleMetrics).Methods(http.MethodGet)
	apiRouter.HandleFunc("/links", b.handleCreateLink).Methods(http.MethodPost)

	return router
}

// AdminAuthorizationRequired is a middleware that requires the shared admin secret.
func (b *Bridge) AdminAuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := b.getConfiguration().AdminSecret
		provided := r.Header.Get("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleSlackEvent processes one Events API delivery: the url_verification
// handshake, then message events. Redeliveries of an already-processed event
// are acknowledged without relaying again.
func (b *Bridge) handleSlackEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		b.logger.LogWarn("Failed to read webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		b.logger.LogWarn("Failed to parse webhook payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	expectedToken := b.getConfiguration().SlackVerificationToken
	if subtle.ConstantTimeCompare([]byte(envelope.Token), []byte(expectedToken)) != 1 {
		b.logger.LogWarn("Webhook received with invalid verification token")
		http.Error(w, "Not authorized", http.StatusUnauthorized)
		return
	}

	switch envelope.Type {
	case "url_verification":
		b.writeJSON(w, map[string]string{"challenge": envelope.Challenge})
	case "event_callback":
		b.handleEventCallback(w, envelope)
	default:
		b.logger.LogDebug("Ignoring webhook payload of unknown type", "type", envelope.Type)
		b.writeJSON(w, map[string]string{})
	}
}

func (b *Bridge) handleEventCallback(w http.ResponseWriter, envelope eventEnvelope) {
	var event MessageEvent
	if err := json.Unmarshal(envelope.Event, &event); err != nil {
		b.logger.LogWarn("Failed to parse inner event", "error", err, "event_id", envelope.EventID)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Only plain user messages are relayed; joins, topic changes and bot
	// messages arrive as subtyped events.
	if event.Type != "message" || event.SubType != "" || event.UserID == "" {
		b.logger.LogDebug("Ignoring non-message event", "type", event.Type, "subtype", event.SubType)
		b.writeJSON(w, map[string]string{})
		return
	}

	eventKey := event.ChannelID + "_" + event.Timestamp
	if b.eventTracker.Seen(eventKey) {
		b.logger.LogDebug("Duplicate event delivery ignored", "event_key", eventKey)
		b.writeJSON(w, map[string]string{})
		return
	}
	if err := b.eventTracker.Mark(eventKey); err != nil {
		b.logger.LogWarn("Failed to track event", "error", err, "event_key", eventKey)
		// Continue anyway - a duplicate relay is preferable to a dropped message
	}

	if err := b.HandleMessageEvent(&event); err != nil {
		b.logger.LogError("Failed to handle message event", "error", err, "channel_id", event.ChannelID, "ts", event.Timestamp)
		// Respond 200 regardless so Slack doesn't retry a poisoned event
	}

	b.writeJSON(w, map[string]string{})
}

// handleMetrics returns the counter snapshot as JSON.
func (b *Bridge) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, b.metrics.Snapshot())
}

// createLinkRequest is the admin API payload for linking a channel to a room.
type createLinkRequest struct {
	SlackChannelID string `json:"slack_channel_id"`
	MatrixRoomID   string `json:"matrix_room_id"`
	AccessToken    string `json:"access_token"`
}

// handleCreateLink validates and stores a channel link. The access token is
// probed with auth.test and the room identifier resolved before anything is
// written.
func (b *Bridge) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var request createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if request.SlackChannelID == "" || request.MatrixRoomID == "" {
		http.Error(w, "slack_channel_id and matrix_room_id are required", http.StatusBadRequest)
		return
	}

	if request.AccessToken != "" {
		identity, err := b.VerifySlackCredential(request.AccessToken)
		if err != nil {
			b.logger.LogWarn("Channel link access token failed verification", "error", err, "channel_id", request.SlackChannelID)
			http.Error(w, "Access token failed verification", http.StatusBadRequest)
			return
		}
		b.logger.LogInfo("Verified workspace access token", "channel_id", request.SlackChannelID, "team", identity.Team, "bot_user", identity.UserID)
	}

	roomID, err := b.matrixClient.ResolveRoomAlias(request.MatrixRoomID)
	if err != nil {
		b.logger.LogWarn("Failed to resolve Matrix room identifier", "error", err, "room", request.MatrixRoomID)
		http.Error(w, "Failed to resolve Matrix room identifier", http.StatusBadRequest)
		return
	}

	link := &ChannelLink{
		SlackChannelID: request.SlackChannelID,
		MatrixRoomID:   roomID,
		AccessToken:    request.AccessToken,
	}
	if err := b.PutChannelLink(link); err != nil {
		b.logger.LogError("Failed to store channel link", "error", err, "channel_id", request.SlackChannelID)
		http.Error(w, "Failed to store channel link", http.StatusInternalServerError)
		return
	}

	b.logger.LogInfo("Linked channel to Matrix room", "channel_id", link.SlackChannelID, "room_id", link.MatrixRoomID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(link); err != nil {
		b.logger.LogWarn("Failed to write response", "error", err)
	}
}

func (b *Bridge) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		b.logger.LogWarn("Failed to write response", "error", err)
	}
}
