// Package bridge implements the Slack-to-Matrix relay core: remote profile
// caching, profile synchronization onto Matrix ghost users, media re-hosting
// and message relay with event-correlation bookkeeping.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/matrix"
	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

// ChannelLink maps a Slack channel to a Matrix room and carries the workspace
// access token used for remote lookups on behalf of that channel.
type ChannelLink struct {
	SlackChannelID string `json:"slack_channel_id"`
	MatrixRoomID   string `json:"matrix_room_id"`
	AccessToken    string `json:"access_token"`
}

// Bridge owns the relay components and their shared collaborators.
type Bridge struct {
	logger  Logger
	metrics *CounterMetrics

	kv           kvstore.KVStore
	matrixClient *matrix.Client

	ghosts       *GhostStore
	profileCache *ProfileCache
	profileSync  *ProfileSynchronizer
	mediaRelay   *MediaRelay
	messageRelay *MessageRelay
	eventMap     *EventMapStore
	eventTracker *EventTracker

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex
	configuration     *Configuration
}

// New assembles a bridge from its configuration and KV store.
func New(config *Configuration, kv kvstore.KVStore, logger Logger) *Bridge {
	metrics := NewCounterMetrics()
	matrixClient := matrix.NewClient(config.MatrixServerURL, config.MatrixASToken, config.MatrixServerDomain)

	ghosts := NewGhostStore(kv, matrixClient, config.GetGhostUsernamePrefix(), logger)
	lookup := NewSlackProfileLookup(config.SlackAPIURL)
	cache := NewProfileCache(lookup, metrics, logger)
	mediaRelay := NewMediaRelay(matrixClient, logger)
	eventMap := NewEventMapStore(kv)

	return &Bridge{
		logger:        logger,
		metrics:       metrics,
		kv:            kv,
		matrixClient:  matrixClient,
		ghosts:        ghosts,
		profileCache:  cache,
		profileSync:   NewProfileSynchronizer(cache, ghosts, mediaRelay, matrixClient, logger),
		mediaRelay:    mediaRelay,
		messageRelay:  NewMessageRelay(matrixClient, ghosts, eventMap, metrics, logger),
		eventMap:      eventMap,
		eventTracker:  NewEventTracker(DefaultEventTrackerMaxEntries),
		configuration: config,
	}
}

// TestConnection checks homeserver reachability with the configured AS token.
func (b *Bridge) TestConnection() error {
	return b.matrixClient.TestConnection()
}

// Metrics exposes the bridge's counter set.
func (b *Bridge) Metrics() *CounterMetrics {
	return b.metrics
}

// GetChannelLink loads the link record for a Slack channel, or nil when the
// channel is not bridged.
func (b *Bridge) GetChannelLink(channelID string) (*ChannelLink, error) {
	data, err := b.kv.Get(kvstore.BuildChannelLinkKey(channelID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load channel link")
	}
	if len(data) == 0 {
		return nil, nil
	}

	var link ChannelLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal channel link")
	}
	return &link, nil
}

// PutChannelLink stores a channel link record.
func (b *Bridge) PutChannelLink(link *ChannelLink) error {
	data, err := json.Marshal(link)
	if err != nil {
		return errors.Wrap(err, "failed to marshal channel link")
	}
	if err := b.kv.Set(kvstore.BuildChannelLinkKey(link.SlackChannelID), data); err != nil {
		return errors.Wrap(err, "failed to store channel link")
	}
	return nil
}

// HandleMessageEvent relays one inbound remote message: profile sync first,
// then the message itself. Profile sync failures never block the relay.
func (b *Bridge) HandleMessageEvent(event *MessageEvent) error {
	link, err := b.GetChannelLink(event.ChannelID)
	if err != nil {
		return errors.Wrap(err, "failed to resolve channel link")
	}
	if link == nil {
		b.logger.LogDebug("No Matrix room linked for channel", "channel_id", event.ChannelID)
		return nil
	}

	b.profileSync.Update(event, link)
	b.ghosts.BumpActivity(event.UserID)

	displayText := b.displayTextFor(event)
	if _, err := b.messageRelay.RelayText(link, event, displayText); err != nil {
		return errors.Wrap(err, "failed to relay message")
	}
	return nil
}

// displayTextFor picks the text self-mentions are rewritten to: the applied
// ghost display name when one exists, the inline event name otherwise, the
// raw subject ID as a last resort.
func (b *Bridge) displayTextFor(event *MessageEvent) string {
	if record, err := b.ghosts.GetRecord(event.UserID); err == nil && record.DisplayName != "" {
		return record.DisplayName
	}
	if event.Username != "" {
		return event.Username
	}
	return event.UserID
}
