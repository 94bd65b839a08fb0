package bridge

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

// EventCorrelation ties a relayed Matrix event back to the Slack message that
// produced it.
type EventCorrelation struct {
	MatrixRoomID   string `json:"matrix_room_id"`
	MatrixEventID  string `json:"matrix_event_id"`
	SlackChannelID string `json:"slack_channel_id"`
	SlackTimestamp string `json:"slack_ts"`
}

// EventMapStore persists event correlations in both lookup directions.
type EventMapStore struct {
	kv kvstore.KVStore
}

// NewEventMapStore creates an event map over the given KV store.
func NewEventMapStore(kv kvstore.KVStore) *EventMapStore {
	return &EventMapStore{kv: kv}
}

// Upsert writes the correlation under both the Slack (channel, ts) key and
// the Matrix event ID key, replacing any previous record.
func (s *EventMapStore) Upsert(correlation EventCorrelation) error {
	data, err := json.Marshal(correlation)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event correlation")
	}

	if err := s.kv.Set(kvstore.BuildSlackEventKey(correlation.SlackChannelID, correlation.SlackTimestamp), data); err != nil {
		return errors.Wrap(err, "failed to store Slack event correlation")
	}
	if err := s.kv.Set(kvstore.BuildMatrixEventKey(correlation.MatrixEventID), data); err != nil {
		return errors.Wrap(err, "failed to store Matrix event correlation")
	}
	return nil
}

// GetBySlackEvent returns the correlation for a Slack (channel, ts) pair, or
// nil when none is recorded.
func (s *EventMapStore) GetBySlackEvent(channelID, timestamp string) (*EventCorrelation, error) {
	return s.get(kvstore.BuildSlackEventKey(channelID, timestamp))
}

// GetByMatrixEvent returns the correlation for a Matrix event ID, or nil when
// none is recorded.
func (s *EventMapStore) GetByMatrixEvent(eventID string) (*EventCorrelation, error) {
	return s.get(kvstore.BuildMatrixEventKey(eventID))
}

func (s *EventMapStore) get(key string) (*EventCorrelation, error) {
	data, err := s.kv.Get(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load event correlation")
	}
	if len(data) == 0 {
		return nil, nil
	}

	var correlation EventCorrelation
	if err := json.Unmarshal(data, &correlation); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event correlation")
	}
	return &correlation, nil
}
