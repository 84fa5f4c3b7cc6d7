// Package protocol defines the jam session wire format exchanged between peers.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/jamtab/internal/domain/jam"
)

// EventType identifies the kind of envelope.
type EventType string

const (
	MemberJoined           EventType = "MEMBER_JOINED"
	MemberLeft             EventType = "MEMBER_LEFT"
	MemberUpdated          EventType = "MEMBER_UPDATED"
	QueueTabAdded          EventType = "QUEUE_TAB_ADDED"
	QueueTabRemoved        EventType = "QUEUE_TAB_REMOVED"
	QueueReordered         EventType = "QUEUE_REORDERED"
	TabStarted             EventType = "TAB_STARTED"
	ScrollPositionUpdated  EventType = "SCROLL_POSITION_UPDATED"
	SessionSettingsUpdated EventType = "SESSION_SETTINGS_UPDATED"
	SessionStateSync       EventType = "SESSION_STATE_SYNC"
)

var knownTypes = map[EventType]struct{}{
	MemberJoined:           {},
	MemberLeft:             {},
	MemberUpdated:          {},
	QueueTabAdded:          {},
	QueueTabRemoved:        {},
	QueueReordered:         {},
	TabStarted:             {},
	ScrollPositionUpdated:  {},
	SessionSettingsUpdated: {},
	SessionStateSync:       {},
}

// Known reports whether the type is part of the protocol.
func (t EventType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope is the message carried by the peer transport.
type Envelope struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SenderID  string          `json:"senderId"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// NewEnvelope encodes payload into an envelope stamped with the sender and time.
func NewEnvelope(t EventType, senderID string, payload any, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s payload", t)
	}
	return &Envelope{
		Type:      t,
		Payload:   data,
		SenderID:  senderID,
		Timestamp: now.UnixMilli(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.Newf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s payload", e.Type)
	}
	return nil
}

// Clone returns a copy that does not share the payload buffer.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	return &out
}

// Marshal encodes an envelope for the wire.
func Marshal(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return data, nil
}

// Unmarshal decodes an envelope from the wire.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "failed to decode envelope")
	}
	if e.Type == "" {
		return nil, errors.New("envelope has no type")
	}
	return &e, nil
}

// MemberJoinedPayload announces a new member.
type MemberJoinedPayload struct {
	Member jam.Member `json:"member"`
}

// MemberLeftPayload announces that a member left for good.
type MemberLeftPayload struct {
	MemberID string `json:"memberId"`
}

// MemberUpdatedPayload carries a partial member update.
type MemberUpdatedPayload struct {
	MemberID string         `json:"memberId"`
	Updates  map[string]any `json:"updates"`
}

// QueueTabAddedPayload carries a new queue entry.
type QueueTabAddedPayload struct {
	QueueTab jam.QueueEntry `json:"queueTab"`
}

// QueueTabRemovedPayload names a removed queue entry.
type QueueTabRemovedPayload struct {
	QueueTabID string `json:"queueTabId"`
}

// QueueReorderedPayload carries the full new queue.
type QueueReorderedPayload struct {
	QueueTabs []jam.QueueEntry `json:"queueTabs"`
}

// TabStartedPayload names the queue entry that became current.
type TabStartedPayload struct {
	TabID string `json:"tabId"`
}

// ScrollPositionUpdatedPayload carries a member's scroll position.
type ScrollPositionUpdatedPayload struct {
	MemberID   string `json:"memberId"`
	LineNumber int    `json:"lineNumber"`
}

// SessionSettingsUpdatedPayload carries a partial settings update.
type SessionSettingsUpdatedPayload struct {
	Settings map[string]any `json:"settings"`
}

// SessionStateSyncPayload carries a full session snapshot.
type SessionStateSyncPayload struct {
	Session *jam.Session `json:"session"`
}

// DecodeStateSync decodes a SESSION_STATE_SYNC envelope. Besides the typed
// session it returns the raw member objects, so a merge can tell which member
// fields the sender actually included.
func DecodeStateSync(e *Envelope) (*jam.Session, []map[string]any, error) {
	var typed SessionStateSyncPayload
	if err := e.Decode(&typed); err != nil {
		return nil, nil, err
	}
	if typed.Session == nil {
		return nil, nil, errors.New("state sync without session")
	}

	var raw struct {
		Session struct {
			Members []map[string]any `json:"members"`
		} `json:"session"`
	}
	if err := e.Decode(&raw); err != nil {
		return nil, nil, err
	}
	return typed.Session, raw.Session.Members, nil
}
