package model

import (
	"encoding/json"
	"time"
)

// FrameType is the type tag of an event transport frame.
type FrameType string

const (
	FrameSubscribe      FrameType = "subscribe"
	FrameMessagesUpsert FrameType = "messages.upsert"
	FrameMessageUpdate  FrameType = "message_update"
)

// Frame is one JSON frame on the event transport.
type Frame struct {
	Type      FrameType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MessagesUpsert is the data of a messages.upsert frame.
type MessagesUpsert struct {
	Messages []Message `json:"messages"`
}

// MessageUpdate is the data of a message_update frame.
type MessageUpdate struct {
	MessageID string `json:"messageId"`
	MediaURL  string `json:"mediaUrl"`
}

// Action names an ownership transition.
type Action string

const (
	ActionTakeover Action = "takeover"
	ActionRelease  Action = "release"
	ActionHandover Action = "handover"
)

// OwnershipTransition is the audit record of one committed ownership change.
type OwnershipTransition struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chatId"`
	Action       Action    `json:"action"`
	FromOwner    string    `json:"fromOwner"`
	ToOwner      string    `json:"toOwner"`
	ActorAgentID string    `json:"actorAgentId"`
	Notes        string    `json:"notes,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventType is the type of a console event.
type EventType string

const (
	EventChatsChanged      EventType = "chats_changed"
	EventMessagesChanged   EventType = "messages_changed"
	EventConnection        EventType = "connection"
	EventOwnershipChanged  EventType = "ownership_changed"
	EventActionFailed      EventType = "action_failed"
	EventSnapshotRefetched EventType = "snapshot_refetched"
)

// ConsoleEvent is published to the event stream and to SSE subscribers.
type ConsoleEvent struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	SessionID string         `json:"sessionId"`
	ChatID    string         `json:"chatId,omitempty"`
	Type      EventType      `json:"type"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Sequence  uint64         `json:"sequence,omitempty"`
}

// HeartbeatEvent keeps SSE connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
