package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the closed set of messages delivered to session
// participants. Every state delta a client can observe is one of these.
type EventType string

const (
	EventSnapshot                EventType = "snapshot"
	EventParticipantJoined       EventType = "participant_joined"
	EventParticipantLeft         EventType = "participant_left"
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventParticipantReconnected  EventType = "participant_reconnected"
	EventParticipantKicked       EventType = "participant_kicked"
	EventAudioToggled            EventType = "audio_toggled"
	EventVideoToggled            EventType = "video_toggled"
	EventRoleChanged             EventType = "role_changed"
	EventHostChanged             EventType = "host_changed"
	EventSessionEnded            EventType = "session_ended"
	EventSignal                  EventType = "signal"
	EventSignalBacklogDropped    EventType = "signal_backlog_dropped"
	// EventError is a per-connection rejection of a client request; it is
	// never broadcast and carries no Seq.
	EventError EventType = "error"
)

// Event is a broadcast message for one session. Seq is assigned by the
// session actor at commit time; every participant observes events for a
// session in strictly increasing Seq order.
type Event struct {
	Type      EventType `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Subject of the delta, when there is one
	UserID uuid.UUID `json:"user_id,omitempty"`
	// Actor of a moderation delta
	ActorID uuid.UUID `json:"actor_id,omitempty"`

	Role    Role  `json:"role,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`

	// Snapshot payload, only on EventSnapshot
	Snapshot *SessionSnapshot `json:"snapshot,omitempty"`

	// Opaque signaling payload, only on EventSignal. Never inspected by
	// the coordinator.
	SenderID uuid.UUID       `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SessionSnapshot is the full-state view sent on initial join or reconnect
// instead of a delta
type SessionSnapshot struct {
	SessionID    uuid.UUID      `json:"session_id"`
	HostID       uuid.UUID      `json:"host_id"`
	Status       SessionStatus  `json:"status"`
	Capacity     int            `json:"capacity"`
	CreatedAt    time.Time      `json:"created_at"`
	Seq          uint64         `json:"seq"`
	Participants []*Participant `json:"participants"`
}

// BoolPtr is a small helper for delta payloads carrying an on/off flag
func BoolPtr(b bool) *bool { return &b }
