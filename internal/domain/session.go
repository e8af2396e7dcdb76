package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle status of a call session
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "ACTIVE"
	SessionStatusEnded  SessionStatus = "ENDED"
)

// Role represents a participant's role within a session
type Role string

const (
	RoleHost        Role = "HOST"
	RoleModerator   Role = "MODERATOR"
	RoleParticipant Role = "PARTICIPANT"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleModerator, RoleParticipant:
		return true
	}
	return false
}

// ConnectionState represents a participant's connection state machine value
type ConnectionState string

const (
	ConnInvited      ConnectionState = "INVITED"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnLeft         ConnectionState = "LEFT"
	ConnKicked       ConnectionState = "KICKED"
)

// Terminal reports whether the state admits no further transitions
func (s ConnectionState) Terminal() bool {
	return s == ConnLeft || s == ConnKicked
}

// Active reports whether the participant still occupies a capacity slot
func (s ConnectionState) Active() bool {
	return s == ConnInvited || s == ConnConnecting || s == ConnConnected || s == ConnDisconnected
}

// Participant represents one user's membership in a call session
type Participant struct {
	UserID       uuid.UUID       `json:"user_id"`
	Role         Role            `json:"role"`
	State        ConnectionState `json:"connection_state"`
	AudioEnabled bool            `json:"audio_enabled"`
	VideoEnabled bool            `json:"video_enabled"`
	JoinedAt     time.Time       `json:"joined_at"`
	LeftAt       *time.Time      `json:"left_at,omitempty"`
}

// CallSession represents one group call. All mutation happens inside the
// owning session actor; this struct carries no locking of its own.
type CallSession struct {
	ID        uuid.UUID     `json:"session_id"`
	HostID    uuid.UUID     `json:"host_id"`
	Status    SessionStatus `json:"status"`
	Capacity  int           `json:"capacity"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`

	// Participants keyed by user ID. Entries are never removed while the
	// session is active so the moderation history stays auditable; order
	// holds insertion order for deterministic moderation listings.
	Participants map[uuid.UUID]*Participant `json:"-"`
	Order        []uuid.UUID                `json:"-"`
}

// NewCallSession creates an ACTIVE session with the given host pre-registered
// as an INVITED participant holding the HOST role.
func NewCallSession(id, hostID uuid.UUID, capacity int) *CallSession {
	s := &CallSession{
		ID:           id,
		HostID:       hostID,
		Status:       SessionStatusActive,
		Capacity:     capacity,
		CreatedAt:    time.Now().UTC(),
		Participants: make(map[uuid.UUID]*Participant),
	}
	s.AddParticipant(&Participant{
		UserID:       hostID,
		Role:         RoleHost,
		State:        ConnInvited,
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     s.CreatedAt,
	})
	return s
}

// AddParticipant inserts a participant, replacing any finalized entry for the
// same user while keeping the original insertion position.
func (s *CallSession) AddParticipant(p *Participant) {
	if _, exists := s.Participants[p.UserID]; !exists {
		s.Order = append(s.Order, p.UserID)
	}
	s.Participants[p.UserID] = p
}

// ActiveCount counts participants currently occupying a capacity slot.
// Terminal entries stay in Participants for the moderation history, so the
// map itself can grow past Capacity over a session's lifetime; admission
// enforces the limit against this count, which cannot.
func (s *CallSession) ActiveCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.State.Active() {
			n++
		}
	}
	return n
}

// ParticipantsInOrder returns participants in insertion order
func (s *CallSession) ParticipantsInOrder() []*Participant {
	out := make([]*Participant, 0, len(s.Order))
	for _, id := range s.Order {
		if p, ok := s.Participants[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ModerationType represents the kind of a moderation action
type ModerationType string

const (
	ModerationMute       ModerationType = "MUTE"
	ModerationUnmute     ModerationType = "UNMUTE"
	ModerationVideoOff   ModerationType = "VIDEO_OFF"
	ModerationVideoOn    ModerationType = "VIDEO_ON"
	ModerationKick       ModerationType = "KICK"
	ModerationRoleChange ModerationType = "ROLE_CHANGE"
)

// Valid reports whether the moderation type is one of the known actions
func (t ModerationType) Valid() bool {
	switch t {
	case ModerationMute, ModerationUnmute, ModerationVideoOff, ModerationVideoOn, ModerationKick, ModerationRoleChange:
		return true
	}
	return false
}

// ModerationAction is an audit record of a privileged mutation of another
// participant's state
type ModerationAction struct {
	Type      ModerationType `json:"type"`
	ActorID   uuid.UUID      `json:"actor_id"`
	TargetID  uuid.UUID      `json:"target_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionSummary is the aggregate the analytics pipeline produces for one
// finished session
type SessionSummary struct {
	SessionID        uuid.UUID              `json:"session_id"`
	HostID           uuid.UUID              `json:"host_id"`
	CreatedAt        time.Time              `json:"created_at"`
	EndedAt          *time.Time             `json:"ended_at,omitempty"`
	DurationSeconds  int                    `json:"duration_seconds"`
	PeakParticipants int                    `json:"peak_participants"`
	TotalJoins       int                    `json:"total_joins"`
	ModerationCounts map[ModerationType]int `json:"moderation_counts"`
}
