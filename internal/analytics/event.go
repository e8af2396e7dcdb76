package analytics

import (
	"time"

	"github.com/google/uuid"

	"callcoord-backend/internal/domain"
)

// Kind enumerates the state-transition events session actors emit
type Kind string

const (
	KindSessionCreated Kind = "session_created"
	KindJoin           Kind = "participant_joined"
	KindLeave          Kind = "participant_left"
	KindDisconnect     Kind = "participant_disconnected"
	KindReconnect      Kind = "participant_reconnected"
	KindModeration     Kind = "moderation"
	KindHostChange     Kind = "host_changed"
	KindSessionEnded   Kind = "session_ended"
)

// Event is one committed state transition. Delivery to the aggregator is
// at-most-once; the session path never blocks on it.
type Event struct {
	Kind      Kind
	SessionID uuid.UUID
	HostID    uuid.UUID
	UserID    uuid.UUID
	ActorID   uuid.UUID
	Action    domain.ModerationType
	// ActiveParticipants is the post-transition active count, used for the
	// peak-concurrency summary.
	ActiveParticipants int
	Timestamp          time.Time
}

// Sink consumes committed events. Implementations must not block.
type Sink interface {
	Record(Event)
}

// NopSink discards everything; used when analytics is disabled and in tests
type NopSink struct{}

func (NopSink) Record(Event) {}
