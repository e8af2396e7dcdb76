package coordinator

import (
	"encoding/json"

	"github.com/google/uuid"

	"callcoord-backend/internal/domain"
)

// Commands form the closed set of mutations a session actor processes. Every
// command for a session funnels through the actor's queue in arrival order;
// that single FIFO is the only concurrency control participant state needs.

type command interface {
	name() string
}

type joinReply struct {
	snapshot *domain.SessionSnapshot
	err      error
}

// joinCmd admits a user, reactivates a disconnected one, or rejects with
// SessionFull/Banned. queue may be nil when the join arrives over a
// transport that attaches its delivery channel later.
type joinCmd struct {
	userID uuid.UUID
	queue  *OutboundQueue
	reply  chan joinReply
}

func (joinCmd) name() string { return "join" }

// readyCmd is the signaling-ready acknowledgment that moves a participant
// from CONNECTING to CONNECTED.
type readyCmd struct {
	userID uuid.UUID
	reply  chan error
}

func (readyCmd) name() string { return "ready" }

type leaveCmd struct {
	userID uuid.UUID
	reply  chan error
}

func (leaveCmd) name() string { return "leave" }

type disconnectCmd struct {
	userID uuid.UUID
	reply  chan error
}

func (disconnectCmd) name() string { return "disconnect" }

// disconnectTimeoutCmd is injected by the reconnection grace timer. The epoch
// guard makes a timer that lost the race against a reconnect a no-op; it
// executes in its queue position like any other command.
type disconnectTimeoutCmd struct {
	userID uuid.UUID
	epoch  uint64
}

func (disconnectTimeoutCmd) name() string { return "disconnect_timeout" }

type moderateCmd struct {
	actorID  uuid.UUID
	targetID uuid.UUID
	action   domain.ModerationType
	reply    chan error
}

func (moderateCmd) name() string { return "moderate" }

type changeRoleCmd struct {
	actorID  uuid.UUID
	targetID uuid.UUID
	role     domain.Role
	reply    chan error
}

func (changeRoleCmd) name() string { return "change_role" }

type endCmd struct {
	actorID uuid.UUID
	system  bool
	reply   chan error
}

func (endCmd) name() string { return "end" }

type snapshotCmd struct {
	reply chan *domain.SessionSnapshot
}

func (snapshotCmd) name() string { return "snapshot" }

// auditCmd reads the in-memory moderation audit trail
type auditCmd struct {
	reply chan []domain.ModerationAction
}

func (auditCmd) name() string { return "audit" }

// relayedSignal is what the relay pushes onto a target queue; kept here so
// the relay and the actor agree on the wire shape.
func relayedSignal(sessionID, from, to uuid.UUID, payload json.RawMessage) *domain.Event {
	return &domain.Event{
		Type:      domain.EventSignal,
		SessionID: sessionID,
		SenderID:  from,
		UserID:    to,
		Payload:   payload,
	}
}
