package coordinator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"callcoord-backend/internal/domain"
	apperrors "callcoord-backend/pkg/errors"
)

// connView is the relay-facing lookup table: participant connection state
// plus the attached delivery queue. The session actor is its only writer;
// the relay only reads. This keeps signaling entirely off the actor's
// command queue.
type connView struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]connEntry
}

type connEntry struct {
	state domain.ConnectionState
	queue *OutboundQueue
}

func newConnView() *connView {
	return &connView{entries: make(map[uuid.UUID]connEntry)}
}

func (v *connView) set(userID uuid.UUID, state domain.ConnectionState, queue *OutboundQueue) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[userID] = connEntry{state: state, queue: queue}
}

func (v *connView) remove(userID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, userID)
}

func (v *connView) clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = make(map[uuid.UUID]connEntry)
}

func (v *connView) get(userID uuid.UUID) (connEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[userID]
	return e, ok
}

// Relay forwards an opaque signaling payload (offer/answer/ICE blob) from one
// CONNECTED participant to another. The payload is never inspected. Delivery
// is fire-and-forget onto the target's bounded outbound queue: messages from
// the same sender to the same target keep their order, and a full queue drops
// its oldest signaling message, which is surfaced to that message's sender as
// SignalingBacklogDropped.
func (a *Actor) Relay(from, to uuid.UUID, payload json.RawMessage) error {
	if a.Ended() {
		return apperrors.SessionNotFoundError()
	}
	sender, ok := a.conns.get(from)
	if !ok || sender.state != domain.ConnConnected {
		return apperrors.ParticipantNotConnectedError("sender is not connected")
	}
	target, ok := a.conns.get(to)
	if !ok || target.state != domain.ConnConnected || target.queue == nil {
		return apperrors.ParticipantNotConnectedError("target is not connected")
	}

	ev := relayedSignal(a.id, from, to, payload)
	ev.Timestamp = time.Now().UTC()
	evicted := target.queue.Push(ev)
	a.metrics.RecordSignalRelayed()
	if evicted != nil && evicted.Type == domain.EventSignal {
		// Best-effort notice to the evicted message's sender; the relay
		// call itself still delivered.
		if evicted.SenderID == from {
			a.metrics.RecordSignalDropped()
			return apperrors.SignalingBacklogDroppedError()
		}
		if e, ok := a.conns.get(evicted.SenderID); ok && e.queue != nil {
			e.queue.Push(&domain.Event{
				Type:      domain.EventSignalBacklogDropped,
				SessionID: a.id,
				UserID:    to,
				Timestamp: time.Now().UTC(),
			})
		}
		a.metrics.RecordSignalDropped()
	}
	return nil
}
