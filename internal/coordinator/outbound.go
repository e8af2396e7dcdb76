package coordinator

import (
	"sync"

	"callcoord-backend/internal/domain"
)

// OutboundQueue is the bounded, ordered delivery queue for one participant's
// connection. The session actor and the signaling relay push into it; the
// transport layer drains it. When the queue is full the oldest message is
// evicted so a slow consumer never blocks command processing.
type OutboundQueue struct {
	mu     sync.Mutex
	ch     chan *domain.Event
	closed bool
}

// NewOutboundQueue creates a queue holding at most size messages
func NewOutboundQueue(size int) *OutboundQueue {
	if size <= 0 {
		size = 1
	}
	return &OutboundQueue{ch: make(chan *domain.Event, size)}
}

// Push enqueues an event, evicting the oldest queued message when full.
// It returns the evicted event, if any, so the caller can surface a
// backlog-drop to the sender. Push on a closed queue is a no-op.
func (q *OutboundQueue) Push(ev *domain.Event) (evicted *domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	for {
		select {
		case q.ch <- ev:
			return evicted
		default:
		}
		select {
		case old := <-q.ch:
			// Keep the first eviction; a renegotiation covers the rest.
			if evicted == nil {
				evicted = old
			}
		default:
		}
	}
}

// C returns the receive side for the transport write pump. The channel is
// closed by Close.
func (q *OutboundQueue) C() <-chan *domain.Event {
	return q.ch
}

// Close shuts the queue; pending messages remain readable until drained
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether the queue has been shut
func (q *OutboundQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
