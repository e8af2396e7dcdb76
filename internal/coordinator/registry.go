package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcoord-backend/internal/analytics"
	apperrors "callcoord-backend/pkg/errors"
	"callcoord-backend/pkg/metrics"
)

// Registry is the process-wide table of active session actors. It is the only
// structure shared across sessions, so it stays minimal: session id to actor
// handle. Lookups run concurrently; only create and retire serialize.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Actor

	cfg     Config
	sink    analytics.Sink
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, sink analytics.Sink, m *metrics.Metrics, log *zap.Logger) *Registry {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Actor),
		cfg:      cfg,
		sink:     sink,
		metrics:  m,
		log:      log,
	}
}

// CreateSession starts a new session actor with hostID as the pre-registered
// HOST. Fails with CapacityExceeded only when a global concurrent-session
// limit is configured and reached.
func (r *Registry) CreateSession(hostID uuid.UUID) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, apperrors.CapacityExceededError()
	}
	id := uuid.New()
	actor := newActor(id, hostID, r.cfg, r.sink, r.metrics, r.log, r.retire)
	r.sessions[id] = actor
	r.metrics.RecordSessionCreated()
	r.metrics.SetActiveSessions(len(r.sessions))
	r.log.Info("session created",
		zap.String("session_id", id.String()),
		zap.String("host_id", hostID.String()))

	r.sink.Record(analytics.Event{
		Kind:               analytics.KindSessionCreated,
		SessionID:          id,
		HostID:             hostID,
		ActiveParticipants: 1,
		Timestamp:          time.Now().UTC(),
	})
	return actor, nil
}

// Get returns the actor for a session, or SessionNotFound when the id is
// unknown or the session already ended
func (r *Registry) Get(sessionID uuid.UUID) (*Actor, error) {
	r.mu.RLock()
	actor, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok || actor.Ended() {
		return nil, apperrors.SessionNotFoundError()
	}
	return actor, nil
}

// ActiveCount returns the number of registered sessions, ended-but-not-yet-
// retired ones included
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// retire is invoked by a session actor when it self-terminates. The entry
// lingers for the grace period so late analytics reads still resolve, then
// it is garbage-collected.
func (r *Registry) retire(sessionID uuid.UUID) {
	r.metrics.RecordSessionEnded()
	time.AfterFunc(r.cfg.RetireGrace, func() {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		count := len(r.sessions)
		r.mu.Unlock()
		r.metrics.SetActiveSessions(count)
		r.log.Info("session retired", zap.String("session_id", sessionID.String()))
	})
}

// Shutdown ends every active session so connected clients receive
// session_ended before the process exits
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	actors := make([]*Actor, 0, len(r.sessions))
	for _, a := range r.sessions {
		actors = append(actors, a)
	}
	r.mu.RUnlock()

	for _, a := range actors {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = a.EndBySystem()
	}
}
