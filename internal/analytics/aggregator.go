package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcoord-backend/internal/domain"
	pkgcontext "callcoord-backend/pkg/context"
	apperrors "callcoord-backend/pkg/errors"
	"callcoord-backend/pkg/metrics"
)

// SummaryStore persists finished session summaries
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary *domain.SessionSummary) error
	GetSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error)
}

// Trail receives session lifecycle entries for the audit log
type Trail interface {
	LogSessionCreated(ctx context.Context, sessionID, hostID uuid.UUID) error
	LogParticipantJoined(ctx context.Context, sessionID, userID uuid.UUID) error
	LogParticipantLeft(ctx context.Context, sessionID, userID uuid.UUID) error
	LogHostChange(ctx context.Context, sessionID, newHostID uuid.UUID) error
	LogModeration(ctx context.Context, sessionID, actorID, targetID uuid.UUID, action domain.ModerationType)
	LogSessionEnded(ctx context.Context, summary *domain.SessionSummary)
}

// Presence mirrors live session membership into an external store
type Presence interface {
	SetSessionActive(ctx context.Context, sessionID uuid.UUID) error
	SetSessionEnded(ctx context.Context, sessionID uuid.UUID) error
	AddParticipant(ctx context.Context, sessionID, userID uuid.UUID) error
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error
	CacheSummary(ctx context.Context, summary *domain.SessionSummary) error
	GetCachedSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error)
}

// summaryState is the per-session working aggregate while a session is live
type summaryState struct {
	hostID           uuid.UUID
	createdAt        time.Time
	peakParticipants int
	totalJoins       int
	moderationCounts map[domain.ModerationType]int
}

// Aggregator consumes session state transitions off the hot path and rolls
// them into per-session summaries. Record never blocks: when the buffer is
// full the event is dropped, so session state stays authoritative in the
// actors and analytics is strictly best-effort.
type Aggregator struct {
	events   chan Event
	store    SummaryStore
	trail    Trail
	presence Presence

	mu        sync.RWMutex
	live      map[uuid.UUID]*summaryState
	completed map[uuid.UUID]*domain.SessionSummary

	metrics *metrics.Metrics
	log     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewAggregator creates an aggregator and starts its consumer goroutine.
// store, trail and presence may each be nil; summaries are then kept in
// memory only.
func NewAggregator(bufferSize int, store SummaryStore, trail Trail, presence Presence, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	a := &Aggregator{
		events:    make(chan Event, bufferSize),
		store:     store,
		trail:     trail,
		presence:  presence,
		live:      make(map[uuid.UUID]*summaryState),
		completed: make(map[uuid.UUID]*domain.SessionSummary),
		metrics:   m,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

// Record implements Sink. It never blocks: a full buffer drops the event.
func (a *Aggregator) Record(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.metrics.RecordAnalyticsDropped()
	}
}

// Close drains buffered events and stops the consumer
func (a *Aggregator) Close() {
	close(a.stop)
	<-a.done
}

func (a *Aggregator) run() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.events:
			a.consume(ev)
		case <-a.stop:
			// Drain what is already buffered, then exit.
			for {
				select {
				case ev := <-a.events:
					a.consume(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) consume(ev Event) {
	a.metrics.RecordAnalyticsEvent(string(ev.Kind))

	summary := a.apply(ev)
	if summary != nil {
		a.flush(summary)
	}
	a.mirror(ev)
}

// apply folds the event into the per-session aggregate. It returns the
// finished summary when the event ends a session, nil otherwise.
func (a *Aggregator) apply(ev Event) *domain.SessionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.live[ev.SessionID]
	if state == nil {
		if ev.Kind != KindSessionCreated {
			// Late event for an unknown session; creation was dropped or the
			// summary already flushed. At-most-once delivery makes this fine.
			return nil
		}
		state = &summaryState{
			hostID:           ev.HostID,
			createdAt:        ev.Timestamp,
			moderationCounts: make(map[domain.ModerationType]int),
		}
		a.live[ev.SessionID] = state
	}

	switch ev.Kind {
	case KindJoin:
		state.totalJoins++
		if ev.ActiveParticipants > state.peakParticipants {
			state.peakParticipants = ev.ActiveParticipants
		}
	case KindReconnect:
		if ev.ActiveParticipants > state.peakParticipants {
			state.peakParticipants = ev.ActiveParticipants
		}
	case KindModeration:
		state.moderationCounts[ev.Action]++
	case KindHostChange:
		state.hostID = ev.UserID
	case KindSessionEnded:
		summary := newSummary(ev.SessionID, state, ev.Timestamp)
		delete(a.live, ev.SessionID)
		if a.store == nil {
			// No persistence configured; keep the summary in memory so reads
			// still resolve.
			a.completed[ev.SessionID] = summary
		}
		return summary
	}
	return nil
}

func newSummary(sessionID uuid.UUID, state *summaryState, endedAt time.Time) *domain.SessionSummary {
	counts := make(map[domain.ModerationType]int, len(state.moderationCounts))
	for k, v := range state.moderationCounts {
		counts[k] = v
	}
	return &domain.SessionSummary{
		SessionID:        sessionID,
		HostID:           state.hostID,
		CreatedAt:        state.createdAt,
		EndedAt:          &endedAt,
		DurationSeconds:  int(endedAt.Sub(state.createdAt).Seconds()),
		PeakParticipants: state.peakParticipants,
		TotalJoins:       state.totalJoins,
		ModerationCounts: counts,
	}
}

// mirror pushes the event into the presence store and audit trail.
// Everything here is best-effort.
func (a *Aggregator) mirror(ev Event) {
	if a.presence == nil && a.trail == nil {
		return
	}
	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()

	switch ev.Kind {
	case KindSessionCreated:
		if a.presence != nil {
			_ = a.presence.SetSessionActive(ctx, ev.SessionID)
		}
		if a.trail != nil {
			_ = a.trail.LogSessionCreated(ctx, ev.SessionID, ev.HostID)
		}
	case KindJoin, KindReconnect:
		if a.presence != nil {
			_ = a.presence.AddParticipant(ctx, ev.SessionID, ev.UserID)
		}
		if a.trail != nil && ev.Kind == KindJoin {
			_ = a.trail.LogParticipantJoined(ctx, ev.SessionID, ev.UserID)
		}
	case KindLeave:
		if a.presence != nil {
			_ = a.presence.RemoveParticipant(ctx, ev.SessionID, ev.UserID)
		}
		if a.trail != nil {
			_ = a.trail.LogParticipantLeft(ctx, ev.SessionID, ev.UserID)
		}
	case KindModeration:
		if a.trail != nil {
			a.trail.LogModeration(ctx, ev.SessionID, ev.ActorID, ev.UserID, ev.Action)
		}
	case KindHostChange:
		if a.trail != nil {
			_ = a.trail.LogHostChange(ctx, ev.SessionID, ev.UserID)
		}
	case KindSessionEnded:
		if a.presence != nil {
			_ = a.presence.SetSessionEnded(ctx, ev.SessionID)
		}
	}
}

// flush persists a finished summary. Failures are logged and counted, never
// propagated: the session is already gone.
func (a *Aggregator) flush(summary *domain.SessionSummary) {
	a.metrics.RecordSessionDuration(time.Duration(summary.DurationSeconds) * time.Second)

	if a.store != nil {
		ctx, cancel := pkgcontext.WithMediumTimeout(context.Background())
		defer cancel()
		if err := a.store.SaveSummary(ctx, summary); err != nil {
			a.metrics.RecordAnalyticsFlushError()
			a.log.Error("failed to persist session summary",
				zap.String("session_id", summary.SessionID.String()),
				zap.Error(err))
		}
	}
	if a.presence != nil {
		ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
		defer cancel()
		_ = a.presence.CacheSummary(ctx, summary)
	}
	if a.trail != nil {
		ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
		defer cancel()
		a.trail.LogSessionEnded(ctx, summary)
	}

	a.log.Info("session summary flushed",
		zap.String("session_id", summary.SessionID.String()),
		zap.Int("duration_seconds", summary.DurationSeconds),
		zap.Int("peak_participants", summary.PeakParticipants),
		zap.Int("total_joins", summary.TotalJoins))
}

// Summary returns the summary for a session. Live sessions report their
// running aggregate with a zero EndedAt; finished sessions come from memory
// first, then the presence cache, then the store.
func (a *Aggregator) Summary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error) {
	a.mu.RLock()
	if state, ok := a.live[sessionID]; ok {
		counts := make(map[domain.ModerationType]int, len(state.moderationCounts))
		for k, v := range state.moderationCounts {
			counts[k] = v
		}
		summary := &domain.SessionSummary{
			SessionID:        sessionID,
			HostID:           state.hostID,
			CreatedAt:        state.createdAt,
			DurationSeconds:  int(time.Now().UTC().Sub(state.createdAt).Seconds()),
			PeakParticipants: state.peakParticipants,
			TotalJoins:       state.totalJoins,
			ModerationCounts: counts,
		}
		a.mu.RUnlock()
		return summary, nil
	}
	if summary, ok := a.completed[sessionID]; ok {
		a.mu.RUnlock()
		return summary, nil
	}
	a.mu.RUnlock()

	if a.presence != nil {
		if summary, err := a.presence.GetCachedSummary(ctx, sessionID); err == nil && summary != nil {
			return summary, nil
		}
	}
	if a.store != nil {
		return a.store.GetSummary(ctx, sessionID)
	}
	return nil, apperrors.SessionNotFoundError()
}
