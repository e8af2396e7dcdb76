package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callcoord-backend/internal/analytics"
	"callcoord-backend/internal/domain"
	apperrors "callcoord-backend/pkg/errors"
	"callcoord-backend/pkg/metrics"
)

func newTestRegistry(cfg Config) *Registry {
	return NewRegistry(cfg, nil, metrics.NewMetrics("coordinator-test"), zap.NewNop())
}

// connect joins userID and completes the signaling handshake so the
// participant reaches CONNECTED
func connect(t *testing.T, a *Actor, userID uuid.UUID) *OutboundQueue {
	t.Helper()
	q := NewOutboundQueue(64)
	_, err := a.Join(userID, q)
	require.NoError(t, err)
	require.NoError(t, a.SignalingReady(userID))
	return q
}

// drainQueue empties whatever is buffered without blocking
func drainQueue(q *OutboundQueue) []*domain.Event {
	var out []*domain.Event
	for {
		select {
		case ev, ok := <-q.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func findParticipant(snap *domain.SessionSnapshot, userID uuid.UUID) *domain.Participant {
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func errCode(err error) apperrors.ErrorCode {
	return apperrors.GetAppError(err).Code
}

// captureSink retains every recorded event for inspection
type captureSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *captureSink) Record(ev analytics.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) byKind(kind analytics.Kind) []analytics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestActor_HostJoinAndReady(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID := uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)

	q := NewOutboundQueue(64)
	snap, err := actor.Join(hostID, q)
	require.NoError(t, err)
	assert.Equal(t, hostID, snap.HostID)

	host := findParticipant(snap, hostID)
	require.NotNil(t, host)
	assert.Equal(t, domain.RoleHost, host.Role)
	assert.Equal(t, domain.ConnConnecting, host.State)

	require.NoError(t, actor.SignalingReady(hostID))
	snap2, err := actor.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, domain.ConnConnected, findParticipant(snap2, hostID).State)
}

func TestActor_JoinRejectsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionCapacity = 3
	r := newTestRegistry(cfg)

	hostID := uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	// The pre-registered host occupies a slot, so two more fit
	connect(t, actor, uuid.New())
	connect(t, actor, uuid.New())

	_, err = actor.Join(uuid.New(), NewOutboundQueue(64))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionFull, errCode(err))
}

func TestActor_KickedUserCannotRejoin(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationKick))

	_, err = actor.Join(userID, NewOutboundQueue(64))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeBanned, errCode(err))
}

func TestActor_DoubleKickIsNoOp(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, modID, userID := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, modID)
	connect(t, actor, userID)
	require.NoError(t, actor.ChangeRole(hostID, modID, domain.RoleModerator))

	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationKick))
	// The second kick of an already-kicked target succeeds without a second
	// state transition or audit record
	require.NoError(t, actor.Moderate(modID, userID, domain.ModerationKick))

	log, err := actor.ModerationLog()
	require.NoError(t, err)
	kicks := 0
	for _, entry := range log {
		if entry.Type == domain.ModerationKick {
			kicks++
		}
	}
	assert.Equal(t, 1, kicks)
}

func TestActor_ModerationPermissionDenied(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userA, userB := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userA)
	connect(t, actor, userB)

	err = actor.Moderate(userA, userB, domain.ModerationMute)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, errCode(err))

	// Self-mute is always allowed
	require.NoError(t, actor.Moderate(userA, userA, domain.ModerationMute))
	snap, err := actor.Snapshot()
	require.NoError(t, err)
	assert.False(t, findParticipant(snap, userA).AudioEnabled)
}

func TestActor_ModeratorMutesParticipant(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, modID, userID := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, modID)
	connect(t, actor, userID)

	require.NoError(t, actor.ChangeRole(hostID, modID, domain.RoleModerator))
	require.NoError(t, actor.Moderate(modID, userID, domain.ModerationMute))

	snap, err := actor.Snapshot()
	require.NoError(t, err)
	assert.False(t, findParticipant(snap, userID).AudioEnabled)

	// A moderator never kicks the host
	err = actor.Moderate(modID, hostID, domain.ModerationKick)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, errCode(err))
}

func TestActor_RoleChangeThroughModerateRejected(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	err = actor.Moderate(hostID, userID, domain.ModerationRoleChange)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, errCode(err))
}

func TestActor_ChangeRoleHostOnly(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, modID, userID := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, modID)
	connect(t, actor, userID)

	require.NoError(t, actor.ChangeRole(hostID, modID, domain.RoleModerator))

	err = actor.ChangeRole(modID, userID, domain.RoleModerator)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, errCode(err))

	// The HOST role is never assigned directly
	err = actor.ChangeRole(hostID, userID, domain.RoleHost)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, errCode(err))
}

func TestActor_HostSuccessionPrefersEarliestModerator(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID := uuid.New()
	earlyParticipant, lateModerator := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	connect(t, actor, earlyParticipant)
	time.Sleep(5 * time.Millisecond)
	connect(t, actor, lateModerator)
	require.NoError(t, actor.ChangeRole(hostID, lateModerator, domain.RoleModerator))

	require.NoError(t, actor.Leave(hostID))

	snap, err := actor.Snapshot()
	require.NoError(t, err)
	// A moderator outranks an earlier-joined plain participant
	assert.Equal(t, lateModerator, snap.HostID)
	assert.Equal(t, domain.RoleHost, findParticipant(snap, lateModerator).Role)
}

func TestActor_HostSuccessionFallsBackToEarliestParticipant(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, first, second := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	connect(t, actor, first)
	time.Sleep(5 * time.Millisecond)
	connect(t, actor, second)

	require.NoError(t, actor.Leave(hostID))

	snap, err := actor.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, snap.HostID)
	assert.Equal(t, domain.RoleHost, findParticipant(snap, first).Role)
	assert.Equal(t, domain.RoleParticipant, findParticipant(snap, second).Role)
}

func TestActor_HostSuccessionRecordedForAnalytics(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(DefaultConfig(), sink, metrics.NewMetrics("coordinator-test"), zap.NewNop())
	hostID, modID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, modID)
	require.NoError(t, actor.ChangeRole(hostID, modID, domain.RoleModerator))

	require.NoError(t, actor.Leave(hostID))

	changes := sink.byKind(analytics.KindHostChange)
	require.Len(t, changes, 1)
	assert.Equal(t, modID, changes[0].UserID)
	assert.Equal(t, modID, changes[0].HostID)
}

func TestActor_CapacityCountsActiveSlotsOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionCapacity = 2
	r := newTestRegistry(cfg)
	hostID, first, second := uuid.New(), uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, first)

	// Leaving frees the slot even though the entry stays for the history
	require.NoError(t, actor.Leave(first))
	connect(t, actor, second)

	snap, err := actor.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 3)
	assert.Equal(t, domain.ConnLeft, findParticipant(snap, first).State)

	_, err = actor.Join(uuid.New(), NewOutboundQueue(64))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionFull, errCode(err))
}

func TestActor_ReconnectWithinGrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectGrace = time.Second
	r := newTestRegistry(cfg)
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	require.NoError(t, actor.Disconnect(userID))
	snap, err := actor.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, domain.ConnDisconnected, findParticipant(snap, userID).State)

	// Rejoin within grace: straight back to CONNECTED, no duplicate entry
	_, err = actor.Join(userID, NewOutboundQueue(64))
	require.NoError(t, err)

	snap, err = actor.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, domain.ConnConnected, findParticipant(snap, userID).State)
	assert.Len(t, snap.Participants, 2)
}

func TestActor_GraceExpiryBecomesLeave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectGrace = 20 * time.Millisecond
	r := newTestRegistry(cfg)
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	require.NoError(t, actor.Disconnect(userID))

	assert.Eventually(t, func() bool {
		snap, err := actor.Snapshot()
		if err != nil {
			return false
		}
		return findParticipant(snap, userID).State == domain.ConnLeft
	}, time.Second, 10*time.Millisecond)
}

func TestActor_SessionEndsWhenLastParticipantTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectGrace = 20 * time.Millisecond
	r := newTestRegistry(cfg)
	hostID := uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	require.NoError(t, actor.Disconnect(hostID))

	assert.Eventually(t, actor.Ended, time.Second, 10*time.Millisecond)
}

func TestActor_EndRequiresHost(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	err = actor.End(userID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, errCode(err))
	assert.False(t, actor.Ended())

	require.NoError(t, actor.End(hostID))
	assert.True(t, actor.Ended())
}

func TestActor_EndDeliversSessionEndedAndClosesQueues(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	userQueue := connect(t, actor, userID)

	require.NoError(t, actor.End(hostID))

	events := drainQueue(userQueue)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSessionEnded, events[len(events)-1].Type)
	assert.True(t, userQueue.Closed())
}

func TestActor_BroadcastSeqStrictlyIncreasing(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	hostQueue := connect(t, actor, hostID)
	connect(t, actor, userID)

	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationMute))
	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationUnmute))
	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationVideoOff))
	require.NoError(t, actor.Leave(userID))

	events := drainQueue(hostQueue)
	require.NotEmpty(t, events)
	var last uint64
	for _, ev := range events {
		assert.Greater(t, ev.Seq, last, "event %s out of order", ev.Type)
		last = ev.Seq
	}
}

func TestActor_SnapshotSeqCoversPriorBroadcasts(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)
	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationMute))

	snap, err := actor.Join(uuid.New(), NewOutboundQueue(64))
	require.NoError(t, err)

	// A late joiner's snapshot reflects every committed delta, so any delta
	// with Seq <= snapshot.Seq is safe to discard client-side
	muted := findParticipant(snap, userID)
	require.NotNil(t, muted)
	assert.False(t, muted.AudioEnabled)
	assert.GreaterOrEqual(t, snap.Seq, uint64(3))
}

func TestActor_ModerationLogInCommitOrder(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationMute))
	require.NoError(t, actor.ChangeRole(hostID, userID, domain.RoleModerator))
	require.NoError(t, actor.Moderate(hostID, userID, domain.ModerationKick))

	log, err := actor.ModerationLog()
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, domain.ModerationMute, log[0].Type)
	assert.Equal(t, domain.ModerationRoleChange, log[1].Type)
	assert.Equal(t, domain.ModerationKick, log[2].Type)
	for _, entry := range log {
		assert.Equal(t, hostID, entry.ActorID)
		assert.Equal(t, userID, entry.TargetID)
	}
}

func TestActor_RejoinAfterLeaveIsFreshMembership(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)
	require.NoError(t, actor.ChangeRole(hostID, userID, domain.RoleModerator))

	require.NoError(t, actor.Leave(userID))
	_, err = actor.Join(userID, NewOutboundQueue(64))
	require.NoError(t, err)

	snap, err := actor.Snapshot()
	require.NoError(t, err)
	// The earlier MODERATOR promotion does not survive a clean leave
	rejoined := findParticipant(snap, userID)
	assert.Equal(t, domain.RoleParticipant, rejoined.Role)
	assert.Equal(t, domain.ConnConnecting, rejoined.State)
}

func TestActor_CommandsAfterEndReturnSessionNotFound(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID := uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	require.NoError(t, actor.End(hostID))

	_, err = actor.Join(uuid.New(), NewOutboundQueue(64))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, errCode(err))

	err = actor.Moderate(hostID, hostID, domain.ModerationMute)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, errCode(err))
}
