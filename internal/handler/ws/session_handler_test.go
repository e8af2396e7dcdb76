package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callcoord-backend/internal/coordinator"
	"callcoord-backend/internal/domain"
	"callcoord-backend/pkg/metrics"
)

func newTestActor(t *testing.T) (*coordinator.Actor, uuid.UUID) {
	t.Helper()
	r := coordinator.NewRegistry(coordinator.DefaultConfig(), nil, metrics.NewMetrics("ws-test"), zap.NewNop())
	hostID := uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	return actor, hostID
}

func participantState(t *testing.T, actor *coordinator.Actor, userID uuid.UUID) domain.ConnectionState {
	t.Helper()
	snap, err := actor.Snapshot()
	require.NoError(t, err)
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return p.State
		}
	}
	t.Fatalf("participant %s not in snapshot", userID)
	return ""
}

func TestTeardownAfterReplacementLeavesSuccessorAttached(t *testing.T) {
	actor, hostID := newTestActor(t)
	q1 := coordinator.NewOutboundQueue(16)
	_, err := actor.Join(hostID, q1)
	require.NoError(t, err)
	require.NoError(t, actor.SignalingReady(hostID))

	// The same user opens a replacement connection while the first socket is
	// still up; the actor closes the first queue on replacement.
	q2 := coordinator.NewOutboundQueue(16)
	_, err = actor.Join(hostID, q2)
	require.NoError(t, err)
	require.True(t, q1.Closed())
	require.False(t, q2.Closed())

	// The first socket's read loop unwinds once its queue closes. Its
	// teardown must not disconnect the user out from under the successor.
	stale := &sessionClient{queue: q1, actor: actor, userID: hostID}
	stale.teardown()

	assert.Equal(t, domain.ConnConnected, participantState(t, actor, hostID))
	assert.False(t, q2.Closed())
}

func TestTeardownOnDroppedTransportStartsDisconnect(t *testing.T) {
	actor, hostID := newTestActor(t)
	q := coordinator.NewOutboundQueue(16)
	_, err := actor.Join(hostID, q)
	require.NoError(t, err)
	require.NoError(t, actor.SignalingReady(hostID))

	client := &sessionClient{queue: q, actor: actor, userID: hostID}
	client.teardown()

	assert.Equal(t, domain.ConnDisconnected, participantState(t, actor, hostID))
	assert.True(t, q.Closed())
}
