package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcoord-backend/internal/domain"
	apperrors "callcoord-backend/pkg/errors"
)

func TestRelay_DeliversOpaquePayload(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	userQueue := connect(t, actor, userID)
	drainQueue(userQueue)

	offer := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	require.NoError(t, actor.Relay(hostID, userID, offer))

	ev := <-userQueue.C()
	assert.Equal(t, domain.EventSignal, ev.Type)
	assert.Equal(t, hostID, ev.SenderID)
	assert.Equal(t, userID, ev.UserID)
	assert.JSONEq(t, string(offer), string(ev.Payload))
}

func TestRelay_PreservesPerSenderOrder(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	userQueue := connect(t, actor, userID)
	drainQueue(userQueue)

	require.NoError(t, actor.Relay(hostID, userID, json.RawMessage(`{"n":1}`)))
	require.NoError(t, actor.Relay(hostID, userID, json.RawMessage(`{"n":2}`)))
	require.NoError(t, actor.Relay(hostID, userID, json.RawMessage(`{"n":3}`)))

	for i := 1; i <= 3; i++ {
		ev := <-userQueue.C()
		var body struct {
			N int `json:"n"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &body))
		assert.Equal(t, i, body.N)
	}
}

func TestRelay_SenderNotConnected(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)

	err = actor.Relay(uuid.New(), userID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeParticipantNotConnected, errCode(err))
}

func TestRelay_TargetNotConnected(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	// Joined but never signaling-ready: still CONNECTING, not a relay target
	_, err = actor.Join(userID, NewOutboundQueue(64))
	require.NoError(t, err)

	err = actor.Relay(hostID, userID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeParticipantNotConnected, errCode(err))

	err = actor.Relay(hostID, uuid.New(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeParticipantNotConnected, errCode(err))
}

func TestRelay_DisconnectedTargetRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectGrace = time.Second
	r := newTestRegistry(cfg)
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)
	require.NoError(t, actor.Disconnect(userID))

	err = actor.Relay(hostID, userID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeParticipantNotConnected, errCode(err))
}

func TestRelay_BacklogDropSurfacesToSender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutboundQueueSize = 1
	r := newTestRegistry(cfg)
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)

	slowQueue := NewOutboundQueue(1)
	_, err = actor.Join(userID, slowQueue)
	require.NoError(t, err)
	require.NoError(t, actor.SignalingReady(userID))
	drainQueue(slowQueue)

	// The slow consumer never drains: the second relay evicts the first
	// signal, and the sender of the evicted message is told
	require.NoError(t, actor.Relay(hostID, userID, json.RawMessage(`{"n":1}`)))
	err = actor.Relay(hostID, userID, json.RawMessage(`{"n":2}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSignalingBacklogDropped, errCode(err))

	// The newest message survived the eviction
	ev := <-slowQueue.C()
	var body struct {
		N int `json:"n"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &body))
	assert.Equal(t, 2, body.N)
}

func TestRelay_AfterSessionEnded(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	hostID, userID := uuid.New(), uuid.New()
	actor, err := r.CreateSession(hostID)
	require.NoError(t, err)
	connect(t, actor, hostID)
	connect(t, actor, userID)
	require.NoError(t, actor.End(hostID))

	err = actor.Relay(hostID, userID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, errCode(err))
}
