package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcoord-backend/internal/domain"
)

func TestOutboundQueue_OrderPreserved(t *testing.T) {
	q := NewOutboundQueue(4)
	for i := uint64(1); i <= 3; i++ {
		assert.Nil(t, q.Push(&domain.Event{Type: domain.EventSignal, Seq: i}))
	}

	for i := uint64(1); i <= 3; i++ {
		ev := <-q.C()
		assert.Equal(t, i, ev.Seq)
	}
}

func TestOutboundQueue_EvictsOldestWhenFull(t *testing.T) {
	q := NewOutboundQueue(2)
	assert.Nil(t, q.Push(&domain.Event{Type: domain.EventSignal, Seq: 1}))
	assert.Nil(t, q.Push(&domain.Event{Type: domain.EventSignal, Seq: 2}))

	evicted := q.Push(&domain.Event{Type: domain.EventSignal, Seq: 3})
	require.NotNil(t, evicted)
	assert.Equal(t, uint64(1), evicted.Seq)

	// The survivors drain in order
	assert.Equal(t, uint64(2), (<-q.C()).Seq)
	assert.Equal(t, uint64(3), (<-q.C()).Seq)
}

func TestOutboundQueue_CloseDrainsPending(t *testing.T) {
	q := NewOutboundQueue(4)
	q.Push(&domain.Event{Type: domain.EventParticipantJoined, Seq: 1})
	q.Push(&domain.Event{Type: domain.EventSessionEnded, Seq: 2})
	q.Close()

	assert.True(t, q.Closed())

	// Pending messages stay readable after close, then the channel reports
	// closed
	ev, ok := <-q.C()
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.Seq)
	ev, ok = <-q.C()
	require.True(t, ok)
	assert.Equal(t, uint64(2), ev.Seq)
	_, ok = <-q.C()
	assert.False(t, ok)
}

func TestOutboundQueue_PushAfterCloseIsNoOp(t *testing.T) {
	q := NewOutboundQueue(2)
	q.Close()

	assert.Nil(t, q.Push(&domain.Event{Type: domain.EventSignal, Seq: 1}))
	_, ok := <-q.C()
	assert.False(t, ok)
}

func TestOutboundQueue_CloseIdempotent(t *testing.T) {
	q := NewOutboundQueue(1)
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}
