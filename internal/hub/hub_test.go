package hub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesjq/chatroom/internal/hub"
	"github.com/thesjq/chatroom/internal/wire"
)

const waitFor = 2 * time.Second

func newRunningHub(t *testing.T, queueCapacity int) *hub.Hub {
	t.Helper()
	h := hub.New(queueCapacity, nil)
	go h.Run()
	t.Cleanup(func() {
		_ = h.Shutdown(waitFor)
	})
	return h
}

func recvEvent(t *testing.T, p *hub.Participant) wire.Event {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		require.True(t, ok, "participant queue closed unexpectedly")
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return wire.Event{}
	}
}

// expectClosed drains anything still buffered and requires the queue to be
// closed afterwards.
func expectClosed(t *testing.T, p *hub.Participant) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for queue to close")
		}
	}
}

func expectSilence(t *testing.T, p *hub.Participant) {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		if ok {
			t.Fatalf("expected no event, got %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	h.Deregister(a.ID())

	c, _, err := h.Register("Cy")
	require.NoError(t, err)

	assert.Less(t, a.ID(), b.ID())
	// Identifiers are never reused, even after a departure.
	assert.Less(t, b.ID(), c.ID())
}

func TestRegisterReturnsRosterIncludingSelf(t *testing.T) {
	h := newRunningHub(t, 8)

	a, rosterA, err := h.Register("Ann")
	require.NoError(t, err)
	require.Len(t, rosterA, 1)
	assert.Equal(t, uint64(a.ID()), rosterA[0].ID)
	assert.Equal(t, "Ann", rosterA[0].Name)

	b, rosterB, err := h.Register("Bo")
	require.NoError(t, err)
	require.Len(t, rosterB, 2)
	assert.Equal(t, uint64(a.ID()), rosterB[0].ID)
	assert.Equal(t, uint64(b.ID()), rosterB[1].ID)
}

func TestJoinAnnouncedToOthersOnly(t *testing.T) {
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)

	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	joined := recvEvent(t, a)
	assert.Equal(t, wire.NewJoined(uint64(b.ID()), "Bo"), joined)

	// The joiner never sees its own join.
	expectSilence(t, b)
}

func TestMessageScenario(t *testing.T) {
	// A and B register in that order; A sends "hi". B observes the message,
	// A observes only B's join and never its own message echoed back.
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	h.Submit(a.ID(), "hi")

	msg := recvEvent(t, b)
	assert.Equal(t, wire.KindMessage, msg.Type)
	assert.Equal(t, uint64(a.ID()), msg.ID)
	assert.Equal(t, "Ann", msg.Name)
	assert.Equal(t, "hi", msg.Body)
	assert.False(t, msg.SentAt.IsZero())

	assert.Equal(t, wire.KindJoined, recvEvent(t, a).Type)
	expectSilence(t, a)
}

func TestBroadcastOrderConsistentAcrossParticipants(t *testing.T) {
	h := newRunningHub(t, 64)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)
	c, _, err := h.Register("Cy")
	require.NoError(t, err)

	h.Submit(a.ID(), "a1")
	h.Submit(b.ID(), "b1")
	h.Submit(a.ID(), "a2")
	h.Submit(b.ID(), "b2")

	// C joined last and observes all four messages; both orders must match.
	var seenByC []string
	for i := 0; i < 4; i++ {
		ev := recvEvent(t, c)
		require.Equal(t, wire.KindMessage, ev.Type)
		seenByC = append(seenByC, ev.Body)
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, seenByC)

	// A sees B's messages in submission order, interleaved with joins.
	var fromB []string
	for len(fromB) < 2 {
		ev := recvEvent(t, a)
		if ev.Type == wire.KindMessage {
			fromB = append(fromB, ev.Body)
		}
	}
	assert.Equal(t, []string{"b1", "b2"}, fromB)
}

func TestNoRetroactiveDelivery(t *testing.T) {
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	h.Submit(a.ID(), "before")

	b, _, err := h.Register("Bo")
	require.NoError(t, err)
	h.Submit(a.ID(), "after")

	ev := recvEvent(t, b)
	assert.Equal(t, "after", ev.Body)
	expectSilence(t, b)
}

func TestDeregisterIdempotent(t *testing.T) {
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	require.Equal(t, wire.KindJoined, recvEvent(t, a).Type)

	h.Deregister(b.ID())
	h.Deregister(b.ID())

	left := recvEvent(t, a)
	assert.Equal(t, wire.NewLeft(uint64(b.ID())), left)
	// Exactly one departure broadcast.
	expectSilence(t, a)
	expectClosed(t, b)
}

func TestSubmitFromDepartedParticipantIsNoOp(t *testing.T) {
	h := newRunningHub(t, 8)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	require.Equal(t, wire.KindJoined, recvEvent(t, a).Type)

	h.Deregister(b.ID())
	require.Equal(t, wire.KindLeft, recvEvent(t, a).Type)

	h.Submit(b.ID(), "ghost")
	expectSilence(t, a)
}

func TestSlowConsumerEvicted(t *testing.T) {
	h := newRunningHub(t, 1)

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	// Drain A's view of B joining so its single-slot queue is free.
	require.Equal(t, wire.KindJoined, recvEvent(t, a).Type)

	// First message fills B's queue; the second overflows it and evicts B.
	h.Submit(a.ID(), "one")
	h.Submit(a.ID(), "two")

	left := recvEvent(t, a)
	assert.Equal(t, wire.NewLeft(uint64(b.ID())), left)

	// B still gets what was queued before the overflow, then its queue closes.
	ev := recvEvent(t, b)
	assert.Equal(t, "one", ev.Body)
	expectClosed(t, b)

	// The rest of the room is unaffected: A can still converse.
	c, _, err := h.Register("Cy")
	require.NoError(t, err)
	require.Equal(t, wire.KindJoined, recvEvent(t, a).Type)
	h.Submit(a.ID(), "still here")
	assert.Equal(t, "still here", recvEvent(t, c).Body)
}

func TestRegisterAfterShutdown(t *testing.T) {
	h := hub.New(8, nil)
	go h.Run()
	require.NoError(t, h.Shutdown(waitFor))

	_, _, err := h.Register("late")
	assert.ErrorIs(t, err, hub.ErrHubClosed)
}

func TestShutdownClosesParticipantQueues(t *testing.T) {
	h := hub.New(8, nil)
	go h.Run()

	a, _, err := h.Register("Ann")
	require.NoError(t, err)
	b, _, err := h.Register("Bo")
	require.NoError(t, err)

	require.NoError(t, h.Shutdown(waitFor))

	expectClosed(t, a)
	expectClosed(t, b)
}
