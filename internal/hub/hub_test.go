package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/pkg/logger"
)

// memSink records delivered events. A non-nil gate blocks Send until it is
// closed.
type memSink struct {
	mu     sync.Mutex
	events []model.ChatEvent
	gate   chan struct{}
	fail   error
	closed bool
}

func (s *memSink) Send(e model.ChatEvent) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) snapshot() []model.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memSink) types() []model.EventType {
	var out []model.EventType
	for _, e := range s.snapshot() {
		out = append(out, e.Type)
	}
	return out
}

func (s *memSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []model.ChatEvent
}

func (o *recordingObserver) Observe(e model.ChatEvent) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func TestJoinAndLeave(t *testing.T) {
	obs := &recordingObserver{}
	h := New(logger.NewNop(), WithObserver(obs))
	a, b := &memSink{}, &memSink{}

	info, err := h.Join("a", "alice", a)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.DisplayName)
	_, err = h.Join("b", "bob", b)
	require.NoError(t, err)

	_, err = h.Join("a", "again", &memSink{})
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.Equal(t, 2, h.Count())

	assert.Len(t, h.Sessions(), 2)

	assert.True(t, h.Leave("b"))
	assert.False(t, h.Leave("b"))
	assert.True(t, h.Leave("a"))
	assert.Zero(t, h.Count())
	assert.Empty(t, h.Sessions())

	waitFor(t, func() bool { return len(a.snapshot()) == 4 })
	assert.Equal(t, []model.EventType{
		model.EventConnectionStateChanged,
		model.EventUserJoined,
		model.EventUserJoined,
		model.EventUserLeft,
	}, a.types())
	assert.Equal(t, "b", a.snapshot()[3].ConnectionID)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.events, 4)
}

func TestJoinSendsConnectedThenJoined(t *testing.T) {
	h := New(logger.NewNop())
	a := &memSink{}
	_, err := h.Join("a", "alice", a)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(a.snapshot()) == 2 })
	got := a.snapshot()
	assert.Equal(t, model.StateConnected, got[0].State)
	assert.Equal(t, "a", got[1].ConnectionID)
	assert.Equal(t, "alice", got[1].DisplayName)
}

func TestTypingIsNotEchoed(t *testing.T) {
	h := New(logger.NewNop())
	a, b := &memSink{}, &memSink{}
	_, _ = h.Join("a", "alice", a)
	_, _ = h.Join("b", "bob", b)

	require.NoError(t, h.SetTyping("a", true))
	assert.ErrorIs(t, h.SetTyping("zzz", true), ErrUnknownSession)

	s, ok := h.Session("a")
	require.True(t, ok)
	assert.True(t, s.Typing)

	waitFor(t, func() bool { return len(b.snapshot()) == 3 })
	typing := b.snapshot()[2]
	assert.Equal(t, model.EventUserTyping, typing.Type)
	assert.Equal(t, "a", typing.ConnectionID)
	require.NotNil(t, typing.IsTyping)
	assert.True(t, *typing.IsTyping)

	// Give a's writer a chance to deliver anything stray.
	h.Broadcast(model.NewReceiveMessage("", "system", "marker", model.MessageTypeSystem))
	waitFor(t, func() bool {
		ev := a.snapshot()
		return len(ev) > 0 && ev[len(ev)-1].Content == "marker"
	})
	for _, e := range a.snapshot() {
		assert.NotEqual(t, model.EventUserTyping, e.Type)
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	h := New(logger.NewNop(), WithQueueSize(256))
	sinks := make([]*memSink, 3)
	for i := range sinks {
		sinks[i] = &memSink{}
		_, err := h.Join(fmt.Sprintf("c%d", i), "", sinks[i])
		require.NoError(t, err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		assert.Equal(t, 3, h.Broadcast(model.NewReceiveMessage("c0", "u", fmt.Sprint(i), model.MessageTypeUser)))
	}

	for _, s := range sinks {
		waitFor(t, func() bool { return countMessages(s) == n })
		i := 0
		for _, e := range s.snapshot() {
			if e.Type != model.EventReceiveMessage {
				continue
			}
			assert.Equal(t, fmt.Sprint(i), e.Content)
			i++
		}
	}
}

func countMessages(s *memSink) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.Type == model.EventReceiveMessage {
			n++
		}
	}
	return n
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	h := New(logger.NewNop(), WithQueueSize(2))
	fast := &memSink{}
	slow := &memSink{gate: make(chan struct{})}
	defer close(slow.gate)

	_, _ = h.Join("fast", "", fast)
	waitFor(t, func() bool { return len(fast.snapshot()) == 2 })
	_, _ = h.Join("slow", "", slow)
	waitFor(t, func() bool { return len(fast.snapshot()) == 3 })

	// Typing never evicts.
	for i := 0; i < 10; i++ {
		_ = h.SetTyping("fast", i%2 == 0)
	}
	assert.Equal(t, 2, h.Count())

	for i := 0; i < 10 && h.Count() == 2; i++ {
		h.Broadcast(model.NewReceiveMessage("", "u", fmt.Sprint(i), model.MessageTypeUser))
		waitFor(t, func() bool { return countMessages(fast) == i+1 })
	}

	assert.Equal(t, 1, h.Count())
	_, ok := h.Session("slow")
	assert.False(t, ok)
	waitFor(t, slow.isClosed)

	waitFor(t, func() bool {
		for _, e := range fast.snapshot() {
			if e.Type == model.EventUserLeft && e.ConnectionID == "slow" {
				return true
			}
		}
		return false
	})
}

func TestFailedWriteRemovesSession(t *testing.T) {
	h := New(logger.NewNop())
	bad := &memSink{fail: errors.New("broken pipe")}
	_, err := h.Join("bad", "", bad)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.Count() == 0 })
	assert.False(t, h.Leave("bad"))

	// The id can be reused once gone.
	_, err = h.Join("bad", "", &memSink{})
	assert.NoError(t, err)
}

func TestRename(t *testing.T) {
	h := New(logger.NewNop())
	a := &memSink{}
	_, _ = h.Join("a", "", a)

	require.NoError(t, h.Rename("a", "alice"))
	assert.ErrorIs(t, h.Rename("nope", "x"), ErrUnknownSession)

	s, _ := h.Session("a")
	assert.Equal(t, "alice", s.DisplayName)

	waitFor(t, func() bool { return len(a.snapshot()) == 3 })
	assert.Equal(t, "alice", a.snapshot()[2].DisplayName)
}

func TestClose(t *testing.T) {
	h := New(logger.NewNop())
	a := &memSink{}
	_, _ = h.Join("a", "alice", a)

	h.Close()
	assert.Zero(t, h.Count())
	assert.True(t, a.isClosed())

	got := a.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, model.StateDisconnected, got[len(got)-1].State)

	_, err := h.Join("b", "", &memSink{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentMembership(t *testing.T) {
	h := New(logger.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, err := h.Join(id, "", &memSink{})
			assert.NoError(t, err)
			h.Broadcast(model.NewReceiveMessage(id, "u", "hi", model.MessageTypeUser))
			_ = h.SetTyping(id, true)
			h.Leave(id)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, h.Count())
}
