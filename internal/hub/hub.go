// Package hub tracks connected real-time clients and fans chat events out
// to them.
package hub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/pkg/logger"
	"github.com/finchat/assistant/pkg/metrics"
)

// DefaultQueueSize is the per-session outbound buffer.
const DefaultQueueSize = 64

var (
	// ErrDuplicateSession is returned when joining with an id already present.
	ErrDuplicateSession = errors.New("session already joined")
	// ErrUnknownSession is returned for operations on an id that is not joined.
	ErrUnknownSession = errors.New("unknown session")
	// ErrClosed is returned by Join after Close.
	ErrClosed = errors.New("hub is closed")
)

// Sink delivers events to one client. Send is only ever called from the
// session's own writer goroutine.
type Sink interface {
	Send(event model.ChatEvent) error
	Close() error
}

// Observer receives every event the hub fans out. Observe is called with the
// hub lock held and must not block.
type Observer interface {
	Observe(event model.ChatEvent)
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-session outbound buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

type session struct {
	info  model.ChatSession
	sink  Sink
	queue chan model.ChatEvent
	done  chan struct{}
}

// Hub owns the set of connected sessions. All enqueueing happens under the
// hub lock so every receiver sees events in the same order.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	observers []Observer
	queueSize int
	closed    bool
	logger    *logger.Logger
}

// New creates a hub.
func New(log *logger.Logger, opts ...Option) *Hub {
	if log == nil {
		log = logger.Global()
	}
	h := &Hub{
		sessions:  make(map[string]*session),
		queueSize: DefaultQueueSize,
		logger:    log.Named("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers a session. The joiner first receives a Connected state
// change, then every session (joiner included) receives UserJoined.
func (h *Hub) Join(id, displayName string, sink Sink) (*model.ChatSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, ok := h.sessions[id]; ok {
		return nil, ErrDuplicateSession
	}

	s := &session{
		info: model.ChatSession{
			ConnectionID: id,
			DisplayName:  displayName,
			ConnectedAt:  time.Now().UTC(),
		},
		sink:  sink,
		queue: make(chan model.ChatEvent, h.queueSize),
		done:  make(chan struct{}),
	}
	h.sessions[id] = s
	go h.writeLoop(s)
	metrics.IncrementSessions()

	s.queue <- model.NewConnectionStateChanged(model.StateConnected)
	h.deliverLocked(model.NewUserJoined(id, displayName), "")

	h.logger.Info("session joined",
		zap.String("connection_id", id),
		zap.String("display_name", displayName),
		zap.Int("sessions", len(h.sessions)),
	)

	info := s.info
	return &info, nil
}

// Leave removes a session and broadcasts UserLeft to the rest. It reports
// whether the session was present; calling it twice is harmless.
func (h *Hub) Leave(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	h.removeLocked(s)
	h.deliverLocked(model.NewUserLeft(id), "")

	h.logger.Info("session left",
		zap.String("connection_id", id),
		zap.Int("sessions", len(h.sessions)),
	)
	return true
}

// SetTyping records a typing flag and tells every other session. Delivery is
// best-effort: full queues drop the event.
func (h *Hub) SetTyping(id string, typing bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.info.Typing = typing
	h.deliverLocked(model.NewUserTyping(id, typing), id)
	return nil
}

// Rename changes a session's display name and announces it with UserJoined.
func (h *Hub) Rename(id, displayName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.info.DisplayName = displayName
	h.deliverLocked(model.NewUserJoined(id, displayName), "")
	return nil
}

// Broadcast sends an event to every session present at the time of the call
// and returns how many sessions it was queued for.
func (h *Hub) Broadcast(event model.ChatEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(event, "")
}

// Send queues an event for a single session.
func (h *Hub) Send(id string, event model.ChatEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if !h.offer(s, event) {
		h.evictLocked(s, event.Type)
	}
	return nil
}

// Session returns a snapshot of one session.
func (h *Hub) Session(id string) (model.ChatSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok {
		return model.ChatSession{}, false
	}
	return s.info, true
}

// Sessions returns a snapshot of all sessions ordered by connection time.
func (h *Hub) Sessions() []model.ChatSession {
	h.mu.RLock()
	out := make([]model.ChatSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of joined sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close tells every session the server is going away, removes them and
// rejects further joins. It waits for the writers to drain.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var closing []*session
	for _, s := range h.sessions {
		h.offer(s, model.NewConnectionStateChanged(model.StateDisconnected))
		closing = append(closing, s)
		h.removeLocked(s)
	}
	h.mu.Unlock()

	for _, s := range closing {
		<-s.done
		s.sink.Close()
	}
}

// deliverLocked queues event for every session except exclude. Sessions whose
// queue is full are evicted, except for typing events which are dropped.
func (h *Hub) deliverLocked(event model.ChatEvent, exclude string) int {
	for _, o := range h.observers {
		o.Observe(event)
	}
	metrics.EventsBroadcastTotal.WithLabelValues(string(event.Type)).Inc()

	delivered := 0
	var slow []*session
	for id, s := range h.sessions {
		if id == exclude {
			continue
		}
		if h.offer(s, event) {
			delivered++
			continue
		}
		if event.Type == model.EventUserTyping {
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
			continue
		}
		slow = append(slow, s)
	}

	for _, s := range slow {
		h.evictLocked(s, event.Type)
	}
	return delivered
}

func (h *Hub) offer(s *session, event model.ChatEvent) bool {
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

// evictLocked drops a slow consumer and announces its departure.
func (h *Hub) evictLocked(s *session, cause model.EventType) {
	if h.sessions[s.info.ConnectionID] != s {
		return
	}
	metrics.EventsDroppedTotal.WithLabelValues(string(cause)).Inc()
	h.logger.Warn("evicting slow session",
		zap.String("connection_id", s.info.ConnectionID),
		zap.String("event", string(cause)),
	)
	h.removeLocked(s)
	go s.sink.Close()
	h.deliverLocked(model.NewUserLeft(s.info.ConnectionID), "")
}

func (h *Hub) removeLocked(s *session) {
	delete(h.sessions, s.info.ConnectionID)
	close(s.queue)
	metrics.DecrementSessions()
}

// writeLoop drains a session's queue into its sink. A failed write removes
// the session.
func (h *Hub) writeLoop(s *session) {
	defer close(s.done)

	for event := range s.queue {
		if err := s.sink.Send(event); err != nil {
			h.logger.Debug("session write failed",
				zap.String("connection_id", s.info.ConnectionID),
				zap.Error(err),
			)
			h.drop(s)
			for range s.queue {
			}
			return
		}
	}
}

// drop removes s if it is still the registered session for its id.
func (h *Hub) drop(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[s.info.ConnectionID] != s {
		return
	}
	h.removeLocked(s)
	h.deliverLocked(model.NewUserLeft(s.info.ConnectionID), "")
}
