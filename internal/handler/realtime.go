package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/hub"
	"github.com/finchat/assistant/internal/middleware"
	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/service"
	"github.com/finchat/assistant/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 8 << 10
	turnQueueDepth = 4
)

// Messenger runs a chat turn for a connection and broadcasts the exchange.
type Messenger interface {
	Send(ctx context.Context, connectionID, user, text string) (*service.TurnResult, error)
}

// HistoryForgetter drops a connection's retained history.
type HistoryForgetter interface {
	Forget(sessionID string)
}

// RealtimeOptions configures the WebSocket endpoint.
type RealtimeOptions struct {
	// TurnTimeout bounds a whole turn started from the socket.
	TurnTimeout time.Duration
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
}

// RealtimeHandler serves the WebSocket chat channel.
type RealtimeHandler struct {
	hub       *hub.Hub
	messenger Messenger
	history   HistoryForgetter
	upgrader  websocket.Upgrader
	opts      RealtimeOptions
	logger    *logger.Logger

	inflight turnTracker
}

// turnTracker counts turns currently being answered.
type turnTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (t *turnTracker) begin() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *turnTracker) end() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

// done returns nil when no turn is in flight, otherwise a channel closed
// once the count drops to zero.
func (t *turnTracker) done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return nil
	}
	return t.idle
}

// NewRealtimeHandler creates a new realtime handler. history may be nil.
func NewRealtimeHandler(h *hub.Hub, messenger Messenger, history HistoryForgetter, opts RealtimeOptions, log *logger.Logger) *RealtimeHandler {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 2 * time.Minute
	}

	rh := &RealtimeHandler{
		hub:       h,
		messenger: messenger,
		history:   history,
		opts:      opts,
		logger:    log.Named("realtime"),
	}
	rh.upgrader = websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
		CheckOrigin:       rh.checkOrigin,
	}
	return rh
}

func (h *RealtimeHandler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// wsSink writes hub events to one socket. Only the hub's writer goroutine
// calls Send; pings go through WriteControl, which may run concurrently.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(event model.ChatEvent) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

func (s *wsSink) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Serve handles GET /ws
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("displayName"))
	if name != "" {
		if err := middleware.ValidateDisplayName(name); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid display name", err.Error())
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	if name == "" {
		name = "Guest-" + id[:8]
	}
	log := h.logger.WithConnection(id, name).WithCorrelation(middleware.GetCorrelationID(r.Context()))

	sink := &wsSink{conn: conn}
	if _, err := h.hub.Join(id, name, sink); err != nil {
		log.Warn("failed to join hub", zap.Error(err))
		sink.Close()
		return
	}

	connDone := make(chan struct{})
	turns := make(chan string, turnQueueDepth)
	go h.runTurns(context.WithoutCancel(r.Context()), id, turns, connDone, log)
	go h.ping(conn, connDone)

	defer func() {
		close(connDone)
		close(turns)
		h.hub.Leave(id)
		conn.Close()
		log.Info("connection closed")
	}()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("connection dropped", zap.Error(err))
			}
			return
		}

		var frame model.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reject(id, "Malformed message: expected a JSON object with a type field.")
			continue
		}

		switch frame.Type {
		case model.FrameSendMessage:
			if err := middleware.ValidateQuery(frame.Text); err != nil {
				h.reject(id, "Invalid message: "+err.Error())
				continue
			}
			select {
			case turns <- frame.Text:
			default:
				h.reject(id, "Too many messages in progress; please wait for a reply.")
			}

		case model.FrameJoinChat:
			displayName := strings.TrimSpace(frame.DisplayName)
			if err := middleware.ValidateDisplayName(displayName); err != nil {
				h.reject(id, "Invalid display name: "+err.Error())
				continue
			}
			h.hub.Rename(id, displayName)
			log = h.logger.WithConnection(id, displayName)

		case model.FrameSendTyping:
			// Best-effort.
			h.hub.SetTyping(id, frame.IsTyping)

		default:
			h.reject(id, "Unknown message type: "+frame.Type)
		}
	}
}

// runTurns processes one connection's messages in order. A turn already in
// progress when the connection drops still completes; queued ones are skipped.
// The connection's history is dropped once the last turn has finished.
func (h *RealtimeHandler) runTurns(ctx context.Context, id string, turns <-chan string, connDone <-chan struct{}, log *logger.Logger) {
	defer func() {
		if h.history != nil {
			h.history.Forget(id)
		}
	}()

	for text := range turns {
		select {
		case <-connDone:
			continue
		default:
		}

		user := id
		if s, ok := h.hub.Session(id); ok {
			user = s.DisplayName
		}

		h.inflight.begin()
		turnCtx, cancel := context.WithTimeout(ctx, h.opts.TurnTimeout)
		if _, err := h.messenger.Send(turnCtx, id, user, text); err != nil {
			log.Warn("realtime turn failed", zap.Error(err))
		}
		cancel()
		h.inflight.end()
	}
}

func (h *RealtimeHandler) ping(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *RealtimeHandler) reject(id, reason string) {
	h.hub.Send(id, model.NewReceiveMessage("", "System", reason, model.MessageTypeError))
}

// Sessions handles GET /sessions
func (h *RealtimeHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.hub.Sessions(),
		"count":    h.hub.Count(),
	})
}

// Wait blocks until no socket turn is in flight or ctx ends. Idle
// connections do not hold it up.
func (h *RealtimeHandler) Wait(ctx context.Context) error {
	done := h.inflight.done()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
