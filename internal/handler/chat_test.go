package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchat/assistant/internal/finance"
	"github.com/finchat/assistant/internal/llm"
	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/service"
	"github.com/finchat/assistant/internal/tools"
	"github.com/finchat/assistant/pkg/logger"
)

type stubAsker struct {
	res  *service.TurnResult
	err  error
	got  service.Turn
	hits int
}

func (s *stubAsker) Run(_ context.Context, turn service.Turn) (*service.TurnResult, error) {
	s.hits++
	s.got = turn
	return s.res, s.err
}

func postChat(t *testing.T, h *ChatHandler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestChatSuccess(t *testing.T) {
	asker := &stubAsker{res: &service.TurnResult{Answer: "AAPL is trading at 175.50"}}
	h := NewChatHandler(asker, logger.NewNop())

	rec, out := postChat(t, h, `{"query":"What is AAPL trading at?","sessionId":"s-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL is trading at 175.50", out["response"])
	assert.Equal(t, service.Turn{SessionID: "rest:s-1", Query: "What is AAPL trading at?"}, asker.got)
}

func TestChatSessionsDoNotShareSocketHistory(t *testing.T) {
	log := logger.NewNop()
	reg := tools.NewRegistry()
	require.NoError(t, finance.Register(reg, finance.NewService(finance.NewMockProvider())))
	reg.Freeze()

	history := service.NewHistoryStore(10)
	connID := "3f2b8c1e-0d4a-4c55-9a61-6b7f2d9e1a00"
	history.Append(connID, model.UserMessage("my portfolio is secret"), model.AssistantMessage("noted"))

	orch := service.NewOrchestrator(llm.NewOfflineClient(), reg, history, service.Options{}, log)
	h := NewChatHandler(orch, log)

	rec, _ := postChat(t, h, `{"query":"Convert 1000 USD to EUR","sessionId":"`+connID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The socket's conversation is untouched; the REST caller got its own.
	assert.Equal(t, model.Conversation{
		model.UserMessage("my portfolio is secret"),
		model.AssistantMessage("noted"),
	}, history.Get(connID))
	assert.Len(t, history.Get("rest:"+connID), 2)
}

func TestChatRejectsBadSessionID(t *testing.T) {
	asker := &stubAsker{}
	h := NewChatHandler(asker, logger.NewNop())

	rec, out := postChat(t, h, `{"query":"hi","sessionId":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid session id", out["error"])
	assert.Zero(t, asker.hits)
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing query", `{}`},
		{"empty query", `{"query":""}`},
		{"blank query", `{"query":"   "}`},
		{"too long", `{"query":"` + strings.Repeat("x", 1001) + `"}`},
		{"wrong type", `{"query":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &stubAsker{}
			h := NewChatHandler(asker, logger.NewNop())

			rec, out := postChat(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
			assert.NotEmpty(t, out["details"])
			assert.Zero(t, asker.hits)
		})
	}
}

func TestChatBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unavailable", llm.Unavailable("openai", errors.New("connection refused"))},
		{"protocol", llm.Protocol("openai", errors.New("no choices"))},
		{"loop exceeded", service.ErrToolLoopExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(&stubAsker{err: tt.err}, logger.NewNop())

			rec, out := postChat(t, h, `{"query":"hello"}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "Failed to process chat request", out["error"])
			assert.Equal(t, tt.err.Error(), out["details"])
		})
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	h := NewChatHandler(&stubAsker{}, logger.NewNop())
	rec, _ := postChat(t, h, `{"query":"`+strings.Repeat("x", maxChatBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.False(t, health.Timestamp.IsZero())

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler("1.2.3", readiness(false))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type readiness bool

func (r readiness) IsConnected() bool { return bool(r) }
