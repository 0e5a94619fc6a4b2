package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/finchat/assistant/internal/config"
	"github.com/finchat/assistant/internal/finance"
	"github.com/finchat/assistant/internal/handler"
	"github.com/finchat/assistant/internal/hub"
	"github.com/finchat/assistant/internal/llm"
	"github.com/finchat/assistant/internal/middleware"
	"github.com/finchat/assistant/internal/service"
	"github.com/finchat/assistant/internal/tools"
	"github.com/finchat/assistant/pkg/logger"
)

func newTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	log := logger.NewNop()

	reg := tools.NewRegistry()
	require.NoError(t, finance.Register(reg, finance.NewService(finance.NewMockProvider())))
	reg.Freeze()

	orch := service.NewOrchestrator(llm.NewOfflineClient(), reg, nil, service.Options{}, log)
	h := hub.New(log)
	t.Cleanup(h.Close)

	return newRouter(cfg, routes{
		health:   handler.NewHealthHandler("test", nil),
		chat:     handler.NewChatHandler(orch, log),
		realtime: handler.NewRealtimeHandler(h, service.NewChatService(orch, h, log), nil, handler.RealtimeOptions{}, log),
	}, log)
}

func TestRouterEndpoints(t *testing.T) {
	r := newTestRouter(t, config.Default())

	tests := []struct {
		method, path, body string
		want               int
		contains           string
	}{
		{http.MethodGet, "/health", "", http.StatusOK, `"status":"healthy"`},
		{http.MethodGet, "/ready", "", http.StatusOK, "ready"},
		{http.MethodGet, "/metrics", "", http.StatusOK, "go_goroutines"},
		{http.MethodPost, "/chat", `{"query":"price of MSFT"}`, http.StatusOK, "MSFT"},
		{http.MethodPost, "/api/chat", `{"query":"Convert 1000 USD to EUR"}`, http.StatusOK, "850"},
		{http.MethodPost, "/chat", `{"query":""}`, http.StatusBadRequest, "Invalid query"},
		{http.MethodGet, "/sessions", "", http.StatusOK, `"count":0`},
		{http.MethodGet, "/chat", "", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
			assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))
		})
	}
}

func TestRouterRateLimitsChat(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimitRequests = 1
	r := newTestRouter(t, cfg)

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"hi"}`))
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestRouterContinuesInboundTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	r := newTestRouter(t, config.Default())

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"price of MSFT"}`))
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var turn sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "orchestrator.turn" {
			turn = s
		}
	}
	require.NotNil(t, turn)
	assert.Equal(t, traceID, turn.SpanContext().TraceID().String())
	assert.True(t, turn.Parent().IsValid())
}
