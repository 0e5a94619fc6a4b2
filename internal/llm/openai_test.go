package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(Config{Provider: ProviderOpenAI, APIKey: "test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

var testCatalog = []tools.Descriptor{{
	Name:        "get_stock_price",
	Description: "price",
	Parameters:  []tools.Parameter{{Name: "symbol", Type: tools.TypeString, Required: true}},
}}

func writeCompletion(w http.ResponseWriter, msg openai.ChatCompletionMessage) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{{
			Index:   0,
			Message: msg,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5},
	})
}

func TestOpenAICompleteToolCalls(t *testing.T) {
	var got openai.ChatCompletionRequest
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "get_stock_price", Arguments: `{"symbol":"AAPL"}`},
			}},
		})
	})

	conv := model.Conversation{
		model.SystemMessage("sys"),
		model.UserMessage("price of AAPL?"),
	}
	out, err := c.Complete(context.Background(), conv, testCatalog)
	require.NoError(t, err)

	assert.Equal(t, ToolCallsRequested, out.Kind)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "AAPL", out.ToolCalls[0].Arguments["symbol"])
	assert.Equal(t, 10, out.TokensIn)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "get_stock_price", got.Tools[0].Function.Name)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
}

func TestOpenAICompleteReplaysToolMessages(t *testing.T) {
	var got openai.ChatCompletionRequest
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "AAPL is 175.50"})
	})

	call := model.ToolCallRequest{ID: "call_1", Name: "get_stock_price", Arguments: map[string]any{"symbol": "AAPL"}}
	conv := model.Conversation{
		model.UserMessage("price of AAPL?"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCallRequest{call}},
		model.ToolResultMessage(model.ToolCallResult{ToolCallID: "call_1", Content: `{"price":175.5}`}),
	}

	out, err := c.Complete(context.Background(), conv, testCatalog)
	require.NoError(t, err)
	assert.Equal(t, FinalAnswer, out.Kind)
	assert.Equal(t, "AAPL is 175.50", out.Text)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "call_1", got.Messages[1].ToolCalls[0].ID)
	assert.JSONEq(t, `{"symbol":"AAPL"}`, got.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, got.Messages[2].Role)
	assert.Equal(t, "call_1", got.Messages[2].ToolCallID)
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   ErrorKind
		retryable  bool
		ctxTimeout time.Duration
	}{
		{
			name: "server error is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			},
			wantKind:  KindUnavailable,
			retryable: true,
		},
		{
			name: "throttling is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			},
			wantKind:  KindUnavailable,
			retryable: true,
		},
		{
			name: "bad request is protocol",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
			},
			wantKind: KindProtocol,
		},
		{
			name: "no choices is protocol",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"id":"x","choices":[]}`))
			},
			wantKind: KindProtocol,
		},
		{
			name: "malformed arguments is protocol",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeCompletion(w, openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID: "c", Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "get_stock_price", Arguments: `{"symbol":`},
					}},
				})
			},
			wantKind: KindProtocol,
		},
		{
			name: "deadline is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			wantKind:   KindUnavailable,
			retryable:  true,
			ctxTimeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestOpenAIClient(t, tt.handler)

			ctx := context.Background()
			if tt.ctxTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.ctxTimeout)
				defer cancel()
			}

			_, err := c.Complete(ctx, model.Conversation{model.UserMessage("hi")}, testCatalog)
			require.Error(t, err)

			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantKind, be.Kind)
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{Provider: ProviderOffline})
	require.NoError(t, err)
	assert.Equal(t, "offline", c.Name())

	_, err = NewClient(Config{Provider: ProviderOpenAI})
	assert.Error(t, err)

	_, err = NewClient(Config{Provider: ProviderAnthropic})
	assert.Error(t, err)

	_, err = NewClient(Config{Provider: "bogus"})
	assert.Error(t, err)

	c, err = NewClient(Config{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}
