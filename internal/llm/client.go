// Package llm provides the Model Gateway: a uniform tool-calling interface
// over LLM providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// FinalAnswer means the model replied with text.
	FinalAnswer OutcomeKind = iota + 1
	// ToolCallsRequested means the model asked for one or more tool invocations.
	ToolCallsRequested
)

func (k OutcomeKind) String() string {
	switch k {
	case FinalAnswer:
		return "final_answer"
	case ToolCallsRequested:
		return "tool_calls"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Complete call. Exactly one of Text or
// ToolCalls is meaningful, selected by Kind.
type Outcome struct {
	Kind      OutcomeKind
	Text      string
	ToolCalls []model.ToolCallRequest

	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// NewFinalAnswer builds a FinalAnswer outcome.
func NewFinalAnswer(text string) *Outcome {
	return &Outcome{Kind: FinalAnswer, Text: text}
}

// NewToolCalls builds a ToolCallsRequested outcome.
func NewToolCalls(calls ...model.ToolCallRequest) *Outcome {
	return &Outcome{Kind: ToolCallsRequested, ToolCalls: calls}
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends the conversation and tool catalog to the model. Errors
	// are *BackendError. The call honors ctx's deadline.
	Complete(ctx context.Context, conv model.Conversation, catalog []tools.Descriptor) (*Outcome, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	// KindUnavailable covers connection failures, timeouts, throttling and
	// server errors. Callers may retry these.
	KindUnavailable ErrorKind = "backend_unavailable"
	// KindProtocol covers malformed or rejected exchanges. Not retryable.
	KindProtocol ErrorKind = "backend_protocol"
)

// BackendError is returned by every Client implementation.
type BackendError struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as a KindUnavailable error.
func Unavailable(backend string, err error) error {
	return &BackendError{Kind: KindUnavailable, Backend: backend, Err: err}
}

// Protocol wraps err as a KindProtocol error.
func Protocol(backend string, err error) error {
	return &BackendError{Kind: KindProtocol, Backend: backend, Err: err}
}

// IsUnavailable reports whether err is a KindUnavailable backend error.
func IsUnavailable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindUnavailable
}

// IsProtocol reports whether err is a KindProtocol backend error.
func IsProtocol(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindProtocol
}

// Retryable reports whether a caller may retry after err.
func Retryable(err error) bool {
	return IsUnavailable(err)
}

// classifyTransport maps errors raised before any HTTP status was seen.
func classifyTransport(ctx context.Context, backend string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Unavailable(backend, fmt.Errorf("request timed out: %w", err))
	}
	return Unavailable(backend, err)
}

// classifyStatus maps an HTTP status from the provider.
func classifyStatus(backend string, status int, err error) error {
	if status == 429 || status == 408 || status >= 500 {
		return Unavailable(backend, err)
	}
	return Protocol(backend, err)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOffline   Provider = "offline"
)

// Config selects and parameterizes a backend.
type Config struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewClient creates a new LLM client based on provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOffline, "":
		return NewOfflineClient(), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Provider)
	}
}

func since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
