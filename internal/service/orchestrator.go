// Package service implements the conversation loop that drives a user query
// through the model and the tool registry.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/llm"
	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
	"github.com/finchat/assistant/pkg/logger"
	"github.com/finchat/assistant/pkg/metrics"
	"github.com/finchat/assistant/pkg/tracing"
)

// DefaultSystemPrompt is used when no directive is configured.
const DefaultSystemPrompt = "You are a helpful financial assistant. Use the available tools to look up " +
	"stock prices, market summaries, financial ratios, currency conversions and compound interest. " +
	"Base numbers in your answers on tool results and say when data is simulated."

var (
	// ErrToolLoopExceeded is returned when the model keeps requesting tools
	// past the configured number of model calls.
	ErrToolLoopExceeded = errors.New("tool call loop exceeded")
	// ErrEmptyQuery is returned for blank input.
	ErrEmptyQuery = errors.New("query is empty")
)

// State is a step of the turn state machine.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateToolDispatch  State = "tool_dispatch"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// ToolCatalog is the part of the tool registry the orchestrator needs.
type ToolCatalog interface {
	DescribeAll() []tools.Descriptor
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	SystemPrompt      string
	MaxToolIterations int
	ModelTimeout      time.Duration
}

// Turn is one user query.
type Turn struct {
	// SessionID selects retained history; empty means a stateless turn.
	SessionID string
	Query     string
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	Answer     string
	ToolCalls  []model.ToolCallResult
	Iterations int
	Model      string
	TokensIn   int
	TokensOut  int
	States     []State
}

// Orchestrator runs the request/tool-call/tool-result/final-answer cycle.
// It is safe for concurrent turns; each turn owns its conversation.
type Orchestrator struct {
	client  llm.Client
	catalog ToolCatalog
	history *HistoryStore
	opts    Options
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewOrchestrator creates an orchestrator. history may be nil.
func NewOrchestrator(client llm.Client, catalog ToolCatalog, history *HistoryStore, opts Options, log *logger.Logger) *Orchestrator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = 5
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Global()
	}

	return &Orchestrator{
		client:  client,
		catalog: catalog,
		history: history,
		opts:    opts,
		logger:  log.Named("orchestrator"),
		tracer:  tracing.Tracer("github.com/finchat/assistant/internal/service"),
	}
}

// History returns the orchestrator's history store, which may be nil.
func (o *Orchestrator) History() *HistoryStore {
	return o.history
}

// Run drives one turn to Done or Failed. Model Gateway failures and
// ErrToolLoopExceeded abort the turn with no partial answer; tool failures
// are fed back to the model as tool results.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (*TurnResult, error) {
	query := strings.TrimSpace(turn.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("backend", o.client.Name()),
		attribute.Bool("session", turn.SessionID != ""),
	))
	defer span.End()

	res := &TurnResult{States: []State{StateIdle}}
	userMsg := model.UserMessage(query)

	conv := model.Conversation{model.SystemMessage(o.opts.SystemPrompt)}
	conv = conv.Append(o.history.Get(turn.SessionID)...)
	conv = conv.Append(userMsg)

	catalog := o.catalog.DescribeAll()

	fail := func(err error) (*TurnResult, error) {
		res.States = append(res.States, StateFailed)
		metrics.RecordTurn("failed", res.Iterations)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("turn failed",
			zap.String("session_id", turn.SessionID),
			zap.Int("iterations", res.Iterations),
			zap.Error(err),
		)
		return nil, err
	}

	for {
		res.States = append(res.States, StateAwaitingModel)
		res.Iterations++

		out, err := o.complete(ctx, conv, catalog)
		if err != nil {
			return fail(err)
		}
		res.Model = out.Model
		res.TokensIn += out.TokensIn
		res.TokensOut += out.TokensOut

		if out.Kind == llm.FinalAnswer {
			conv = conv.Append(model.AssistantMessage(out.Text))
			o.history.Append(turn.SessionID, userMsg, model.AssistantMessage(out.Text))

			res.Answer = out.Text
			res.States = append(res.States, StateDone)
			metrics.RecordTurn("done", res.Iterations)
			span.SetAttributes(attribute.Int("iterations", res.Iterations))
			o.logger.Debug("turn complete",
				zap.String("session_id", turn.SessionID),
				zap.Int("iterations", res.Iterations),
				zap.Int("tool_calls", len(res.ToolCalls)),
				zap.Int("messages", len(conv)),
			)
			return res, nil
		}

		if res.Iterations >= o.opts.MaxToolIterations {
			return fail(fmt.Errorf("%w: model still requested tools after %d calls", ErrToolLoopExceeded, res.Iterations))
		}

		res.States = append(res.States, StateToolDispatch)
		conv = conv.Append(model.Message{Role: model.RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls})
		for _, call := range out.ToolCalls {
			result := o.dispatch(ctx, call)
			res.ToolCalls = append(res.ToolCalls, result)
			conv = conv.Append(model.ToolResultMessage(result))
		}
	}
}

type completion struct {
	out *llm.Outcome
	err error
}

// complete calls the model under the per-call deadline. The call runs in its
// own goroutine so a backend that ignores its context still cannot stall the
// turn past the deadline.
func (o *Orchestrator) complete(ctx context.Context, conv model.Conversation, catalog []tools.Descriptor) (*llm.Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "model.complete")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.opts.ModelTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan completion, 1)
	snapshot := conv.Clone()
	go func() {
		out, err := o.client.Complete(callCtx, snapshot, catalog)
		done <- completion{out: out, err: err}
	}()

	var c completion
	select {
	case c = <-done:
	case <-callCtx.Done():
		c.err = llm.Unavailable(o.client.Name(), fmt.Errorf("model call exceeded %s: %w", o.opts.ModelTimeout, callCtx.Err()))
	}
	elapsed := time.Since(start).Seconds()

	if c.err == nil {
		c.err = validateOutcome(o.client.Name(), c.out)
	}
	if c.err != nil {
		var be *llm.BackendError
		if !errors.As(c.err, &be) {
			c.err = llm.Unavailable(o.client.Name(), c.err)
			errors.As(c.err, &be)
		}
		metrics.RecordModelCall(o.client.Name(), "", string(be.Kind), elapsed, 0, 0)
		span.RecordError(c.err)
		span.SetStatus(codes.Error, c.err.Error())
		return nil, c.err
	}

	metrics.RecordModelCall(o.client.Name(), c.out.Model, c.out.Kind.String(), elapsed, c.out.TokensIn, c.out.TokensOut)
	span.SetAttributes(
		attribute.String("outcome", c.out.Kind.String()),
		attribute.Int("tool_calls", len(c.out.ToolCalls)),
	)
	return c.out, nil
}

func validateOutcome(backend string, out *llm.Outcome) error {
	switch {
	case out == nil:
		return llm.Protocol(backend, errors.New("empty outcome"))
	case out.Kind == llm.ToolCallsRequested && len(out.ToolCalls) == 0:
		return llm.Protocol(backend, errors.New("tool calls requested without any calls"))
	case out.Kind != llm.FinalAnswer && out.Kind != llm.ToolCallsRequested:
		return llm.Protocol(backend, fmt.Errorf("unknown outcome kind %d", out.Kind))
	}
	return nil
}

// dispatch resolves one tool call. Every failure becomes result text so the
// model can react to it within the same turn.
func (o *Orchestrator) dispatch(ctx context.Context, call model.ToolCallRequest) model.ToolCallResult {
	ctx, span := o.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attribute.String("tool", call.Name)))
	defer span.End()

	result := model.ToolCallResult{ToolCallID: call.ID, Name: call.Name}

	out, err := o.catalog.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		result.Content = "Error: " + err.Error()
		result.IsError = true
		metrics.RecordToolInvocation(call.Name, toolErrorLabel(err))
		span.RecordError(err)
		o.logger.Info("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		return result
	}

	result.Content = out
	metrics.RecordToolInvocation(call.Name, "success")
	return result
}

func toolErrorLabel(err error) string {
	var invalid *tools.InvalidArgumentError
	var execErr *tools.ToolExecutionError
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return "unknown_tool"
	case errors.As(err, &invalid):
		return "invalid_argument"
	case errors.As(err, &execErr):
		return "execution_error"
	default:
		return "error"
	}
}
