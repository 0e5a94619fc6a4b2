package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	m := cfg.Model
	if m == "" {
		m = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     m,
		maxTokens: maxTokens,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}

// Complete sends a Messages API request with the catalog as tools.
func (c *AnthropicClient) Complete(ctx context.Context, conv model.Conversation, catalog []tools.Descriptor) (*Outcome, error) {
	start := time.Now()

	system, messages := toAnthropicMessages(conv)

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(c.maxTokens)),
		Messages:  anthropic.F(messages),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}
	if len(catalog) > 0 {
		params.Tools = anthropic.F(toAnthropicTools(catalog))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(c.Name(), apiErr.StatusCode, err)
		}
		return nil, classifyTransport(ctx, c.Name(), err)
	}

	out := &Outcome{
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		LatencyMs: since(start),
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.ContentBlockTypeText:
			text.WriteString(block.Text)
		case anthropic.ContentBlockTypeToolUse:
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return nil, Protocol(c.Name(), fmt.Errorf("tool_use %s: %w", block.Name, err))
			}
			args, err := decodeArguments(string(raw))
			if err != nil {
				return nil, Protocol(c.Name(), fmt.Errorf("tool_use %s: %w", block.Name, err))
			}
			if block.Name == "" || block.ID == "" {
				return nil, Protocol(c.Name(), errors.New("tool_use block without id or name"))
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCallRequest{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	if len(out.ToolCalls) > 0 {
		out.Kind = ToolCallsRequested
		return out, nil
	}

	out.Kind = FinalAnswer
	out.Text = text.String()
	return out, nil
}

// toAnthropicMessages lifts system messages into the system prompt and
// groups consecutive tool results into one user turn, as the Messages API
// requires.
func toAnthropicMessages(conv model.Conversation) (string, []anthropic.MessageParam) {
	var system []string
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range conv {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Content)
		case model.RoleUser:
			flush()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case model.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlockParam(tc.ID, tc.Name, tc.Arguments))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			isError := strings.HasPrefix(m.Content, "Error:")
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError))
		}
	}
	flush()

	return strings.Join(system, "\n\n"), messages
}

func toAnthropicTools(catalog []tools.Descriptor) []anthropic.ToolParam {
	out := make([]anthropic.ToolParam, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, anthropic.ToolParam{
			Name:        anthropic.F(d.Name),
			Description: anthropic.F(d.Description),
			InputSchema: anthropic.F[interface{}](d.JSONSchema()),
		})
	}
	return out
}
