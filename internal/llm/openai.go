package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIClient creates a new OpenAI client. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return newOpenAIClient(openai.NewClientWithConfig(oc), cfg), nil
}

func newOpenAIClient(client *openai.Client, cfg Config) *OpenAIClient {
	m := cfg.Model
	if m == "" {
		m = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &OpenAIClient{
		client:      client,
		model:       m,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
	}
}

// Complete sends a chat completion request with the catalog as function tools.
func (c *OpenAIClient) Complete(ctx context.Context, conv model.Conversation, catalog []tools.Descriptor) (*Outcome, error) {
	start := time.Now()

	messages, err := toOpenAIMessages(conv)
	if err != nil {
		return nil, Protocol(c.Name(), err)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if len(catalog) > 0 {
		req.Tools = toOpenAITools(catalog)
		req.ToolChoice = "auto"
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, Protocol(c.Name(), errors.New("response contained no choices"))
	}
	msg := resp.Choices[0].Message

	out := &Outcome{
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		LatencyMs: since(start),
	}

	if len(msg.ToolCalls) > 0 {
		calls := make([]model.ToolCallRequest, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.Function.Name == "" {
				return nil, Protocol(c.Name(), errors.New("tool call without a function name"))
			}
			args, err := decodeArguments(tc.Function.Arguments)
			if err != nil {
				return nil, Protocol(c.Name(), fmt.Errorf("tool call %s: %w", tc.Function.Name, err))
			}
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			calls = append(calls, model.ToolCallRequest{ID: id, Name: tc.Function.Name, Arguments: args})
		}
		out.Kind = ToolCallsRequested
		out.ToolCalls = calls
		return out, nil
	}

	out.Kind = FinalAnswer
	out.Text = msg.Content
	return out, nil
}

func (c *OpenAIClient) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(c.Name(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(c.Name(), reqErr.HTTPStatusCode, err)
	}
	return classifyTransport(ctx, c.Name(), err)
}

func toOpenAIMessages(conv model.Conversation) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case model.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case model.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case model.RoleAssistant:
			am := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to encode arguments for %s: %w", tc.Name, err)
				}
				am.ToolCalls = append(am.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			messages = append(messages, am)
		case model.RoleTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return messages, nil
}

func toOpenAITools(catalog []tools.Descriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.JSONSchema(),
			},
		})
	}
	return out
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
