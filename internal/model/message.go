// Package model defines data structures shared by the chat gateway.
package model

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-role message to the request it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// SystemMessage builds a system directive.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant reply.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the tool-role message fed back to the model.
func ToolResultMessage(r ToolCallResult) Message {
	return Message{Role: RoleTool, Content: r.Content, ToolCallID: r.ToolCallID}
}

// Conversation is an ordered, append-only list of messages.
type Conversation []Message

// Append returns the conversation with msgs added at the end.
func (c Conversation) Append(msgs ...Message) Conversation {
	return append(c, msgs...)
}

// Clone returns a copy that does not share backing storage.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// ToolCallRequest is a model request to invoke a registered tool.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult is the outcome of dispatching a ToolCallRequest.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
