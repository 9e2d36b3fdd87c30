package chat

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// TypeTransitiveThought 标记一条暴露出来的中间推理消息
// TypeTransitiveThought marks an exposed intermediate reasoning message
const TypeTransitiveThought = "transitive-thought"

// ToolFunction describes an OpenAI-compatible function tool definition.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDef describes one function tool exposed to the model.
type ToolDef struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the function payload of a model tool call.
type ToolCallFunction struct {
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// ToolCall is an OpenAI-compatible tool call.
type ToolCall struct {
	ID       string           `json:"id" yaml:"id"`
	Type     string           `json:"type" yaml:"type"`
	Function ToolCallFunction `json:"function" yaml:"function"`
}

// Kind 消息的变体类型，由可选字段组合决定
// Kind is the message variant implied by which optional fields are present
type Kind int

const (
	KindInvalid Kind = iota
	KindPlain
	KindToolCalling
	KindThought
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindToolCalling:
		return "tool-calling"
	case KindThought:
		return "thought"
	case KindToolResult:
		return "tool-result"
	default:
		return "invalid"
	}
}

// Message is a live chat message as the UI and the provider see it.
// Optional fields are absent when empty.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Type       string     `json:"type,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Kind classifies the message by its optional fields.
func (m Message) Kind() Kind {
	return Classify(m.Role, m.Type, len(m.ToolCalls), m.ToolCallID, m.Name)
}

// Validate reports whether the message is one of the allowed variants.
func (m Message) Validate() error {
	return validate(m.ID, m.Role, m.Kind())
}

// Classify 根据角色和可选字段判断变体；只有四种组合合法
// Classify maps a role plus optional-field presence onto a Kind; only four combinations are legal
func Classify(role, typ string, toolCalls int, toolCallID, name string) Kind {
	hasType := typ != ""
	hasCalls := toolCalls > 0
	hasResult := toolCallID != "" || name != ""

	switch {
	case !hasType && !hasCalls && !hasResult:
		return KindPlain
	case hasCalls && !hasType && !hasResult:
		if role != RoleAssistant {
			return KindInvalid
		}
		return KindToolCalling
	case hasType && !hasCalls && !hasResult:
		if role != RoleAssistant || typ != TypeTransitiveThought {
			return KindInvalid
		}
		return KindThought
	case hasResult && !hasType && !hasCalls:
		if role != RoleTool || toolCallID == "" || name == "" {
			return KindInvalid
		}
		return KindToolResult
	default:
		return KindInvalid
	}
}

// ValidateFields checks an id, role and kind triple. Shared with the persisted shape.
func ValidateFields(id, role string, kind Kind) error {
	return validate(id, role, kind)
}

func validate(id, role string, kind Kind) error {
	if id == "" {
		return fmt.Errorf("message id is empty")
	}
	if !IsRole(role) {
		return fmt.Errorf("message %s: unknown role %q", id, role)
	}
	if kind == KindInvalid {
		return fmt.Errorf("message %s: invalid optional field combination", id)
	}
	return nil
}

// IsRole reports whether r is a known role.
func IsRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// NewMessageID returns a random UUIDv4 string.
func NewMessageID() string {
	return uuid.NewString()
}

func NewUserMessage(content string) Message {
	return Message{ID: NewMessageID(), Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{ID: NewMessageID(), Role: RoleAssistant, Content: content}
}

func NewSystemMessage(content string) Message {
	return Message{ID: NewMessageID(), Role: RoleSystem, Content: content}
}

// NewToolCallMessage builds an assistant message carrying tool calls.
// With no calls it degrades to a plain assistant message.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	msg := NewAssistantMessage(content)
	if len(calls) > 0 {
		msg.ToolCalls = CloneToolCalls(calls)
	}
	return msg
}

func NewThoughtMessage(content string) Message {
	return Message{ID: NewMessageID(), Role: RoleAssistant, Content: content, Type: TypeTransitiveThought}
}

func NewToolResultMessage(callID, name, content string) Message {
	return Message{ID: NewMessageID(), Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// CloneToolCalls copies calls; nil and empty both come back nil.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	return out
}
