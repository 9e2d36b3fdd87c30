package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageKind(t *testing.T) {
	calls := []ToolCall{{ID: "call_1", Type: "function", Function: ToolCallFunction{Name: "current_time", Arguments: "{}"}}}

	tests := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"plain user", Message{ID: "1", Role: RoleUser, Content: "hi"}, KindPlain},
		{"plain system", Message{ID: "1", Role: RoleSystem}, KindPlain},
		{"tool calling", Message{ID: "1", Role: RoleAssistant, ToolCalls: calls}, KindToolCalling},
		{"thought", Message{ID: "1", Role: RoleAssistant, Type: TypeTransitiveThought}, KindThought},
		{"tool result", Message{ID: "1", Role: RoleTool, ToolCallID: "call_1", Name: "current_time"}, KindToolResult},
		{"calls on user", Message{ID: "1", Role: RoleUser, ToolCalls: calls}, KindInvalid},
		{"unknown type", Message{ID: "1", Role: RoleAssistant, Type: "draft"}, KindInvalid},
		{"result without name", Message{ID: "1", Role: RoleTool, ToolCallID: "call_1"}, KindInvalid},
		{"thought with calls", Message{ID: "1", Role: RoleAssistant, Type: TypeTransitiveThought, ToolCalls: calls}, KindInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.msg.Kind())
		})
	}
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, NewUserMessage("hello").Validate())
	assert.NoError(t, NewThoughtMessage("thinking").Validate())
	assert.NoError(t, NewToolResultMessage("call_1", "search_sessions", "[]").Validate())

	assert.Error(t, Message{Role: RoleUser}.Validate(), "empty id")
	assert.Error(t, Message{ID: "x", Role: "narrator"}.Validate(), "unknown role")
	assert.Error(t, Message{ID: "x", Role: RoleTool, Name: "n"}.Validate(), "incomplete tool result")
}

func TestConstructorsProduceDistinctIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewUserMessage("x").ID
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewToolCallMessage_CopiesCalls(t *testing.T) {
	calls := []ToolCall{{ID: "call_1", Type: "function", Function: ToolCallFunction{Name: "a"}}}
	msg := NewToolCallMessage("", calls)
	calls[0].ID = "mutated"

	assert.Equal(t, KindToolCalling, msg.Kind())
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, KindPlain, NewToolCallMessage("done", nil).Kind())
}
