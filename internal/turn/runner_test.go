package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"chatkeep/internal/chat"
	"chatkeep/internal/contextmgr"
	"chatkeep/internal/provider"
	"chatkeep/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	responses []provider.ChatResponse
	errs      []error
	requests  []provider.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest, cb *provider.StreamCallbacks) (provider.ChatResponse, error) {
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return provider.ChatResponse{}, p.errs[i]
	}
	if i >= len(p.responses) {
		return provider.ChatResponse{}, errors.New("script exhausted")
	}
	resp := p.responses[i]
	if cb != nil && cb.OnTextChunk != nil && resp.Content != "" {
		cb.OnTextChunk(resp.Content)
	}
	return resp, nil
}

func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (p *scriptedProvider) Name() string                                             { return "scripted" }
func (p *scriptedProvider) CurrentModel() string                                     { return "test-model" }
func (p *scriptedProvider) SetModel(string) error                                    { return nil }

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Definition() chat.ToolDef {
	return chat.ToolDef{Type: "function", Function: chat.ToolFunction{Name: "echo", Parameters: map[string]any{"type": "object"}}}
}
func (echoTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Text == "" {
		return "", errors.New("text is required")
	}
	return "echo: " + in.Text, nil
}

func call(id, args string) chat.ToolCall {
	return chat.ToolCall{ID: id, Type: "function", Function: chat.ToolCallFunction{Name: "echo", Arguments: args}}
}

func TestPlainAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{{Content: "Hello!"}}}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{SystemPrompt: "be nice"})

	var streamed strings.Builder
	out, err := r.RunTurn(context.Background(), nil, "hi", &provider.StreamCallbacks{
		OnTextChunk: func(c string) { streamed.WriteString(c) },
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, chat.KindPlain, out[0].Kind())
	assert.Equal(t, chat.RoleAssistant, out[0].Role)
	assert.Equal(t, "Hello!", out[0].Content)
	assert.Equal(t, "Hello!", streamed.String())

	require.Len(t, p.requests, 1)
	msgs := p.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be nice", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "test-model", p.requests[0].Model)
	require.Len(t, p.requests[0].Tools, 1)
}

func TestToolLoopProducesAllVariants(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{
		{Reasoning: "need to echo", Content: "checking", ToolCalls: []chat.ToolCall{call("call_1", `{"text":"a"}`), call("call_2", `{}`)}},
		{Content: "done"},
	}}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{})

	out, err := r.RunTurn(context.Background(), nil, "go", nil)
	require.NoError(t, err)

	kinds := make([]chat.Kind, 0, len(out))
	for _, m := range out {
		require.NoError(t, m.Validate())
		kinds = append(kinds, m.Kind())
	}
	assert.Equal(t, []chat.Kind{chat.KindThought, chat.KindToolCalling, chat.KindToolResult, chat.KindToolResult, chat.KindPlain}, kinds)

	assert.Equal(t, "need to echo", out[0].Content)
	assert.Equal(t, "echo: a", out[2].Content)
	assert.Equal(t, "call_1", out[2].ToolCallID)
	assert.Equal(t, "echo", out[2].Name)
	assert.Equal(t, "error: text is required", out[3].Content)
	assert.Equal(t, "done", out[4].Content)

	// the second request carries the tool round trip
	require.Len(t, p.requests, 2)
	second := p.requests[1].Messages
	assert.Equal(t, "go", second[0].Content)
	assert.Equal(t, chat.KindToolResult, second[len(second)-1].Kind())
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{
		{ToolCalls: []chat.ToolCall{{ID: "call_x", Type: "function", Function: chat.ToolCallFunction{Name: "rm_rf"}}}},
		{Content: "sorry"},
	}}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{})

	out, err := r.RunTurn(context.Background(), nil, "x", nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "error: unknown tool: rm_rf", out[1].Content)
}

func TestProviderErrorReturnsNothing(t *testing.T) {
	boom := errors.New("upstream down")
	p := &scriptedProvider{
		responses: []provider.ChatResponse{{ToolCalls: []chat.ToolCall{call("call_1", `{"text":"a"}`)}}},
		errs:      []error{nil, boom},
	}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{})

	out, err := r.RunTurn(context.Background(), nil, "x", nil)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestCancelledContext(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{{Content: "never"}}}
	r := NewRunner(p, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := r.RunTurn(ctx, nil, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
	assert.Empty(t, p.requests)
}

func TestStepLimit(t *testing.T) {
	loop := provider.ChatResponse{ToolCalls: []chat.ToolCall{call("call_1", `{"text":"again"}`)}}
	p := &scriptedProvider{responses: []provider.ChatResponse{loop, loop, loop}}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{MaxSteps: 2})

	out, err := r.RunTurn(context.Background(), nil, "x", nil)
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Nil(t, out)
	assert.Len(t, p.requests, 2)
}

func TestHistoryDropsThoughtsAndTrims(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{{Content: "ok"}}}
	tok := contextmgr.NewHeuristicTokenizer()
	prior := []chat.Message{
		chat.NewUserMessage(strings.Repeat("old ", 500)),
		chat.NewAssistantMessage(strings.Repeat("older answer ", 300)),
		chat.NewUserMessage("recent question"),
		chat.NewThoughtMessage("private reasoning"),
		chat.NewAssistantMessage("recent answer"),
	}
	r := NewRunner(p, nil, Options{Tokenizer: tok, ContextTokenLimit: 60})

	_, err := r.RunTurn(context.Background(), prior, "next", nil)
	require.NoError(t, err)

	var contents []string
	for _, m := range p.requests[0].Messages {
		assert.NotEqual(t, chat.KindThought, m.Kind())
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"recent question", "recent answer", "next"}, contents)
}

func TestRecoveredToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []provider.ChatResponse{
		{Content: "Let me echo.\n<tool_call>{\"name\":\"echo\",\"arguments\":{\"text\":\"hi\"}}</tool_call>"},
		{Content: "echoed"},
	}}
	r := NewRunner(p, tools.NewRegistry(echoTool{}), Options{})

	out, err := r.RunTurn(context.Background(), nil, "x", nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, chat.KindToolCalling, out[0].Kind())
	assert.Equal(t, "Let me echo.", out[0].Content)
	assert.Equal(t, "call_recovered_1", out[0].ToolCalls[0].ID)
	assert.Equal(t, "echo: hi", out[1].Content)
}

func TestRecoverToolCallsShapes(t *testing.T) {
	defs := []chat.ToolDef{{Type: "function", Function: chat.ToolFunction{Name: "current_time"}}}

	calls, cleaned := recoverToolCalls("<tool_call><function=current_time><parameter=zone>\nUTC\n</parameter></function></tool_call>", defs)
	require.Len(t, calls, 1)
	assert.Equal(t, `{"zone":"UTC"}`, calls[0].Function.Arguments)
	assert.Empty(t, cleaned)

	calls, cleaned = recoverToolCalls(`before <tool_call>{"name":"bash","arguments":{}}</tool_call>`, defs)
	assert.Empty(t, calls)
	assert.Contains(t, cleaned, "<tool_call>")

	calls, _ = recoverToolCalls(`<tool_call>{"name":"current_time"}</tool_call>`, defs)
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Function.Arguments)
}
