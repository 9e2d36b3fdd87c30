// Package provider talks to OpenAI-compatible chat completion endpoints.
package provider

import (
	"context"

	"chatkeep/internal/chat"
)

// ChatRequest 一次模型请求；Messages 已包含系统提示词
// ChatRequest is one model call; Messages already carry the system prompt
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// StreamCallbacks 流式回调；任何字段都可以为 nil
// StreamCallbacks receive streamed deltas; any field may be nil
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnToolCall       func(call chat.ToolCall)
	OnUsage          func(usage Usage)
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	TotalTokens      int
}

// ChatResponse is the assembled result of one streamed completion.
type ChatResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Provider 模型后端接口
// Provider is the model backend
type Provider interface {
	// Chat 发送请求；增量通过 cb 推送，返回组装好的完整响应
	// Chat sends req, pushes deltas to cb and returns the assembled response
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)

	ListModels(ctx context.Context) ([]ModelInfo, error)

	Name() string

	CurrentModel() string

	// SetModel 切换当前模型
	// SetModel switches the active model
	SetModel(model string) error
}
