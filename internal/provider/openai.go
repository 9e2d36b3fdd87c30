package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatkeep/internal/chat"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider 基于 go-openai SDK 的 Provider，兼容任何 OpenAI 风格的端点（包括 Ollama）
// OpenAIProvider implements Provider with the go-openai SDK against any OpenAI-style endpoint (Ollama included)
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *zap.Logger

	mu    sync.RWMutex
	model string
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
}

const baseBackoff = 150 * time.Millisecond

func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		config.BaseURL = base
	}

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		logger: logger.Named("provider"),
		model:  cfg.Model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
		})
	}
	return models, nil
}

// Chat 流式请求，失败时指数退避重试；上下文错误和 4xx（429 除外）不重试
// Chat streams the completion and retries with exponential backoff; context errors and 4xx other than 429 are final
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.CurrentModel()
	}
	sdkReq := buildSDKRequest(model, req)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			p.logger.Warn("retrying chat completion",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := p.chatStream(ctx, sdkReq, cb)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return ChatResponse{}, err
		}
	}
	return ChatResponse{}, fmt.Errorf("provider chat failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

func buildSDKRequest(model string, req ChatRequest) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		sdkReq.Tools = convertTools(req.Tools)
		sdkReq.ToolChoice = "auto"
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		sdkReq.MaxTokens = req.MaxTokens
	}
	return sdkReq
}

func (p *OpenAIProvider) chatStream(ctx context.Context, req openai.ChatCompletionRequest, cb *StreamCallbacks) (ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		contentBuilder   strings.Builder
		reasoningBuilder strings.Builder
		toolCallsByIdx   = map[int]*toolCallAccumulator{}
		finishReason     string
		usage            Usage
	)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ChatResponse{}, ctxErr
			}
			// 已收到部分内容时返回已有内容 / keep what already arrived
			if contentBuilder.Len() > 0 || reasoningBuilder.Len() > 0 || len(toolCallsByIdx) > 0 {
				p.logger.Warn("stream ended early", zap.Error(err))
				break
			}
			return ChatResponse{}, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}

			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				if cb != nil && cb.OnTextChunk != nil {
					cb.OnTextChunk(choice.Delta.Content)
				}
			}

			if choice.Delta.ReasoningContent != "" {
				reasoningBuilder.WriteString(choice.Delta.ReasoningContent)
				if cb != nil && cb.OnReasoningChunk != nil {
					cb.OnReasoningChunk(choice.Delta.ReasoningContent)
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := toolCallsByIdx[idx]
				if !ok {
					acc = &toolCallAccumulator{}
					toolCallsByIdx[idx] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Type != "" {
					acc.typ = string(tc.Type)
				}
				if tc.Function.Name != "" {
					acc.name += tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.args.WriteString(tc.Function.Arguments)
				}
			}
		}

		// 部分端点只在最后一个 chunk 返回 usage / some endpoints only report usage on the last chunk
		if resp.Usage != nil {
			usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			if resp.Usage.CompletionTokensDetails != nil {
				usage.ReasoningTokens = resp.Usage.CompletionTokensDetails.ReasoningTokens
			}
		}
	}

	toolCalls := assembleToolCalls(toolCallsByIdx)
	if cb != nil && cb.OnToolCall != nil {
		for _, tc := range toolCalls {
			cb.OnToolCall(tc)
		}
	}
	if cb != nil && cb.OnUsage != nil {
		cb.OnUsage(usage)
	}

	return ChatResponse{
		Content:      contentBuilder.String(),
		Reasoning:    reasoningBuilder.String(),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

type toolCallAccumulator struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// assembleToolCalls 按 index 顺序组装；缺失的 id 补成 call_<index>
// assembleToolCalls orders calls by index and fills a missing id with call_<index>
func assembleToolCalls(byIdx map[int]*toolCallAccumulator) []chat.ToolCall {
	if len(byIdx) == 0 {
		return nil
	}
	maxIdx := 0
	for idx := range byIdx {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	calls := make([]chat.ToolCall, 0, len(byIdx))
	for i := 0; i <= maxIdx; i++ {
		acc, ok := byIdx[i]
		if !ok {
			continue
		}
		id := strings.TrimSpace(acc.id)
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		typ := strings.TrimSpace(acc.typ)
		if typ == "" {
			typ = "function"
		}
		calls = append(calls, chat.ToolCall{
			ID:   id,
			Type: typ,
			Function: chat.ToolCallFunction{
				Name:      strings.TrimSpace(acc.name),
				Arguments: acc.args.String(),
			},
		})
	}
	return calls
}

// convertMessages 转为 SDK 消息；思考消息只用于展示，不发给模型
// convertMessages maps to SDK messages; thought messages are display-only and are not sent
func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.Kind() == chat.KindThought {
			continue
		}
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolType(tc.Type),
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []chat.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
