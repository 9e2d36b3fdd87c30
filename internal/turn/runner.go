// Package turn runs one conversation turn against the model, executing tool calls until the
// model answers without any.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatkeep/internal/chat"
	"chatkeep/internal/contextmgr"
	"chatkeep/internal/provider"
	"chatkeep/internal/tools"

	"go.uber.org/zap"
)

// ErrStepLimit is returned when the model keeps calling tools past the step budget.
var ErrStepLimit = errors.New("turn step limit reached")

const defaultMaxSteps = 8

type Options struct {
	SystemPrompt      string
	MaxSteps          int
	ContextTokenLimit int
	Tokenizer         *contextmgr.Tokenizer
	Logger            *zap.Logger
}

// Runner 执行一轮对话：请求模型、执行工具、直到模型不再调用工具
// Runner executes one turn: call the model, run tools, repeat until no tool calls remain
type Runner struct {
	provider     provider.Provider
	registry     *tools.Registry
	tok          *contextmgr.Tokenizer
	logger       *zap.Logger
	systemPrompt string
	maxSteps     int
	budget       int
}

func NewRunner(p provider.Provider, registry *tools.Registry, opts Options) *Runner {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Runner{
		provider:     p,
		registry:     registry,
		tok:          opts.Tokenizer,
		logger:       opts.Logger.Named("turn"),
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		maxSteps:     opts.MaxSteps,
		budget:       opts.ContextTokenLimit,
	}
}

// RunTurn 返回本轮产生的全部消息（不含用户输入）；出错时返回 nil，不泄露部分结果
// RunTurn returns every message the turn produced, user input excluded. On error it returns nil
// so no partial turn crosses the boundary.
func (r *Runner) RunTurn(ctx context.Context, prior []chat.Message, input string, cb *provider.StreamCallbacks) ([]chat.Message, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("provider unavailable")
	}
	history := r.history(prior)
	user := chat.NewUserMessage(input)
	defs := r.registry.Definitions()

	var produced []chat.Message
	for step := 0; step < r.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := provider.ChatRequest{
			Model:    r.provider.CurrentModel(),
			Messages: r.requestMessages(history, user, produced),
			Tools:    defs,
		}
		resp, err := r.provider.Chat(ctx, req, cb)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("provider chat: %w", err)
		}

		calls, content := resp.ToolCalls, resp.Content
		if len(calls) == 0 {
			if recovered, cleaned := recoverToolCalls(content, defs); len(recovered) > 0 {
				r.logger.Debug("recovered tool calls from content", zap.Int("count", len(recovered)))
				calls, content = recovered, cleaned
			}
		}

		if strings.TrimSpace(resp.Reasoning) != "" {
			produced = append(produced, chat.NewThoughtMessage(resp.Reasoning))
		}
		if len(calls) == 0 {
			produced = append(produced, chat.NewAssistantMessage(content))
			r.logger.Debug("turn finished", zap.Int("steps", step+1), zap.Int("messages", len(produced)))
			return produced, nil
		}

		produced = append(produced, chat.NewToolCallMessage(content, calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			produced = append(produced, r.runTool(ctx, call))
		}
	}

	r.logger.Warn("turn step limit reached", zap.Int("max_steps", r.maxSteps))
	return nil, ErrStepLimit
}

// history 去掉思考消息并按 token 预算裁剪
// history drops thought messages and trims to the token budget
func (r *Runner) history(prior []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(prior))
	for _, m := range prior {
		if m.Kind() == chat.KindThought || m.Role == chat.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	if r.tok != nil && r.budget > 0 {
		budget := r.budget - r.tok.CountText(r.systemPrompt)
		out = contextmgr.Trim(r.tok, out, max(budget, 1))
	}
	return out
}

func (r *Runner) requestMessages(history []chat.Message, user chat.Message, produced []chat.Message) []chat.Message {
	msgs := make([]chat.Message, 0, len(history)+len(produced)+2)
	if r.systemPrompt != "" {
		msgs = append(msgs, chat.NewSystemMessage(r.systemPrompt))
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, user)
	msgs = append(msgs, produced...)
	return msgs
}

// runTool 工具失败变成工具结果消息，而不是整轮失败
// runTool turns a tool failure into a result message instead of failing the turn
func (r *Runner) runTool(ctx context.Context, call chat.ToolCall) chat.Message {
	name := strings.TrimSpace(call.Function.Name)
	if name == "" {
		name = "unknown"
	}
	args := json.RawMessage(call.Function.Arguments)
	if len(strings.TrimSpace(call.Function.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := r.registry.Execute(ctx, name, args)
	if err != nil {
		r.logger.Info("tool failed", zap.String("tool", name), zap.Error(err))
		out = "error: " + err.Error()
	}
	return chat.NewToolResultMessage(call.ID, name, out)
}
