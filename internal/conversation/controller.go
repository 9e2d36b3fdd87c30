// Package conversation wires a user's input through the session facade and the turn runner.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatkeep/internal/adapter"
	"chatkeep/internal/binding"
	"chatkeep/internal/chat"
	"chatkeep/internal/provider"
	"chatkeep/internal/session"
	"chatkeep/internal/storage"

	"go.uber.org/zap"
)

var (
	// ErrNotSaved 内存中的修改已生效，但可能没有写入磁盘
	// ErrNotSaved means the change is visible in memory but may not have reached disk
	ErrNotSaved = errors.New("your change may not have been saved")

	ErrEmptyInput = errors.New("input is empty")
)

// Sessions is the part of binding.Facade the controller drives.
type Sessions interface {
	Ready() <-chan struct{}
	State() binding.State
	CreateSession(ctx context.Context, title string) (storage.Session, error)
	AddMessageTo(ctx context.Context, sessionID string, msg chat.Message) error
	UpdateSessionTitle(ctx context.Context, id, title string) error
}

type TurnRunner interface {
	RunTurn(ctx context.Context, prior []chat.Message, input string, cb *provider.StreamCallbacks) ([]chat.Message, error)
}

type Controller struct {
	sessions Sessions
	runner   TurnRunner
	logger   *zap.Logger
}

func NewController(sessions Sessions, runner TurnRunner, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{sessions: sessions, runner: runner, logger: logger.Named("conversation")}
}

// Send 处理一条用户输入：确保有活跃会话，保存用户消息，必要时生成标题，执行一轮对话并保存结果
// Send handles one user input: ensure an active session, save the user message, title the
// session on its first user message, run the turn and save what it produced.
//
// The target session is pinned when Send starts, so switching sessions mid-turn does not
// redirect the answer. A failed turn leaves the user message in place and adds nothing else.
// Store failures are reported as ErrNotSaved after the turn completes.
func (c *Controller) Send(ctx context.Context, input string, cb *provider.StreamCallbacks) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}
	select {
	case <-c.sessions.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	var saveErrs []error
	target, ok := c.sessions.State().ActiveSession()
	if !ok {
		created, err := c.sessions.CreateSession(ctx, "")
		if err != nil {
			if created.ID == "" {
				return err
			}
			saveErrs = append(saveErrs, err)
		}
		target = created
	}
	sid := target.ID
	prior := adapter.FromPersistedAll(target.Messages)

	if err := c.sessions.AddMessageTo(ctx, sid, chat.NewUserMessage(input)); err != nil {
		saveErrs = append(saveErrs, err)
	}
	if !hasUserMessage(prior) {
		if err := c.sessions.UpdateSessionTitle(ctx, sid, session.GenerateTitle(input)); err != nil {
			saveErrs = append(saveErrs, err)
		}
	}

	finished, err := c.runner.RunTurn(ctx, prior, input, cb)
	if err != nil {
		c.logger.Info("turn failed", zap.String("session_id", sid), zap.Error(err))
		return err
	}

	for _, msg := range finished {
		if err := c.sessions.AddMessageTo(ctx, sid, msg); err != nil {
			saveErrs = append(saveErrs, err)
		}
	}

	if len(saveErrs) > 0 {
		c.logger.Error("conversation not fully saved", zap.String("session_id", sid), zap.Errors("errors", saveErrs))
		return fmt.Errorf("%w: %w", ErrNotSaved, errors.Join(saveErrs...))
	}
	return nil
}

func hasUserMessage(msgs []chat.Message) bool {
	for _, m := range msgs {
		if m.Role == chat.RoleUser {
			return true
		}
	}
	return false
}
