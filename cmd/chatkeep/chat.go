package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"chatkeep/internal/binding"
	"chatkeep/internal/chat"
	"chatkeep/internal/conversation"
	"chatkeep/internal/provider"
	"chatkeep/internal/storage"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the line REPL (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

var (
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// replSessions is the part of binding.Facade the REPL drives.
type replSessions interface {
	State() binding.State
	CreateSession(ctx context.Context, title string) (storage.Session, error)
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionTitle(ctx context.Context, id, title string) error
	SetActiveSession(id string)
	ClearActiveSession()
}

type sender interface {
	Send(ctx context.Context, input string, cb *provider.StreamCallbacks) error
}

type repl struct {
	out      io.Writer
	sessions replSessions
	sender   sender
	provider provider.Provider
	models   []string
	// projectDir 是 /model 写入项目配置的目录 / where /model writes the project config
	projectDir string
}

func runChat(ctx context.Context) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	input, inputErr := newLineInput(filepath.Join(app.Config.Storage.BaseDir, "repl.history"))
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	r := &repl{
		out:        os.Stdout,
		sessions:   app.Sessions,
		sender:     app.Conversation,
		provider:   app.Provider,
		models:     normalizedModels(app.Config.Provider.Models, app.Provider.CurrentModel()),
		projectDir: cwd,
	}
	r.banner()
	return r.loop(ctx, input)
}

func (r *repl) banner() {
	state := r.sessions.State()
	fmt.Fprintf(r.out, "chatkeep · model %s · %d stored session(s)\n", r.provider.CurrentModel(), len(state.Sessions))
	if sess, ok := state.ActiveSession(); ok {
		fmt.Fprintf(r.out, "active session: %s (%d messages)\n", sess.Title, len(sess.Messages))
	}
	fmt.Fprintln(r.out, "type /help for commands")
}

func (r *repl) loop(ctx context.Context, input lineInput) error {
	for {
		line, err := input.ReadLine(r.prompt())
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if handled, exit := r.handleCommand(ctx, text); handled {
				if exit {
					return nil
				}
				continue
			}
		}
		r.send(ctx, text)
	}
}

func (r *repl) prompt() string {
	if sess, ok := r.sessions.State().ActiveSession(); ok {
		return truncateRunes(sess.Title, 24) + " > "
	}
	return "> "
}

// send 运行一轮对话；对话期间 Ctrl-C 只取消本轮
// send runs one turn; Ctrl-C during the turn cancels only the turn
func (r *repl) send(ctx context.Context, text string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var inReasoning, wroteText bool
	cb := &provider.StreamCallbacks{
		OnReasoningChunk: func(c string) {
			inReasoning = true
			fmt.Fprint(r.out, reasoningStyle.Render(c))
		},
		OnTextChunk: func(c string) {
			if inReasoning {
				fmt.Fprintln(r.out)
				inReasoning = false
			}
			wroteText = true
			fmt.Fprint(r.out, c)
		},
		OnToolCall: func(c chat.ToolCall) {
			fmt.Fprintln(r.out)
			fmt.Fprintln(r.out, toolStyle.Render(fmt.Sprintf("[tool] %s %s", c.Function.Name, c.Function.Arguments)))
		},
	}

	err := r.sender.Send(turnCtx, text, cb)
	if wroteText || inReasoning {
		fmt.Fprintln(r.out)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, warnStyle.Render("interrupted"))
	case errors.Is(err, conversation.ErrNotSaved):
		fmt.Fprintln(r.out, warnStyle.Render(err.Error()))
	default:
		fmt.Fprintln(r.out, warnStyle.Render("turn failed: "+err.Error()))
	}
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
