package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"chatkeep/internal/config"
	"chatkeep/internal/storage"
)

type replCommand struct {
	usage string
	help  string
}

var replCommands = []replCommand{
	{"/new [title]", "start a new session"},
	{"/sessions", "list sessions, most recent first"},
	{"/use <n|id>", "switch to a session"},
	{"/delete [n|id]", "delete a session (default: the active one)"},
	{"/title <text>", "rename the active session"},
	{"/clear", "leave the active session; the next message starts a new one"},
	{"/models", "list available models"},
	{"/model <name|n>", "switch model and save it to the project config"},
	{"/help", "show this help"},
	{"/exit", "quit"},
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "commands:")
	for _, c := range replCommands {
		fmt.Fprintf(r.out, "  %-16s %s\n", c.usage, c.help)
	}
}

// handleCommand 处理斜杠命令；返回 (是否已处理, 是否退出)
// handleCommand runs a slash command and reports (handled, exit)
func (r *repl) handleCommand(ctx context.Context, input string) (bool, bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(input), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return true, true
	case "/help":
		r.printHelp()
	case "/new":
		sess, err := r.sessions.CreateSession(ctx, arg)
		if err != nil {
			r.reportWrite("create session", err)
		}
		if sess.ID != "" {
			fmt.Fprintf(r.out, "new session: %s\n", sess.Title)
		}
	case "/sessions":
		r.listSessions()
	case "/use":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /use <n|id>")
			break
		}
		id, err := resolveSessionTarget(arg, r.sessions.State().Sessions)
		if err != nil {
			fmt.Fprintf(r.out, "use session failed: %v\n", err)
			break
		}
		r.sessions.SetActiveSession(id)
		if sess, ok := r.sessions.State().ActiveSession(); ok {
			fmt.Fprintf(r.out, "using session: %s (%d messages)\n", sess.Title, len(sess.Messages))
		}
	case "/delete":
		state := r.sessions.State()
		id := state.ActiveSessionID
		if arg != "" {
			var err error
			if id, err = resolveSessionTarget(arg, state.Sessions); err != nil {
				fmt.Fprintf(r.out, "delete session failed: %v\n", err)
				break
			}
		}
		if id == "" {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		if err := r.sessions.DeleteSession(ctx, id); err != nil {
			r.reportWrite("delete session", err)
		}
		fmt.Fprintln(r.out, "session deleted")
	case "/title":
		id := r.sessions.State().ActiveSessionID
		if arg == "" || id == "" {
			fmt.Fprintln(r.out, "usage: /title <text> (needs an active session)")
			break
		}
		if err := r.sessions.UpdateSessionTitle(ctx, id, arg); err != nil {
			r.reportWrite("rename session", err)
		}
		fmt.Fprintf(r.out, "title: %s\n", arg)
	case "/clear":
		r.sessions.ClearActiveSession()
		fmt.Fprintln(r.out, "no active session; the next message starts a new one")
	case "/models":
		r.listModels(ctx)
	case "/model":
		r.switchModel(arg)
	default:
		return false, false
	}
	return true, false
}

func (r *repl) reportWrite(op string, err error) {
	fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf("%s: your change may not have been saved: %v", op, err)))
}

func (r *repl) listSessions() {
	state := r.sessions.State()
	if len(state.Sessions) == 0 {
		fmt.Fprintln(r.out, "no sessions")
		return
	}
	for i, s := range state.Sessions {
		marker := " "
		if s.ID == state.ActiveSessionID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s [%d] %s  (%d messages, updated %s)\n", marker, i+1, s.Title, len(s.Messages), s.UpdatedAt)
	}
}

func (r *repl) listModels(ctx context.Context) {
	current := r.provider.CurrentModel()
	if remote, err := r.provider.ListModels(ctx); err == nil {
		ids := make([]string, 0, len(remote))
		for _, m := range remote {
			ids = append(ids, m.ID)
		}
		r.models = normalizedModels(append(r.models, ids...), current)
	} else {
		fmt.Fprintf(r.out, "list remote models failed, showing configured ones: %v\n", err)
		r.models = normalizedModels(r.models, current)
	}
	fmt.Fprintf(r.out, "current model: %s\n", current)
	for idx, m := range r.models {
		marker := " "
		if m == current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s [%d] %s\n", marker, idx+1, m)
	}
	fmt.Fprintln(r.out, "switch with: /model <name|n>")
}

func (r *repl) switchModel(arg string) {
	target, err := resolveModelTarget(arg, r.models)
	if err != nil {
		fmt.Fprintf(r.out, "usage: /model <name|n> (%v)\n", err)
		return
	}
	if err := r.provider.SetModel(target); err != nil {
		fmt.Fprintf(r.out, "switch model failed: %v\n", err)
		return
	}
	r.models = normalizedModels(r.models, target)
	fmt.Fprintf(r.out, "model switched to: %s\n", target)
	if r.projectDir == "" {
		return
	}
	if err := config.WriteProviderModel(r.projectDir, target); err != nil {
		fmt.Fprintf(r.out, "save model to project config failed: %v\n", err)
	}
}

// resolveSessionTarget 接受列表序号（从 1 开始）、完整 id 或唯一的 id 前缀
// resolveSessionTarget accepts a 1-based list index, a full id, or a unique id prefix
func resolveSessionTarget(arg string, sessions []storage.Session) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("missing session")
	}
	for _, s := range sessions {
		if s.ID == arg {
			return s.ID, nil
		}
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", fmt.Errorf("index %d out of range", n)
		}
		return sessions[n-1].ID, nil
	}
	match := ""
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", arg)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no session matches %q", arg)
	}
	return match, nil
}
