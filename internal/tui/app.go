// Package tui is the full-screen chat interface: a session sidebar, the active
// conversation and an input box, driven by the session facade.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatkeep/internal/binding"
	"chatkeep/internal/chat"
	"chatkeep/internal/conversation"
	"chatkeep/internal/provider"
	"chatkeep/internal/storage"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"
)

// Sessions is the part of binding.Facade the TUI drives.
type Sessions interface {
	State() binding.State
	Watch(ctx context.Context) <-chan binding.State
	CreateSession(ctx context.Context, title string) (storage.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SetActiveSession(id string)
}

// Sender runs one conversation turn; conversation.Controller implements it.
type Sender interface {
	Send(ctx context.Context, input string, cb *provider.StreamCallbacks) error
}

type Deps struct {
	Sessions Sessions
	Sender   Sender
	Flags    storage.FlagStore
	Model    string
	Logger   *zap.Logger
}

// --- Tea Messages ---

// TextChunkMsg 流式文本块
// TextChunkMsg is a streaming text chunk
type TextChunkMsg struct {
	Turn int
	Text string
}

// ReasoningChunkMsg 推理文本块
// ReasoningChunkMsg is a reasoning text chunk
type ReasoningChunkMsg struct {
	Turn int
	Text string
}

// ToolCallMsg 模型请求了一次工具调用
// ToolCallMsg reports a tool call requested by the model
type ToolCallMsg struct {
	Turn int
	Name string
}

// TurnDoneMsg 回合结束；Err 为 nil 表示结果已写入会话
// TurnDoneMsg ends a turn; a nil Err means the results were added to the session
type TurnDoneMsg struct {
	Turn int
	Err  error
}

type stateMsg struct {
	state binding.State
	ok    bool
}

// eventMsg wraps anything read from the turn event channel.
type eventMsg struct{ msg tea.Msg }

type sessionOpMsg struct {
	op  string
	err error
}

const (
	inputHeight  = 4
	statusHeight = 1
	eventBuffer  = 256
)

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width    int
	height   int
	chatView viewport.Model
	input    textarea.Model

	// 依赖 / Dependencies
	ctx      context.Context
	sessions Sessions
	sender   Sender
	flags    storage.FlagStore
	logger   *zap.Logger
	model    string

	// 会话状态 / Session state
	state  binding.State
	watch  <-chan binding.State
	events chan tea.Msg

	sidebarCollapsed bool

	// 当前回合 / Current turn
	turn          int
	streaming     bool
	streamSession string
	stream        string
	reasoning     string
	cancelTurn    context.CancelFunc

	status    string
	statusErr bool

	theme      Theme
	keys       KeyMap
	transcript *transcript
}

// NewApp 创建 TUI 应用；ctx 结束时停止接收会话状态
// NewApp creates the TUI application; session states stop arriving when ctx ends
func NewApp(ctx context.Context, deps Deps) App {
	ta := textarea.New()
	ta.Placeholder = "Send a message (enter to send, alt+enter for a new line)"
	ta.CharLimit = 8192
	ta.ShowLineNumbers = false
	ta.SetHeight(inputHeight - 1)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collapsed := false
	if deps.Flags != nil {
		collapsed = deps.Flags.LoadFlag(storage.FlagSidebarCollapsed)
	}

	theme := DarkTheme()
	return App{
		chatView:         viewport.New(80, 20),
		input:            ta,
		ctx:              ctx,
		sessions:         deps.Sessions,
		sender:           deps.Sender,
		flags:            deps.Flags,
		logger:           logger.Named("tui"),
		model:            deps.Model,
		state:            deps.Sessions.State(),
		watch:            deps.Sessions.Watch(ctx),
		events:           make(chan tea.Msg, eventBuffer),
		sidebarCollapsed: collapsed,
		theme:            theme,
		keys:             DefaultKeyMap(),
		transcript:       newTranscript(theme),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitState(a.watch), waitEvent(a.events))
}

func waitState(ch <-chan binding.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		return stateMsg{state: s, ok: ok}
	}
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return eventMsg{msg: <-ch}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		a.chatView, cmd = a.chatView.Update(msg)
		return a, cmd

	case stateMsg:
		if !msg.ok {
			return a, nil
		}
		a.applyState(msg.state)
		return a, waitState(a.watch)

	case eventMsg:
		a.handleEvent(msg.msg)
		return a, waitEvent(a.events)

	case sessionOpMsg:
		if msg.err != nil {
			a.logger.Warn("session operation failed", zap.String("op", msg.op), zap.Error(msg.err))
			if errors.Is(msg.err, binding.ErrUnavailable) {
				a.setError(msg.err)
			} else {
				a.setError(fmt.Errorf("%w: %w", conversation.ErrNotSaved, msg.err))
			}
		}
		return a, nil
	}

	// 更新输入区 / Update input area
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		a.stopTurn()
		return tea.Quit, true
	case key.Matches(msg, a.keys.Cancel):
		if a.streaming {
			a.stopTurn()
			a.setNotice("interrupted")
			a.refreshChat()
		}
		return nil, true
	case key.Matches(msg, a.keys.ToggleSidebar):
		a.toggleSidebar()
		return nil, true
	case key.Matches(msg, a.keys.NewSession):
		return a.createSession(), true
	case key.Matches(msg, a.keys.DeleteSession):
		return a.deleteActive(), true
	case key.Matches(msg, a.keys.PrevSession):
		a.step(-1)
		return nil, true
	case key.Matches(msg, a.keys.NextSession):
		a.step(1)
		return nil, true
	case key.Matches(msg, a.keys.PageUp), key.Matches(msg, a.keys.PageDown):
		var cmd tea.Cmd
		a.chatView, cmd = a.chatView.Update(msg)
		return cmd, true
	case key.Matches(msg, a.keys.Send):
		return a.submit(), true
	}
	return nil, false
}

// submit 启动一轮对话；回合在 Cmd 的 goroutine 中运行，流式增量经 events 通道送回
// submit starts a turn; it runs in the Cmd goroutine and streams deltas back through the events channel
func (a *App) submit() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return nil
	}
	if a.streaming {
		a.setNotice("wait for the current answer or press esc")
		return nil
	}
	a.input.Reset()

	a.turn++
	turn := a.turn
	ctx, cancel := context.WithCancel(a.ctx)
	a.cancelTurn = cancel
	a.streaming = true
	a.streamSession = a.state.ActiveSessionID
	a.stream, a.reasoning = "", ""
	a.status, a.statusErr = "", false
	a.refreshChat()

	events := a.events
	sender := a.sender
	emit := func(m tea.Msg) {
		select {
		case events <- m:
		case <-ctx.Done():
		}
	}
	cb := &provider.StreamCallbacks{
		OnTextChunk:      func(c string) { emit(TextChunkMsg{Turn: turn, Text: c}) },
		OnReasoningChunk: func(c string) { emit(ReasoningChunkMsg{Turn: turn, Text: c}) },
		OnToolCall:       func(c chat.ToolCall) { emit(ToolCallMsg{Turn: turn, Name: c.Function.Name}) },
	}
	return func() tea.Msg {
		err := sender.Send(ctx, text, cb)
		cancel()
		events <- TurnDoneMsg{Turn: turn, Err: err}
		return nil
	}
}

func (a *App) handleEvent(msg tea.Msg) {
	switch m := msg.(type) {
	case TextChunkMsg:
		if m.Turn != a.turn || !a.streaming {
			return
		}
		a.stream += m.Text
	case ReasoningChunkMsg:
		if m.Turn != a.turn || !a.streaming {
			return
		}
		a.reasoning += m.Text
	case ToolCallMsg:
		if m.Turn != a.turn || !a.streaming {
			return
		}
		a.stream += "\n🔧 " + m.Name + "\n"
	case TurnDoneMsg:
		if m.Turn != a.turn {
			return
		}
		a.streaming = false
		a.stream, a.reasoning = "", ""
		a.cancelTurn = nil
		if m.Err != nil && !errors.Is(m.Err, context.Canceled) {
			a.logger.Warn("turn failed", zap.Error(m.Err))
			a.setError(m.Err)
		}
	default:
		return
	}
	a.refreshChat()
}

// stopTurn 取消当前回合并丢弃流式缓冲
// stopTurn cancels the running turn and drops the streaming buffer
func (a *App) stopTurn() {
	if a.cancelTurn != nil {
		a.cancelTurn()
		a.cancelTurn = nil
	}
	a.streaming = false
	a.stream, a.reasoning = "", ""
}

func (a *App) applyState(s binding.State) {
	a.state = s
	if a.streaming && a.streamSession == "" {
		a.streamSession = s.ActiveSessionID
	}
	a.refreshChat()
}

func (a *App) toggleSidebar() {
	a.sidebarCollapsed = !a.sidebarCollapsed
	if a.flags != nil {
		if err := a.flags.SaveFlag(storage.FlagSidebarCollapsed, a.sidebarCollapsed); err != nil {
			a.logger.Warn("save sidebar flag failed", zap.Error(err))
		}
	}
	a.relayout()
}

func (a *App) createSession() tea.Cmd {
	ctx, sessions := a.ctx, a.sessions
	return func() tea.Msg {
		_, err := sessions.CreateSession(ctx, "")
		return sessionOpMsg{op: "create", err: err}
	}
}

func (a *App) deleteActive() tea.Cmd {
	id := a.state.ActiveSessionID
	if id == "" {
		a.setNotice("no active session")
		return nil
	}
	ctx, sessions := a.ctx, a.sessions
	return func() tea.Msg {
		return sessionOpMsg{op: "delete", err: sessions.DeleteSession(ctx, id)}
	}
}

// step 在按更新时间排序的列表中移动活跃会话
// step moves the active pointer along the recency-ordered list
func (a *App) step(delta int) {
	list := a.state.Sessions
	if len(list) == 0 {
		return
	}
	idx := -1
	for i, s := range list {
		if s.ID == a.state.ActiveSessionID {
			idx = i
			break
		}
	}
	next := idx + delta
	if idx < 0 {
		next = 0
	}
	if next < 0 || next >= len(list) {
		return
	}
	a.sessions.SetActiveSession(list[next].ID)
	a.applyState(a.sessions.State())
}

func (a *App) setNotice(text string) {
	a.status, a.statusErr = text, false
}

func (a *App) setError(err error) {
	a.status, a.statusErr = err.Error(), true
}

// --- 布局 / Layout ---

func (a App) sidebarWidth() int {
	if a.sidebarCollapsed || a.width < 60 {
		return 0
	}
	w := a.width * 25 / 100
	if w < 20 {
		w = 20
	}
	if w > 36 {
		w = 36
	}
	return w
}

func (a *App) relayout() {
	mainWidth := a.width - a.sidebarWidth()
	chatHeight := a.height - inputHeight - statusHeight
	if chatHeight < 3 {
		chatHeight = 3
	}
	a.chatView.Width = mainWidth
	a.chatView.Height = chatHeight
	if mainWidth > 4 {
		a.input.SetWidth(mainWidth - 2)
	}
	a.refreshChat()
}

// refreshChat 重建聊天视图：活跃会话的消息，加上属于该会话的流式缓冲
// refreshChat rebuilds the chat view: the active session's messages plus the streaming buffer when it belongs to that session
func (a *App) refreshChat() {
	width := a.chatView.Width
	var b strings.Builder
	if sess, ok := a.state.ActiveSession(); ok {
		b.WriteString(a.transcript.render(sess.Messages, width))
	} else if a.state.IsLoading {
		b.WriteString(a.theme.MutedStyle.Render("Loading sessions..."))
	} else if !a.streaming {
		b.WriteString(a.theme.MutedStyle.Render("No active session. Type a message to start one."))
	}

	if a.streaming && (a.streamSession == "" || a.streamSession == a.state.ActiveSessionID) {
		if a.reasoning != "" {
			b.WriteString("\n\n" + a.theme.ThoughtStyle.Width(width).Render("💭 "+a.reasoning))
		}
		if a.stream != "" {
			b.WriteString("\n\n" + wrap(a.stream, width))
		}
		if a.reasoning == "" && a.stream == "" {
			b.WriteString("\n\n" + a.theme.MutedStyle.Render("…"))
		}
	}
	a.chatView.SetContent(b.String())
	a.chatView.GotoBottom()
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sw := a.sidebarWidth()
	mainWidth := a.width - sw

	chatPanel := lipgloss.NewStyle().
		Width(mainWidth).
		Height(a.chatView.Height).
		Render(a.chatView.View())
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())
	main := lipgloss.JoinVertical(lipgloss.Left, chatPanel, inputBox)

	if sw > 0 {
		main = lipgloss.JoinHorizontal(lipgloss.Top, a.renderSidebar(sw, a.height-statusHeight), main)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, a.renderStatusBar(a.width))
}

func (a App) renderSidebar(width, height int) string {
	inner := width - 1 // border
	lines := []string{a.theme.TitleStyle.Render(" Sessions"), ""}

	switch {
	case a.state.IsLoading:
		lines = append(lines, a.theme.MutedStyle.Render("  loading..."))
	case a.state.Err != nil:
		lines = append(lines, a.theme.ErrorStyle.Render("  history unavailable"))
	case len(a.state.Sessions) == 0:
		lines = append(lines, a.theme.MutedStyle.Render("  no sessions yet"))
	default:
		list := a.state.Sessions
		start, end := visibleRange(len(list), indexOf(list, a.state.ActiveSessionID), height-len(lines))
		for _, s := range list[start:end] {
			title := ansi.Truncate(s.Title, inner-3, "…")
			if s.ID == a.state.ActiveSessionID {
				lines = append(lines, a.theme.ActiveSessionStyle.Width(inner).Render(" ▸ "+title))
			} else {
				lines = append(lines, a.theme.SessionStyle.Render("   "+title))
			}
		}
	}

	return a.theme.SidebarStyle.
		Width(inner).
		Height(height).
		Render(strings.Join(lines, "\n"))
}

func (a App) renderStatusBar(width int) string {
	status := a.status
	switch {
	case a.streaming:
		status = "streaming (esc to stop)"
	case status == "":
		status = "ready"
	}
	if a.statusErr && !a.streaming {
		status = a.theme.ErrorStyle.Render(status)
	}

	left := fmt.Sprintf(" chatkeep · %s · %s", a.model, status)
	help := make([]string, 0, 6)
	for _, b := range a.keys.ShortHelp() {
		help = append(help, b.Help().Key+" "+b.Help().Desc)
	}
	right := strings.Join(help, " · ") + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		right = ""
		gap = width - lipgloss.Width(left)
	}
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(ansi.Truncate(bar, width, ""))
}

func indexOf(list []storage.Session, id string) int {
	for i, s := range list {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// visibleRange 返回长度为 size 且包含 active 的窗口
// visibleRange returns a window of at most size items that contains active
func visibleRange(n, active, size int) (int, int) {
	if size <= 0 {
		return 0, 0
	}
	if n <= size {
		return 0, n
	}
	start := 0
	if active >= size {
		start = active - size + 1
	}
	return start, start + size
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(ctx context.Context, deps Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := NewApp(ctx, deps)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
