package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"chatkeep/internal/chat"
	"chatkeep/internal/storage"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	return renderMarkdownWith(content, width, glamour.WithAutoStyle())
}

// renderMarkdownWith 渲染失败时原样返回
// renderMarkdownWith returns the input unchanged when rendering fails
func renderMarkdownWith(content string, width int, style glamour.TermRendererOption) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.Trim(rendered, "\n")
}

// transcript 渲染一个会话的已持久化消息；渲染结果按消息 id 和宽度缓存
// transcript renders a session's persisted messages; output is cached by message id and width
type transcript struct {
	theme Theme
	cache map[string]string
}

func newTranscript(theme Theme) *transcript {
	return &transcript{theme: theme, cache: make(map[string]string)}
}

func (t *transcript) render(msgs []storage.Message, width int) string {
	if width <= 0 {
		width = 80
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		k := fmt.Sprintf("%s:%d", m.ID, width)
		out, ok := t.cache[k]
		if !ok {
			out = t.message(m, width)
			t.cache[k] = out
		}
		if out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (t *transcript) message(m storage.Message, width int) string {
	markdown := func(s string) string {
		return renderMarkdownWith(s, width, glamour.WithStandardStyle("dark"))
	}
	switch m.Kind() {
	case chat.KindThought:
		return t.theme.ThoughtStyle.Width(width).Render("💭 " + strings.TrimSpace(m.Content))
	case chat.KindToolCalling:
		lines := make([]string, 0, len(m.ToolCalls)+1)
		if strings.TrimSpace(m.Content) != "" {
			lines = append(lines, markdown(m.Content))
		}
		for _, c := range m.ToolCalls {
			line := fmt.Sprintf("🔧 %s %s", c.Function.Name, compactArgs(c.Function.Arguments))
			lines = append(lines, t.theme.ToolStyle.Render(ansi.Truncate(line, width, "…")))
		}
		return strings.Join(lines, "\n")
	case chat.KindToolResult:
		first, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
		line := fmt.Sprintf("  ✓ %s: %s", m.Name, first)
		return t.theme.MutedStyle.Render(ansi.Truncate(line, width, "…"))
	}

	switch m.Role {
	case chat.RoleUser:
		return t.theme.UserStyle.Render("👤 you") + "\n" + wrap(strings.TrimSpace(m.Content), width)
	case chat.RoleSystem:
		return t.theme.MutedStyle.Render(wrap(m.Content, width))
	default:
		return markdown(m.Content)
	}
}

func compactArgs(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(args)); err != nil {
		return args
	}
	return buf.String()
}

func wrap(s string, width int) string {
	return ansi.Wordwrap(s, width, "")
}
