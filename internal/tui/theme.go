package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Danger    lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	TextDim   lipgloss.Color
	BgSidebar lipgloss.Color
	Border    lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle         lipgloss.Style
	SidebarStyle       lipgloss.Style
	SessionStyle       lipgloss.Style
	ActiveSessionStyle lipgloss.Style
	StatusBarStyle     lipgloss.Style
	InputStyle         lipgloss.Style
	UserStyle          lipgloss.Style
	ThoughtStyle       lipgloss.Style
	ToolStyle          lipgloss.Style
	ErrorStyle         lipgloss.Style
	MutedStyle         lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Accent:    lipgloss.Color("#F59E0B"),
		Danger:    lipgloss.Color("#EF4444"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
		TextDim:   lipgloss.Color("#9CA3AF"),
		BgSidebar: lipgloss.Color("#111827"),
		Border:    lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.SidebarStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderRight(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.SessionStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	t.ActiveSessionStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Background(t.Primary).
		Bold(true)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Background(t.BgSidebar)

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.UserStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Bold(true)

	t.ThoughtStyle = lipgloss.NewStyle().
		Foreground(t.Muted).
		Italic(true)

	t.ToolStyle = lipgloss.NewStyle().
		Foreground(t.Accent)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	return t
}
