package main

import (
	"fmt"
	"io"

	"chatkeep/internal/export"
	"chatkeep/internal/storage"
	"chatkeep/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

var showRaw bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		state := app.Sessions.State()
		printSessionList(cmd.OutOrStdout(), state.Sessions, state.ActiveSessionID)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <n|id>",
	Short: "Print one session as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		sess, err := findSession(app.Sessions.State().Sessions, args[0])
		if err != nil {
			return err
		}
		md := export.Markdown([]storage.Session{sess})
		if !showRaw {
			md = tui.RenderMarkdown(md, 100)
		}
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <n|id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		sess, err := findSession(app.Sessions.State().Sessions, args[0])
		if err != nil {
			return err
		}
		if err := app.Sessions.DeleteSession(cmd.Context(), sess.ID); err != nil {
			return fmt.Errorf("delete session %s: %w", sess.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", sess.Title, sess.ID)
		return nil
	},
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&showRaw, "raw", false, "Print plain markdown without terminal styling")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func findSession(sessions []storage.Session, arg string) (storage.Session, error) {
	id, err := resolveSessionTarget(arg, sessions)
	if err != nil {
		return storage.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return storage.Session{}, fmt.Errorf("session %s not found", id)
}

func printSessionList(w io.Writer, sessions []storage.Session, activeID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions stored yet.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d session(s)", len(sessions))))
	fmt.Fprintln(w)
	for i, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d. %s  %s  %s\n",
			marker,
			i+1,
			titleStyle.Render(s.Title),
			countStyle.Render(fmt.Sprintf("%d msgs", len(s.Messages))),
			dateStyle.Render(s.UpdatedAt),
		)
		fmt.Fprintf(w, "      %s\n", idStyle.Render(s.ID))
	}
}
