// Command chatkeep is a terminal chat client whose conversations persist locally in SQLite.
package main

import (
	"context"
	"fmt"
	"os"

	"chatkeep/internal/bootstrap"
	"chatkeep/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "chatkeep",
	Short: "Chat with an OpenAI-compatible model and keep every session",
	Long: `chatkeep is a terminal chat client. Every session is stored in a local SQLite
database, so conversations survive restarts and can be searched, exported and imported.

Quick Start:
  chatkeep                       # line REPL (same as "chatkeep chat")
  chatkeep tui                   # full-screen interface
  chatkeep sessions list         # stored sessions, most recent first
  chatkeep export -o all.yaml    # back up every session`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// openApp 加载配置、构建应用并等待会话加载完成；调用方负责 Close
// openApp loads the config, builds the application and waits for sessions to load; callers must Close it
func openApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	select {
	case <-app.Sessions.Ready():
	case <-ctx.Done():
		_ = app.Close()
		return nil, ctx.Err()
	}
	if err := app.Sessions.State().Err; err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	return app, nil
}
