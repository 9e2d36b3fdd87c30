package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"chatkeep/internal/export"
	"chatkeep/internal/storage"

	"github.com/spf13/cobra"
)

var (
	exportFormat  string
	exportSession string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions as json, yaml or markdown",
	Long: `Export every stored session, or one with --session, to stdout or a file.

When --output is given without --format, the format follows the file extension.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		if exportOutput != "" && !cmd.Flags().Changed("format") {
			format = export.FormatFromPath(exportOutput)
		}

		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		sessions := app.Sessions.State().Sessions
		if exportSession != "" {
			sess, err := findSession(sessions, exportSession)
			if err != nil {
				return err
			}
			sessions = []storage.Session{sess}
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			if err := os.MkdirAll(filepath.Dir(exportOutput), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := export.Write(w, format, sessions, time.Now()); err != nil {
			return fmt.Errorf("export %s: %w", format, err)
		}
		if exportOutput != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d session(s) to %s\n", len(sessions), exportOutput)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import sessions from a json or yaml export",
	Long: `Import sessions from a file written by "chatkeep export".

Every record is validated first; nothing is written unless all of them are valid.
Sessions whose id already exists are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()

		sessions, err := export.Read(f, export.FormatFromPath(path))
		if err != nil {
			return err
		}

		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		if err := export.Import(cmd.Context(), app.Store, sessions); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d session(s)\n", len(sessions))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json, yaml or markdown")
	exportCmd.Flags().StringVarP(&exportSession, "session", "s", "", "Export only this session (n or id)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd, importCmd)
}
