package main

import (
	"chatkeep/internal/tui"

	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the full-screen interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		return tui.Run(cmd.Context(), tui.Deps{
			Sessions: app.Sessions,
			Sender:   app.Conversation,
			Flags:    app.Flags,
			Model:    app.Provider.CurrentModel(),
			Logger:   app.Logger,
		})
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
