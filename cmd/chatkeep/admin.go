package main

import (
	"fmt"
	"os"

	"chatkeep/internal/config"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the configured endpoint serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		current := app.Provider.CurrentModel()
		out := cmd.OutOrStdout()
		remote, err := app.Provider.ListModels(cmd.Context())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "list remote models failed, showing configured ones: %v\n", err)
			for _, m := range normalizedModels(app.Config.Provider.Models, current) {
				fmt.Fprintln(out, modelLine(m, "", m == current))
			}
			return nil
		}
		for _, m := range remote {
			fmt.Fprintln(out, modelLine(m.ID, m.OwnedBy, m.ID == current))
		}
		return nil
	},
}

func modelLine(id, owner string, current bool) string {
	marker := " "
	if current {
		marker = "*"
	}
	if owner == "" {
		return fmt.Sprintf("%s %s", marker, id)
	}
	return fmt.Sprintf("%s %s  %s", marker, id, dateStyle.Render(owner))
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter project config in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve cwd: %w", err)
		}
		path, created, err := config.InitProjectConfig(cwd)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd, initCmd)
}
