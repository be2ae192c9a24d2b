package main

import (
	"fmt"

	"audiotricks-service/internal/config"
	"audiotricks-service/internal/db"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [command] [args...]",
		Short: "Run database migrations (up, down, status, redo, version)",
		Long: `Run goose migrations against DATABASE_URL.

Examples:
  audiotricks migrate up
  audiotricks migrate status
  audiotricks migrate down-to 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.Database.URL, args[0], args[1:]...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", args[0])
			return nil
		},
	}
}
