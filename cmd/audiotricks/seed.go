package main

import (
	"fmt"

	"audiotricks-service/internal/catalog"
	"audiotricks-service/internal/config"
	"audiotricks-service/internal/db"
	"audiotricks-service/internal/repository/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func seedCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load plans, hierarchy rules and currencies from a catalog file",
		Long: `Seed the plan catalog. Without --file the built-in catalog is used.
Existing rows are matched by code and updated in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Catalog.Path
			}

			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			seeder := catalog.NewSeeder(
				postgres.NewPlanRepository(pool),
				postgres.NewRuleRepository(pool),
				postgres.NewCurrencyRepository(pool),
				logger,
			)
			if err := seeder.Seed(ctx, cat); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d plans, %d rules, %d currencies\n",
				len(cat.Plans), len(cat.Rules), len(cat.Currencies))
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "catalog YAML (defaults to CATALOG_PATH or the built-in catalog)")
	return cmd
}
