package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memohai/wagate/internal/config"
	"github.com/memohai/wagate/internal/db"
	"github.com/memohai/wagate/internal/logger"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadMigrateConfig()
				if err != nil {
					return err
				}
				return db.MigrateUp(logger.L, cfg.Postgres)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default: 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				cfg, err := loadMigrateConfig()
				if err != nil {
					return err
				}
				return db.MigrateDown(logger.L, cfg.Postgres, steps)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadMigrateConfig()
				if err != nil {
					return err
				}
				version, dirty, err := db.MigrationVersion(cfg.Postgres)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			},
		},
	)
	return cmd
}

func loadMigrateConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if cfg.Store.Driver != "postgres" {
		return config.Config{}, fmt.Errorf("migrations need store.driver = \"postgres\", got %q", cfg.Store.Driver)
	}
	return cfg, nil
}
