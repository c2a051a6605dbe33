package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/config"
	"github.com/notifyhub/activity-relay/internal/db"
)

func migrateCmd() *cobra.Command {
	var (
		dir   string
		steps int
	)
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Apply member-store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			version, err := db.Migrate(cfg.DatabaseURL, dir, steps)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrations applied", zap.Uint("version", version), zap.Int("steps", steps))
			return nil
		},
	}

	command.Flags().StringVar(&dir, "dir", "migrations", "Directory holding the migration files")
	command.Flags().IntVar(&steps, "steps", 0, "Apply N up (N>0) or down (N<0) migrations; 0 applies all pending")
	return command
}
