package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"caseflow-backend/internal/shared/storage/db"
	"caseflow-backend/internal/shared/telemetry"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return eris.New("migrate: DATABASE_URL is required")
			}
			ctx := cmd.Context()

			sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultCLIOptions()))
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				return err
			}
			telemetry.Info("migrate.complete", nil)
			return nil
		},
	}
}
