package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/infra/db"
	"github.com/codecanvas-io/collab/internal/infra/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Log.Level, cfg.App.Env)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		d, err := db.New(cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := d.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := db.Migrate(d); err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("env", cfg.App.Env))
		return nil
	},
}
