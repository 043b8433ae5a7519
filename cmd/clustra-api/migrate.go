package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Nxdus/clustra-project/internal/config"
	"github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		teardown := initLogger(cfg)
		defer teardown()

		zap.S().Info("Migrating database")
		defer zap.S().Info("Db migrated")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		if cfg.Service.MigrationFolder != "" {
			return migrations.MigrateStore(db, cfg.Service.MigrationFolder)
		}
		return st.InitialMigration()
	},
}
