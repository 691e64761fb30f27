package main

import (
	"github.com/spf13/cobra"

	"github.com/tokenbridge/bridge-relayer/db"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the relayer tables",
		Run: func(c *cobra.Command, _ []string) {
			cfg, parentLogger := loadConfig(c)
			logger := parentLogger.Sugar()

			gormDB, err := db.Init(cfg.Database)
			if err != nil {
				fatalf("%v", err)
			}
			defer func() { _ = db.Close(gormDB) }()

			if err := db.Migrate(gormDB); err != nil {
				_ = db.Close(gormDB)
				fatalf("migration failed: %v", err)
			}
			logger.Infof("%s database migrated", cfg.Database.Driver)
		},
	}
}
