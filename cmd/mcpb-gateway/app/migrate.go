package app

import (
	"github.com/spf13/cobra"

	"github.com/mcpbundler/gateway/internal/config"
	"github.com/mcpbundler/gateway/internal/db"
	"github.com/mcpbundler/gateway/internal/gwlog"
)

func migrateCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			if flags.DBFile != "" {
				cfg.Database.Path = flags.DBFile
			}

			// db.Open runs every pending migration under a cross-process
			// file lock before returning; there is nothing further to do.
			sqlDB, err := db.Open(db.Options{DBFile: cfg.Database.Path})
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			gwlog.Log("database migrated", map[string]any{"path": cfg.Database.Path})
			return nil
		},
	}
}
