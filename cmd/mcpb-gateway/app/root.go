// Package app builds the mcpb-gateway command tree: a root command
// carrying persistent --db/--config/--listen flags, plus serve, migrate,
// and token subcommands, grounded on the teacher's cmd/docker-mcp
// command-tree style (cobra.Command with RunE closures).
package app

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mcpbundler/gateway/internal/gwlog"
)

// Flags holds the persistent flags shared by every subcommand.
type Flags struct {
	ConfigPath string
	DBFile     string
	Listen     string
	JSONLogs   bool
}

// Root builds the mcpb-gateway root command.
func Root() *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:           "mcpb-gateway",
		Short:         "Multiplexing gateway for MCP servers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			gwlog.Configure(flags.JSONLogs, zerolog.InfoLevel, nil)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to gateway config YAML (optional)")
	cmd.PersistentFlags().StringVar(&flags.DBFile, "db", "", "path to the SQLite database file (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.Listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.PersistentFlags().BoolVar(&flags.JSONLogs, "json-logs", false, "emit structured JSON logs instead of console output")

	cmd.AddCommand(serveCommand(&flags))
	cmd.AddCommand(migrateCommand(&flags))
	cmd.AddCommand(tokenCommand(&flags))
	return cmd
}
