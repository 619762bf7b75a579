// Package cmd provides the command-line interface: the MCP server (the
// default command), the setup command that installs the server-side
// procedures, and version.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/logging"
)

const appName = "supabase-mcp"

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "MCP server for a Supabase (PostgREST) or SQL database",
		Long: `supabase-mcp exposes a database as MCP tools (query, createTable,
insertRecord, updateRecord, deleteRecord, batchOperations) and lists its
tables as resources.

Configuration comes from flags, SUPABASE_* environment variables, a .env file
in the working directory and an optional config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
		RunE: runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newSetupCmd(), newVersionCmd())
	return root
}

// Execute runs the CLI application and exits non-zero on failure.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fatal error", "panic", r)
			os.Exit(2)
		}
	}()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", appName, logging.Mask(err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the logger from the log-level and log-format settings.
func newLogger(v *viper.Viper) (*slog.Logger, error) {
	level, err := logging.ParseLevel(v.GetString(config.KeyLogLevel))
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, level, v.GetString(config.KeyLogFormat)), nil
}
