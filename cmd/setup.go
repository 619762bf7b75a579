package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/setup"
)

const setupTimeout = 2 * time.Minute

func newSetupCmd() *cobra.Command {
	var printOnly bool
	c := &cobra.Command{
		Use:   "setup",
		Short: "Install the server-side procedures into a Postgres database",
		Long: `setup creates the exec_sql, exec_sql_write and execute_transaction
functions the REST backend calls. It connects with --db-admin-url, or
--db-url if no admin url is given.

With --print the script is written to stdout instead, for pasting into a SQL
editor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				script, err := setup.Script()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), script)
				return err
			}
			return runSetup(cmd)
		},
	}
	c.Flags().BoolVar(&printOnly, "print", false, "print the install script instead of running it")
	return c
}

func runSetup(cmd *cobra.Command) error {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	lg, err := newLogger(v)
	if err != nil {
		return err
	}
	dsn := v.GetString(config.KeyDBAdminURL)
	if dsn == "" {
		dsn = v.GetString(config.KeyDBURL)
	}
	if dsn == "" {
		return errors.New("setup needs --db-admin-url or --db-url")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), setupTimeout)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := setup.Apply(ctx, db, lg); err != nil {
		return err
	}
	lg.Info("procedures installed")
	return nil
}
