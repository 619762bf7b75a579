package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/rest"
	"github.com/shakram02/go-supabase-mcp/internal/backend/sqldb"
	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/mcp"
	"github.com/shakram02/go-supabase-mcp/internal/ops"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	lg, err := newLogger(v)
	if err != nil {
		return err
	}
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, project, err := newFactory(cfg, lg)
	if err != nil {
		return err
	}
	if !cfg.HasPrivilegedCredential() {
		lg.Warn("no privileged credential configured; operations that need it will fail")
	}

	clients := backend.NewClients(factory)
	defer func() {
		if err := clients.Close(); err != nil {
			lg.Warn("close backends", "error", err)
		}
	}()

	x := ops.NewExecutor(clients, cfg.Policy, cfg.Procedures, ops.WithLogger(lg))
	srv := mcp.New(x, ops.NewCoordinator(x), mcp.WithLogger(lg), mcp.WithProject(project))

	lg.Info("starting", "backend", cfg.Backend, "project", project, "transport", cfg.Transport)
	if err := srv.Serve(ctx, mcp.Transport(cfg.Transport), cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("server stopped")
	return nil
}

// newFactory returns the backend factory for cfg and the project name used
// in resource URIs. Backends are not contacted until first use.
func newFactory(cfg config.Config, lg *slog.Logger) (backend.Factory, string, error) {
	switch cfg.Backend {
	case "sql":
		return sqlFactory(cfg, lg)
	case "rest", "":
		return restFactory(cfg, lg), cfg.Project, nil
	}
	return nil, "", fmt.Errorf("unknown backend %q", cfg.Backend)
}

func restFactory(cfg config.Config, lg *slog.Logger) backend.Factory {
	opts := []rest.Option{
		rest.WithTimeout(cfg.Timeout),
		rest.WithRateLimit(cfg.RateLimit),
		rest.WithLogger(lg),
		rest.WithCatalogProcedure(cfg.Procedures.Query),
	}
	return func(t backend.Tier) (backend.Backend, error) {
		key := cfg.AnonKey
		if t == backend.TierPrivileged {
			if cfg.ServiceRoleKey == "" {
				return nil, fmt.Errorf("%w: no privileged credential, set SUPABASE_SERVICE_ROLE_KEY", backend.ErrNotConfigured)
			}
			key = cfg.ServiceRoleKey
		}
		c, err := rest.New(cfg.URL, key, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrNotConfigured, err)
		}
		lg.Debug("backend ready", "tier", t, "kind", "rest")
		return c, nil
	}
}

func sqlFactory(cfg config.Config, lg *slog.Logger) (backend.Factory, string, error) {
	d, err := sqldb.DialectFor(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	project := cfg.Project
	if project == "" {
		project = d.DatabaseName(cfg.DBURL)
	}
	opts := []sqldb.Option{
		sqldb.WithProcedures(cfg.Procedures.Query, cfg.Procedures.Write, cfg.Procedures.Transaction),
		sqldb.WithMaxRows(cfg.MaxRows),
		sqldb.WithLogger(lg),
	}
	return func(t backend.Tier) (backend.Backend, error) {
		dsn := cfg.DBURL
		if t == backend.TierPrivileged {
			if cfg.DBAdminURL == "" {
				return nil, fmt.Errorf("%w: no privileged credential, set --%s", backend.ErrNotConfigured, config.KeyDBAdminURL)
			}
			dsn = cfg.DBAdminURL
		}
		b, err := sqldb.Open(context.Background(), d, dsn, opts...)
		if err != nil {
			return nil, err
		}
		lg.Debug("backend ready", "tier", t, "kind", "sql", "driver", d.DriverName())
		return b, nil
	}, project, nil
}
