package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/rest"
	"github.com/shakram02/go-supabase-mcp/internal/backend/sqldb"
	"github.com/shakram02/go-supabase-mcp/internal/config"
)

var discard = slog.New(slog.DiscardHandler)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, appName+" "+Version+"\n", out)
}

func TestSetup_print(t *testing.T) {
	out, err := run(t, "setup", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE OR REPLACE FUNCTION public.execute_transaction(")
}

func TestSetup_needsDSN(t *testing.T) {
	t.Setenv("SUPABASE_DB_URL", "")
	t.Setenv("SUPABASE_DB_ADMIN_URL", "")
	_, err := run(t, "setup")
	assert.ErrorContains(t, err, "--db-url")
}

func TestServe_invalidConfig(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("SUPABASE_KEY", "")
	_, err := run(t, "serve", "--backend", "rest")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRestFactory(t *testing.T) {
	cfg := config.Config{
		Backend: "rest",
		URL:     "https://abc.supabase.co",
		AnonKey: "anon",
		Project: "abc",
	}
	f, project, err := newFactory(cfg, discard)
	require.NoError(t, err)
	assert.Equal(t, "abc", project)

	b, err := f(backend.TierStandard)
	require.NoError(t, err)
	assert.IsType(t, &rest.Client{}, b)

	_, err = f(backend.TierPrivileged)
	assert.ErrorIs(t, err, backend.ErrNotConfigured)

	cfg.ServiceRoleKey = "service"
	f, _, err = newFactory(cfg, discard)
	require.NoError(t, err)
	b, err = f(backend.TierPrivileged)
	require.NoError(t, err)
	assert.IsType(t, &rest.Client{}, b)
}

func TestSQLFactory(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Backend:    "sql",
		Driver:     "sqlite",
		DBURL:      filepath.Join(dir, "shop.db"),
		MaxRows:    10,
		Procedures: config.Procedures{Query: "q", Write: "w", Transaction: "t"},
	}
	f, project, err := newFactory(cfg, discard)
	require.NoError(t, err)
	assert.Equal(t, "shop", project)

	clients := backend.NewClients(f)
	t.Cleanup(func() { clients.Close() })

	b, err := clients.Get(backend.TierStandard)
	require.NoError(t, err)
	assert.IsType(t, &sqldb.Backend{}, b)

	_, err = clients.Get(backend.TierPrivileged)
	assert.ErrorIs(t, err, backend.ErrNotConfigured)
}

func TestNewFactory_unknown(t *testing.T) {
	_, _, err := newFactory(config.Config{Backend: "grpc"}, discard)
	assert.Error(t, err)

	_, _, err = newFactory(config.Config{Backend: "sql", Driver: "oracle"}, discard)
	assert.Error(t, err)
}
