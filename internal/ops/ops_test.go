package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/sqldb"
	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

var testProcs = config.Procedures{
	Query:       config.DefaultRPCQuery,
	Write:       config.DefaultRPCWrite,
	Transaction: config.DefaultRPCTransaction,
}

var discard = slog.New(slog.DiscardHandler)

func newTestExecutor(clients *backend.Clients, policy config.Policy) *Executor {
	return NewExecutor(clients, policy, testProcs, WithLogger(discard))
}

// newSQLite returns an executor over a fresh sqlite database serving both
// tiers.
func newSQLite(t *testing.T) *Executor {
	t.Helper()
	b, err := sqldb.Open(context.Background(), &sqldb.SQLite{}, filepath.Join(t.TempDir(), "ops.db"), sqldb.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return newTestExecutor(backend.Static(b, b), config.Policy{})
}

func fields(t *testing.T, s string) values.Fields {
	t.Helper()
	var f values.Fields
	require.NoError(t, json.Unmarshal([]byte(s), &f))
	return f
}

func rows(t *testing.T, r Result) []map[string]any {
	t.Helper()
	require.True(t, r.Success, "result failed: %+v", r.Error)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(r.Data, &out))
	return out
}
