package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/mock_backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/sqldb"
	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/ops"
)

var discard = slog.New(slog.DiscardHandler)

var testProcs = config.Procedures{
	Query:       config.DefaultRPCQuery,
	Write:       config.DefaultRPCWrite,
	Transaction: config.DefaultRPCTransaction,
}

func newTestServer(t *testing.T, clients *backend.Clients) *Server {
	t.Helper()
	x := ops.NewExecutor(clients, config.Policy{}, testProcs, ops.WithLogger(discard))
	srv := New(x, ops.NewCoordinator(x), WithLogger(discard), WithProject("proj"))
	require.NotNil(t, srv)
	return srv
}

// newSQLiteServer returns a server over a fresh sqlite database serving
// both tiers.
func newSQLiteServer(t *testing.T) *Server {
	t.Helper()
	b, err := sqldb.Open(context.Background(), &sqldb.SQLite{}, filepath.Join(t.TempDir(), "mcp.db"), sqldb.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return newTestServer(t, backend.Static(b, b))
}

// toolReq builds a CallToolRequest with the given argument map.
func toolReq(args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// envelope decodes the JSON text of a tool result.
func envelope(t *testing.T, res *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out), tc.Text)
	return out
}

func errorCode(t *testing.T, env map[string]any) string {
	t.Helper()
	e, ok := env["error"].(map[string]any)
	require.True(t, ok, "no error in %v", env)
	code, _ := e["code"].(string)
	return code
}

// call sends one JSON-RPC request through the server and returns the
// decoded response.
func call(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := s.mcp.HandleMessage(context.Background(), raw)
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestNew_defaults(t *testing.T) {
	x := ops.NewExecutor(backend.Static(nil, nil), config.Policy{}, testProcs)
	srv := New(x, ops.NewCoordinator(x), WithLogger(nil), WithProject(""))
	assert.NotNil(t, srv.mcp)
	assert.NotNil(t, srv.logger)
	assert.Equal(t, "default", srv.project)
}

func TestInstructions(t *testing.T) {
	got := instructions("abc")
	assert.Contains(t, got, `"abc"`)
	assert.Contains(t, got, "supabase://abc/tables/")
	assert.Contains(t, got, "batchOperations")
}

func TestServer_listTools(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newTestServer(t, backend.Static(mock_backend.NewMockBackend(ctrl), nil))

	resp := call(t, srv, "tools/list", map[string]any{})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "%v", resp)
	var names []string
	for _, tl := range result["tools"].([]any) {
		names = append(names, tl.(map[string]any)["name"].(string))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"batchOperations", "createTable", "deleteRecord", "insertRecord", "query", "updateRecord"}, names)
}

func TestServe_unknownTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newTestServer(t, backend.Static(mock_backend.NewMockBackend(ctrl), nil))
	err := srv.Serve(context.Background(), Transport("carrier-pigeon"), "")
	assert.ErrorContains(t, err, "unknown transport")
}
