package ops

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/mock_backend"
	"github.com/shakram02/go-supabase-mcp/internal/backend/sqldb"
	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

func TestExecutor_RejectsBeforeBackend(t *testing.T) {
	ctx := context.Background()
	vals := values.Fields{{Column: "name", Value: values.String("x")}}
	filter := values.Fields{{Column: "id", Value: values.Int(1)}}

	tests := []struct {
		name string
		call func(x *Executor) Result
		code apperr.Kind
	}{
		{"delete nil filter", func(x *Executor) Result { return x.Delete(ctx, "users", nil, "") }, apperr.Validation},
		{"delete empty filter", func(x *Executor) Result { return x.Delete(ctx, "users", values.Fields{}, "") }, apperr.Validation},
		{"update empty filter", func(x *Executor) Result { return x.Update(ctx, "users", vals, values.Fields{}, "") }, apperr.Validation},
		{"update empty values", func(x *Executor) Result { return x.Update(ctx, "users", nil, filter, "") }, apperr.Validation},
		{"insert empty values", func(x *Executor) Result { return x.Insert(ctx, "users", nil, "") }, apperr.Validation},
		{"insert no table", func(x *Executor) Result { return x.Insert(ctx, "", vals, "") }, apperr.Validation},
		{"insert bad table", func(x *Executor) Result { return x.Insert(ctx, "users; drop", vals, "") }, apperr.InvalidIdentifier},
		{"delete bad projection", func(x *Executor) Result { return x.Delete(ctx, "users", filter, "id) --") }, apperr.InvalidIdentifier},
		{"create without create table", func(x *Executor) Result { return x.CreateTable(ctx, "DROP TABLE users") }, apperr.Validation},
		{"empty query", func(x *Executor) Result { return x.Query(ctx, "  ") }, apperr.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			// no expectations: any backend call fails the test
			std := mock_backend.NewMockBackend(ctrl)
			priv := mock_backend.NewMockBackend(ctrl)
			x := newTestExecutor(backend.Static(std, priv), config.Policy{})

			res := tt.call(x)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
		})
	}
}

func TestExecutor_QueryAlwaysStandard(t *testing.T) {
	ctrl := gomock.NewController(t)
	std := mock_backend.NewMockBackend(ctrl)
	priv := mock_backend.NewMockBackend(ctrl)
	std.EXPECT().
		RPC(gomock.Any(), "exec_sql", map[string]string{"query": "SELECT 1"}).
		Return(json.RawMessage(`[{"?column?":1}]`), nil)

	x := newTestExecutor(backend.Static(std, priv), config.Policy{})
	res := x.Query(context.Background(), "SELECT 1")
	assert.True(t, res.Success)
	assert.JSONEq(t, `[{"?column?":1}]`, string(res.Data))
}

func TestExecutor_CreateTable(t *testing.T) {
	const ddl = "create table notes (id int)"

	t.Run("privileged by default", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		std := mock_backend.NewMockBackend(ctrl)
		priv := mock_backend.NewMockBackend(ctrl)
		priv.EXPECT().RPC(gomock.Any(), "exec_sql_write", map[string]string{"query": ddl}).Return(json.RawMessage(`{"rows_affected":0}`), nil)

		res := newTestExecutor(backend.Static(std, priv), config.Policy{}).CreateTable(context.Background(), ddl)
		assert.True(t, res.Success)
	})
	t.Run("standard when allowed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		std := mock_backend.NewMockBackend(ctrl)
		priv := mock_backend.NewMockBackend(ctrl)
		std.EXPECT().RPC(gomock.Any(), "exec_sql_write", gomock.Any()).Return(json.RawMessage(`null`), nil)

		res := newTestExecutor(backend.Static(std, priv), config.Policy{AllowCreateWithStandard: true}).CreateTable(context.Background(), ddl)
		assert.True(t, res.Success)
	})
	t.Run("missing procedure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		priv := mock_backend.NewMockBackend(ctrl)
		priv.EXPECT().RPC(gomock.Any(), "exec_sql_write", gomock.Any()).
			Return(nil, backend.NewError(backend.ErrProcedureNotFound, 404, "PGRST202", "Could not find the function public.exec_sql_write"))

		res := newTestExecutor(backend.Static(mock_backend.NewMockBackend(ctrl), priv), config.Policy{}).CreateTable(context.Background(), ddl)
		assert.False(t, res.Success)
		require.NotNil(t, res.Error)
		assert.Equal(t, apperr.Configuration, res.Error.Code)
		assert.Contains(t, res.Error.Message, "exec_sql_write")
		assert.Contains(t, res.Error.Message, "supabase-mcp setup")
	})
}

func TestExecutor_MissingPrivilegedCredential(t *testing.T) {
	ctrl := gomock.NewController(t)
	std := mock_backend.NewMockBackend(ctrl)
	x := newTestExecutor(backend.Static(std, nil), config.Policy{})

	res := x.Insert(context.Background(), "users", values.Fields{{Column: "a", Value: values.Int(1)}}, "")
	assert.False(t, res.Success)
	assert.Equal(t, apperr.Configuration, res.Error.Code)
}

func TestExecutor_ConnectFailureIsRetried(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	dsn := filepath.Join(dir, "app.db")
	clients := backend.NewClients(func(backend.Tier) (backend.Backend, error) {
		b, err := sqldb.Open(context.Background(), &sqldb.SQLite{}, dsn, sqldb.WithLogger(discard))
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	t.Cleanup(func() { clients.Close() })
	x := newTestExecutor(clients, config.Policy{})

	res := x.Query(context.Background(), "SELECT 1 AS one")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperr.Backend, res.Error.Code)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	res = x.Query(context.Background(), "SELECT 1 AS one")
	assert.Equal(t, []map[string]any{{"one": float64(1)}}, rows(t, res))
}

func TestExecutor_BackendError(t *testing.T) {
	ctrl := gomock.NewController(t)
	priv := mock_backend.NewMockBackend(ctrl)
	be := backend.NewError(nil, 409, "23505", "duplicate key value violates unique constraint")
	priv.EXPECT().Insert(gomock.Any(), "users", gomock.Any(), "*").Return(nil, be)

	x := newTestExecutor(backend.Static(mock_backend.NewMockBackend(ctrl), priv), config.Policy{})
	res := x.Insert(context.Background(), "users", values.Fields{{Column: "email", Value: values.String("a@b")}}, "")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperr.Backend, res.Error.Code)
	assert.Contains(t, res.Error.Message, "duplicate key")
	assert.Equal(t, be, res.Error.Details)
}

func TestExecutor_UpdatePassesFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	std := mock_backend.NewMockBackend(ctrl)
	vals := values.Fields{{Column: "done", Value: values.Bool(true)}}
	filter := values.Fields{{Column: "id", Value: values.Int(3)}, {Column: "owner", Value: values.String("me")}}
	std.EXPECT().Update(gomock.Any(), "todos", vals, filter, "id,done").Return(json.RawMessage(`[{"id":3,"done":true}]`), nil)

	x := newTestExecutor(backend.Static(std, nil), config.Policy{AllowUpdateWithStandard: true})
	res := x.Update(context.Background(), "todos", vals, filter, "id, done")
	assert.True(t, res.Success)
	assert.JSONEq(t, `[{"id":3,"done":true}]`, string(res.Data))
}

func TestExecutor_RecoversPanic(t *testing.T) {
	clients := backend.NewClients(func(backend.Tier) (backend.Backend, error) {
		panic("boom")
	})
	x := newTestExecutor(clients, config.Policy{})
	res := x.Query(context.Background(), "SELECT 1")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperr.Internal, res.Error.Code)
	assert.Contains(t, res.Error.Message, "boom")
}

func TestExecutor_Catalog(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	std := mock_backend.NewMockBackend(ctrl)
	std.EXPECT().Tables(gomock.Any()).Return([]string{"a", "b"}, nil)
	std.EXPECT().Columns(gomock.Any(), "a").Return([]backend.Column{{Name: "id", DataType: "integer"}}, nil)
	std.EXPECT().Columns(gomock.Any(), "secret").Return(nil, backend.NewError(backend.ErrPermissionDenied, 401, "", "denied"))
	x := newTestExecutor(backend.Static(std, nil), config.Policy{})

	tables, err := x.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tables)

	cols, err := x.DescribeTable(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "id", cols[0].Name)

	_, err = x.DescribeTable(ctx, "secret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrPermissionDenied))
	assert.Equal(t, apperr.Backend, apperr.KindOf(err))

	_, err = x.DescribeTable(ctx, "a-b")
	assert.Equal(t, apperr.InvalidIdentifier, apperr.KindOf(err))
}

func TestExecutor_RoundTrip(t *testing.T) {
	ctx := context.Background()
	x := newSQLite(t)

	res := x.CreateTable(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)")
	require.True(t, res.Success, "%+v", res.Error)

	res = x.Insert(ctx, "t", fields(t, `{"name":"A","age":1}`), "*")
	inserted := rows(t, res)
	require.Len(t, inserted, 1)
	assert.Equal(t, "A", inserted[0]["name"])

	got := rows(t, x.Query(ctx, "SELECT * FROM t"))
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0]["name"])
	assert.EqualValues(t, 1, got[0]["age"])
}
