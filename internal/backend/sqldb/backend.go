package sqldb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	// drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// Connection pool settings.
const (
	ConnectionTimeout  = 10 * time.Second
	MaxConnectionsIdle = 5
	MaxConnectionsOpen = 10
)

// Backend is a backend.Backend over one database connection pool.
type Backend struct {
	db      *sqlx.DB
	d       Dialect
	dbName  string
	maxRows int
	lg      *slog.Logger

	queryFn, writeFn, txFn string
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithProcedures sets the names answered by RPC.
func WithProcedures(query, write, transaction string) Option {
	return func(b *Backend) {
		b.queryFn, b.writeFn, b.txFn = query, write, transaction
	}
}

// WithMaxRows caps the rows returned by the read procedure.
func WithMaxRows(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxRows = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(b *Backend) {
		if lg != nil {
			b.lg = lg
		}
	}
}

// Open connects to dsn with the dialect's driver and verifies the
// connection.
func Open(ctx context.Context, d Dialect, dsn string, opts ...Option) (*Backend, error) {
	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.DriverName(), err)
	}
	db.SetMaxIdleConns(MaxConnectionsIdle)
	db.SetMaxOpenConns(MaxConnectionsOpen)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.DriverName(), err)
	}
	return New(db, d, d.DatabaseName(dsn), opts...), nil
}

// New returns a Backend over an open pool.
func New(db *sqlx.DB, d Dialect, dbName string, opts ...Option) *Backend {
	b := &Backend{
		db:      db,
		d:       d,
		dbName:  dbName,
		maxRows: DefaultMaxRows,
		lg:      slog.Default(),
		queryFn: "exec_sql",
		writeFn: "exec_sql_write",
		txFn:    "execute_transaction",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close closes the pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// DatabaseName returns the connected database name.
func (b *Backend) DatabaseName() string { return b.dbName }

type sqlArgs struct {
	Query string `json:"query"`
}

type txArgs struct {
	Operations []backend.TxOperation `json:"operations"`
}

// RPC emulates the three remote procedures.
func (b *Backend) RPC(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	switch fn {
	case b.queryFn:
		var a sqlArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, badArgs(fn, err)
		}
		return b.read(ctx, a.Query)
	case b.writeFn:
		var a sqlArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, badArgs(fn, err)
		}
		return b.write(ctx, a.Query)
	case b.txFn:
		var a txArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, badArgs(fn, err)
		}
		return b.transaction(ctx, a.Operations)
	}
	return nil, backend.NewError(backend.ErrProcedureNotFound, 0, "", fmt.Sprintf("procedure %q does not exist", fn))
}

func badArgs(fn string, err error) error {
	return backend.NewError(nil, 0, "", fmt.Sprintf("invalid arguments for %s: %v", fn, err))
}

func (b *Backend) read(ctx context.Context, query string) (json.RawMessage, error) {
	if err := b.d.ValidateQuery(query); err != nil {
		return nil, backend.NewError(backend.ErrPermissionDenied, 0, "", "query rejected: "+err.Error())
	}
	start := time.Now()
	var out json.RawMessage
	err := b.d.ReadOnly(ctx, b.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, query)
		if err != nil {
			return err
		}
		out, err = b.encodeRows(rows)
		return err
	})
	if err != nil {
		return nil, b.mapErr(err)
	}
	b.lg.DebugContext(ctx, "read", "took", time.Since(start))
	return out, nil
}

// write runs SQL verbatim and reports rows affected.
func (b *Backend) write(ctx context.Context, query string) (json.RawMessage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, backend.NewError(nil, 0, "", "empty query")
	}
	res, err := b.db.ExecContext(ctx, query)
	if err != nil {
		return nil, b.mapErr(err)
	}
	n, _ := res.RowsAffected()
	return json.Marshal(map[string]int64{"rows_affected": n})
}

type txResult struct {
	Data json.RawMessage `json:"data"`
}

// transaction applies every operation in one transaction. Any failure
// rolls back all of them and is returned as the error.
func (b *Backend) transaction(ctx context.Context, ops []backend.TxOperation) (json.RawMessage, error) {
	results := make([]txResult, 0, len(ops))
	err := b.inTx(ctx, func(tx *sqlx.Tx) error {
		for i, op := range ops {
			var (
				data json.RawMessage
				err  error
			)
			switch op.Type {
			case "insert":
				data, err = b.insert(ctx, tx, op.Table, op.Values, op.Returning)
			case "update":
				data, err = b.update(ctx, tx, op.Table, op.Values, op.Filter, op.Returning)
			case "delete":
				data, err = b.delete(ctx, tx, op.Table, op.Filter, op.Returning)
			default:
				err = fmt.Errorf("unsupported operation type %q", op.Type)
			}
			if err != nil {
				be := b.mapErr(err)
				be.Message = fmt.Sprintf("operation %d (%s %s): %s", i, op.Type, op.Table, be.Message)
				return be
			}
			results = append(results, txResult{Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(results)
}

func (b *Backend) Insert(ctx context.Context, table string, vals values.Fields, returning string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.inTx(ctx, func(tx *sqlx.Tx) (err error) {
		out, err = b.insert(ctx, tx, table, vals, returning)
		return err
	})
	return out, err
}

func (b *Backend) Update(ctx context.Context, table string, vals, filter values.Fields, returning string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.inTx(ctx, func(tx *sqlx.Tx) (err error) {
		out, err = b.update(ctx, tx, table, vals, filter, returning)
		return err
	})
	return out, err
}

func (b *Backend) Delete(ctx context.Context, table string, filter values.Fields, returning string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.inTx(ctx, func(tx *sqlx.Tx) (err error) {
		out, err = b.delete(ctx, tx, table, filter, returning)
		return err
	})
	return out, err
}

// inTx runs fn in a read-write transaction and commits when fn succeeds.
// Errors are mapped through the dialect.
func (b *Backend) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return b.mapErr(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.lg.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return b.mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return b.mapErr(err)
	}
	return nil
}

// mapErr returns err as a *backend.Error, converting driver errors
// through the dialect.
func (b *Backend) mapErr(err error) *backend.Error {
	var be *backend.Error
	if errors.As(err, &be) {
		return be
	}
	return b.d.MapError(err)
}

// Tables lists the user tables.
func (b *Backend) Tables(ctx context.Context) ([]string, error) {
	q, args := b.d.ListTablesQuery(b.dbName)
	var tables []string
	if err := b.db.SelectContext(ctx, &tables, b.db.Rebind(q), args...); err != nil {
		return nil, b.mapErr(err)
	}
	return tables, nil
}

// Columns lists the columns of a table in ordinal order.
func (b *Backend) Columns(ctx context.Context, table string) ([]backend.Column, error) {
	cols, err := b.readColumns(ctx, b.db, table)
	if err != nil {
		return nil, b.mapErr(err)
	}
	return cols, nil
}

// queryer is a pool or a transaction.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func (b *Backend) readColumns(ctx context.Context, q queryer, table string) ([]backend.Column, error) {
	query, args := b.d.ReadSchemaQuery(b.dbName, table)
	rows, err := q.QueryContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []backend.Column
	for rows.Next() {
		col, err := b.d.ScanSchemaRow(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// encodeRows renders rows as a JSON array of objects with keys in column
// order. It stops after maxRows rows and appends a warning element.
func (b *Backend) encodeRows(rows *sqlx.Rows) (json.RawMessage, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		if n > 0 {
			buf.WriteByte(',')
		}
		if n >= b.maxRows {
			fmt.Fprintf(&buf, `{"_warning":"Result truncated at %d rows"}`, b.maxRows)
			break
		}
		row := make(map[string]any, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", n+1, err)
		}
		if err := writeRow(&buf, columns, row); err != nil {
			return nil, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeRow(buf *bytes.Buffer, columns []string, row map[string]any) error {
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return err
		}
		val := row[col]
		// Convert []byte to string for JSON serialization
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		v, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}
