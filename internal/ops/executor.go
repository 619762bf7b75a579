package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/config"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// SetupHint is appended to errors about missing remote procedures.
const SetupHint = "run `supabase-mcp setup` to install the server-side procedures"

// Executor runs single operations against the backend of the tier each one
// requires. All methods are safe for concurrent use.
type Executor struct {
	clients *backend.Clients
	policy  config.Policy
	procs   config.Procedures
	lg      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(x *Executor) {
		if lg != nil {
			x.lg = lg
		}
	}
}

// NewExecutor returns an Executor. policy and procs are copied and never
// change afterwards.
func NewExecutor(clients *backend.Clients, policy config.Policy, procs config.Procedures, opts ...Option) *Executor {
	x := &Executor{
		clients: clients,
		policy:  policy,
		procs:   procs,
		lg:      slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Query runs read-only SQL through the query procedure. It always uses the
// standard tier.
func (x *Executor) Query(ctx context.Context, sql string) Result {
	return x.run(ctx, KindQuery, "", func(ctx context.Context, lg *slog.Logger) (json.RawMessage, error) {
		if strings.TrimSpace(sql) == "" {
			return nil, apperr.New(apperr.Validation, "sql is required")
		}
		return x.rpc(ctx, lg, backend.TierStandard, x.procs.Query, map[string]string{"query": sql})
	})
}

// CreateTable runs a CREATE TABLE statement through the write procedure.
func (x *Executor) CreateTable(ctx context.Context, sql string) Result {
	return x.run(ctx, KindCreateTable, "", func(ctx context.Context, lg *slog.Logger) (json.RawMessage, error) {
		if err := validateCreateTable(sql); err != nil {
			return nil, err
		}
		tier, err := SelectTier(KindCreateTable, x.policy)
		if err != nil {
			return nil, err
		}
		return x.rpc(ctx, lg, tier, x.procs.Write, map[string]string{"query": sql})
	})
}

// Insert inserts one row and returns it projected by returning.
func (x *Executor) Insert(ctx context.Context, table string, vals values.Fields, returning string) Result {
	return x.runOp(ctx, Operation{Type: KindInsert, Table: table, Values: vals, Returning: returning})
}

// Update sets vals on every row matching all filter entries.
func (x *Executor) Update(ctx context.Context, table string, vals, filter values.Fields, returning string) Result {
	return x.runOp(ctx, Operation{Type: KindUpdate, Table: table, Values: vals, Filter: filter, Returning: returning})
}

// Delete removes every row matching all filter entries. An empty filter
// is rejected before any backend call.
func (x *Executor) Delete(ctx context.Context, table string, filter values.Fields, returning string) Result {
	return x.runOp(ctx, Operation{Type: KindDelete, Table: table, Filter: filter, Returning: returning})
}

// ListTables lists the tables visible to the standard credential.
func (x *Executor) ListTables(ctx context.Context) ([]string, error) {
	b, err := x.backend(backend.TierStandard)
	if err != nil {
		return nil, err
	}
	tables, err := b.Tables(ctx)
	if err != nil {
		return nil, backendErr("list tables", x.procs.Query, err)
	}
	return tables, nil
}

// DescribeTable lists the columns of a table.
func (x *Executor) DescribeTable(ctx context.Context, table string) ([]backend.Column, error) {
	table, err := sanitizeTable(table)
	if err != nil {
		return nil, err
	}
	b, err := x.backend(backend.TierStandard)
	if err != nil {
		return nil, err
	}
	cols, err := b.Columns(ctx, table)
	if err != nil {
		return nil, backendErr("describe "+table, x.procs.Query, err)
	}
	return cols, nil
}

func (x *Executor) runOp(ctx context.Context, op Operation) Result {
	return x.run(ctx, op.Type, op.Table, func(ctx context.Context, lg *slog.Logger) (json.RawMessage, error) {
		op, err := op.normalize()
		if err != nil {
			return nil, err
		}
		tier, err := SelectTier(op.Type, x.policy)
		if err != nil {
			return nil, err
		}
		return x.apply(ctx, lg, tier, op)
	})
}

// apply dispatches a normalized operation with the given tier.
func (x *Executor) apply(ctx context.Context, lg *slog.Logger, tier backend.Tier, op Operation) (json.RawMessage, error) {
	b, err := x.backend(tier)
	if err != nil {
		return nil, err
	}
	lg.DebugContext(ctx, "dispatch", "tier", tier, "table", op.Table)

	var data json.RawMessage
	switch op.Type {
	case KindInsert:
		data, err = b.Insert(ctx, op.Table, op.Values, op.Returning)
	case KindUpdate:
		data, err = b.Update(ctx, op.Table, op.Values, op.Filter, op.Returning)
	case KindDelete:
		data, err = b.Delete(ctx, op.Table, op.Filter, op.Returning)
	default:
		return nil, apperr.Newf(apperr.Configuration, "unsupported operation type %q", op.Type)
	}
	if err != nil {
		return nil, backendErr(op.label(), "", err)
	}
	return data, nil
}

func (x *Executor) rpc(ctx context.Context, lg *slog.Logger, tier backend.Tier, fn string, args any) (json.RawMessage, error) {
	b, err := x.backend(tier)
	if err != nil {
		return nil, err
	}
	lg.DebugContext(ctx, "rpc", "tier", tier, "fn", fn)
	data, err := b.RPC(ctx, fn, args)
	if err != nil {
		return nil, backendErr(fn, fn, err)
	}
	return data, nil
}

func (x *Executor) backend(tier backend.Tier) (backend.Backend, error) {
	b, err := x.clients.Get(tier)
	if errors.Is(err, backend.ErrNotConfigured) {
		return nil, apperr.Wrap(apperr.Configuration, fmt.Sprintf("no %s credential available", tier), err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, fmt.Sprintf("connect %s backend", tier), err)
	}
	return b, nil
}

// backendErr classifies a backend failure. A missing procedure is a
// configuration problem, everything else is a backend error.
func backendErr(what, fn string, err error) error {
	var e *apperr.E
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, backend.ErrProcedureNotFound) {
		if fn == "" {
			return apperr.Wrap(apperr.Configuration, "remote procedure not installed: "+SetupHint, err)
		}
		return apperr.Wrap(apperr.Configuration, fmt.Sprintf("remote procedure %q is not installed; %s", fn, SetupHint), err)
	}
	return apperr.Wrap(apperr.Backend, what+" failed", err)
}

// run executes fn with a request id, turns panics into internal errors and
// logs the outcome.
func (x *Executor) run(ctx context.Context, kind Kind, table string, fn func(context.Context, *slog.Logger) (json.RawMessage, error)) Result {
	lg := x.lg.With("request_id", uuid.NewString(), "operation", kind)
	if table != "" {
		lg = lg.With("table", table)
	}
	start := time.Now()
	lg.DebugContext(ctx, "operation started")

	data, err := guard(ctx, lg, func() (json.RawMessage, error) { return fn(ctx, lg) })
	if err != nil {
		lg.WarnContext(ctx, "operation failed", "code", apperr.KindOf(err), "error", err, "took", time.Since(start))
		return Failure(err)
	}
	lg.DebugContext(ctx, "operation completed", "took", time.Since(start))
	return success(data)
}

// guard calls fn and converts a panic into an Internal error.
func guard[T any](ctx context.Context, lg *slog.Logger, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			lg.ErrorContext(ctx, "panic in operation", "panic", r, "stack", string(debug.Stack()))
			var zero T
			out, err = zero, apperr.Newf(apperr.Internal, "unexpected failure: %v", r)
		}
	}()
	return fn()
}
