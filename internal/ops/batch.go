package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// BatchRequest is a list of operations and the dispatch mode.
type BatchRequest struct {
	Operations []Operation `json:"operations"`
	// UseTransaction selects one atomic remote call over sequential
	// execution. It defaults to true when decoded from JSON.
	UseTransaction bool `json:"useTransaction"`
}

func (r *BatchRequest) UnmarshalJSON(data []byte) error {
	type plain BatchRequest
	p := plain{UseTransaction: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = BatchRequest(p)
	return nil
}

// State is the terminal state of a batch.
type State string

const (
	StateRejected  State = "rejected"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
)

// BatchResult is the outcome of a batch.
type BatchResult struct {
	Success bool       `json:"success"`
	State   State      `json:"state"`
	Results []OpResult `json:"results"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OpResult is the outcome of one operation in a batch.
type OpResult struct {
	Index     int             `json:"index"`
	Operation Kind            `json:"operation"`
	Table     string          `json:"table,omitempty"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// Issue is one validation failure, by operation index.
type Issue struct {
	Index   int         `json:"index"`
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

// TxReply is one element of a transactional reply: data on success or a
// non-null error.
type TxReply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (r TxReply) failed() bool {
	e := bytes.TrimSpace(r.Error)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

// Transactor applies operations atomically with the given tier and returns
// one reply per operation, in order. It either returns an order-preserving
// reply or fails as a whole.
type Transactor interface {
	Transact(ctx context.Context, tier backend.Tier, ops []backend.TxOperation) ([]TxReply, error)
}

// Transact implements Transactor through the transaction procedure.
func (x *Executor) Transact(ctx context.Context, tier backend.Tier, ops []backend.TxOperation) ([]TxReply, error) {
	b, err := x.backend(tier)
	if err != nil {
		return nil, err
	}
	fn := x.procs.Transaction
	raw, err := b.RPC(ctx, fn, map[string]any{"operations": ops})
	if err != nil {
		return nil, backendErr(fn, fn, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		e := apperr.Newf(apperr.Configuration, "transaction procedure %q returned a non-array reply; %s", fn, SetupHint)
		if json.Valid(raw) {
			e.Details = json.RawMessage(raw)
		}
		return nil, e
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, apperr.Wrap(apperr.Configuration, fmt.Sprintf("transaction procedure %q returned a malformed reply", fn), err)
	}
	replies := make([]TxReply, len(elems))
	for i, el := range elems {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(el, &obj); err != nil || !hasAny(obj, "data", "error") {
			// not a {data}/{error} object: the element itself is the data
			replies[i] = TxReply{Data: el}
			continue
		}
		replies[i] = TxReply{Data: obj["data"], Error: obj["error"]}
	}
	return replies, nil
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// Coordinator validates and dispatches batches.
type Coordinator struct {
	x  *Executor
	tx Transactor
	lg *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTransactor replaces the transactional capability.
func WithTransactor(t Transactor) CoordinatorOption {
	return func(c *Coordinator) {
		if t != nil {
			c.tx = t
		}
	}
}

// NewCoordinator returns a Coordinator that runs sequential batches through
// x and transactional batches through x.Transact unless replaced.
func NewCoordinator(x *Executor, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{x: x, tx: x, lg: x.lg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute validates every operation and, if all are valid, dispatches the
// batch in the requested mode. It never panics.
func (c *Coordinator) Execute(ctx context.Context, req BatchRequest) (res BatchResult) {
	lg := c.lg.With("request_id", uuid.NewString(), "operation", "batch", "size", len(req.Operations), "transactional", req.UseTransaction)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			lg.ErrorContext(ctx, "panic in batch", "panic", r)
			res = BatchResult{
				State:   StateFailed,
				Results: []OpResult{},
				Error:   errorInfo(apperr.Newf(apperr.Internal, "unexpected failure: %v", r)),
			}
		}
		lg.DebugContext(ctx, "batch finished", "state", res.State, "success", res.Success, "took", time.Since(start))
	}()

	ops, issues := validateBatch(req.Operations)
	if len(issues) > 0 {
		lg.WarnContext(ctx, "batch rejected", "issues", len(issues))
		return BatchResult{
			State:   StateRejected,
			Results: []OpResult{},
			Error:   errorInfo(apperr.Newf(apperr.Validation, "batch rejected: %d invalid operations", len(issues)).WithDetails(issues)),
		}
	}

	tier, err := BatchTier(ops, c.x.policy)
	if err != nil {
		return BatchResult{State: StateRejected, Results: []OpResult{}, Error: errorInfo(err)}
	}
	lg = lg.With("tier", tier)

	if req.UseTransaction {
		return c.transactional(ctx, lg, tier, ops)
	}
	return c.sequential(ctx, lg, tier, ops)
}

// validateBatch normalizes every operation and collects all failures.
func validateBatch(in []Operation) ([]Operation, []Issue) {
	if len(in) == 0 {
		return nil, []Issue{{Index: -1, Code: apperr.Validation, Message: "operations must not be empty"}}
	}
	var issues []Issue
	out := make([]Operation, len(in))
	for i, op := range in {
		norm, err := op.normalize()
		if err != nil {
			issues = append(issues, Issue{Index: i, Code: apperr.KindOf(err), Message: errorInfo(err).Message})
			continue
		}
		out[i] = norm
	}
	return out, issues
}

func (c *Coordinator) transactional(ctx context.Context, lg *slog.Logger, tier backend.Tier, ops []Operation) BatchResult {
	payload := make([]backend.TxOperation, len(ops))
	for i, op := range ops {
		payload[i] = op.tx()
	}
	reply, err := guard(ctx, lg, func() ([]TxReply, error) { return c.tx.Transact(ctx, tier, payload) })
	if err != nil {
		lg.WarnContext(ctx, "transaction failed", "code", apperr.KindOf(err), "error", err)
		return BatchResult{State: StateFailed, Results: []OpResult{}, Error: errorInfo(err)}
	}
	if len(reply) != len(ops) {
		err := apperr.Newf(apperr.Configuration, "transaction procedure returned %d results for %d operations", len(reply), len(ops))
		lg.WarnContext(ctx, "transaction reply mismatch", "error", err)
		return BatchResult{State: StateFailed, Results: []OpResult{}, Error: errorInfo(err)}
	}

	res := BatchResult{Success: true, State: StateCommitted, Results: make([]OpResult, len(ops))}
	failed := 0
	for i, op := range ops {
		r := OpResult{Index: i, Operation: op.Type, Table: op.Table, Success: true, Data: reply[i].Data}
		if reply[i].failed() {
			// A per-operation error inside a successful reply means the batch
			// did not fully apply.
			failed++
			r.Success, r.Data = false, nil
			r.Error = replyError(reply[i].Error)
		}
		res.Results[i] = r
	}
	if failed > 0 {
		res.Success, res.State = false, StateFailed
		res.Error = errorInfo(apperr.Newf(apperr.Backend, "transaction reported %d failed operations", failed))
		lg.WarnContext(ctx, "transaction reported failures", "failed", failed)
	}
	return res
}

// replyError renders the error element of a transactional reply.
func replyError(raw json.RawMessage) *ErrorInfo {
	info := &ErrorInfo{Code: apperr.Backend, Details: raw}
	var s string
	var obj struct {
		Message string `json:"message"`
	}
	switch {
	case json.Unmarshal(raw, &s) == nil:
		info.Message, info.Details = s, nil
	case json.Unmarshal(raw, &obj) == nil && obj.Message != "":
		info.Message = obj.Message
	default:
		info.Message = "operation failed"
	}
	return info
}

func (c *Coordinator) sequential(ctx context.Context, lg *slog.Logger, tier backend.Tier, ops []Operation) BatchResult {
	res := BatchResult{State: StateCompleted, Results: make([]OpResult, len(ops))}
	failed := 0
	for i, op := range ops {
		oplg := lg.With("index", i)
		data, err := guard(ctx, oplg, func() (json.RawMessage, error) { return c.x.apply(ctx, oplg, tier, op) })
		r := OpResult{Index: i, Operation: op.Type, Table: op.Table}
		if err != nil {
			failed++
			oplg.WarnContext(ctx, "batch operation failed", "code", apperr.KindOf(err), "error", err)
			r.Error = errorInfo(err)
		} else {
			r.Success, r.Data = true, data
		}
		res.Results[i] = r
	}
	res.Success = failed == 0
	if failed > 0 {
		res.Error = errorInfo(apperr.Newf(apperr.Backend, "%d of %d operations failed", failed, len(ops)))
	}
	return res
}
