package mcp

// In this file: MCP tool definitions and handler implementations.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/ops"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// Tool names are part of the wire contract.
const (
	toolQuery       = "query"
	toolCreateTable = "createTable"
	toolInsert      = "insertRecord"
	toolUpdate      = "updateRecord"
	toolDelete      = "deleteRecord"
	toolBatch       = "batchOperations"
)

const returningDesc = "Comma-separated columns to return (default \"*\")."

// tools returns all MCP tools that this server exposes.
func (s *Server) tools() []mcpsrv.ServerTool {
	return []mcpsrv.ServerTool{
		s.toolQuery(),
		s.toolCreateTable(),
		s.toolInsert(),
		s.toolUpdate(),
		s.toolDelete(),
		s.toolBatch(),
	}
}

// ─── query ────────────────────────────────────────────────────────────────────

type sqlArgs struct {
	SQL string `json:"sql"`
}

func (s *Server) toolQuery() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolQuery,
		mcplib.WithDescription("Run a read-only SQL query and return the resulting rows as JSON."),
		mcplib.WithString("sql",
			mcplib.Required(),
			mcplib.Description("The SQL query to run."),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolQuery, s.handleQuery)}
}

func (s *Server) handleQuery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args sqlArgs
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	return resultOp(s.exec.Query(ctx, args.SQL)), nil
}

// ─── createTable ──────────────────────────────────────────────────────────────

func (s *Server) toolCreateTable() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolCreateTable,
		mcplib.WithDescription("Create a table. The statement must contain CREATE TABLE."),
		mcplib.WithString("sql",
			mcplib.Required(),
			mcplib.Description("The CREATE TABLE statement."),
		),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(false),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolCreateTable, s.handleCreateTable)}
}

func (s *Server) handleCreateTable(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args sqlArgs
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	return resultOp(s.exec.CreateTable(ctx, args.SQL)), nil
}

// ─── insertRecord ─────────────────────────────────────────────────────────────

type rowArgs struct {
	Table     string        `json:"table"`
	Values    values.Fields `json:"values"`
	Filter    values.Fields `json:"filter"`
	Returning string        `json:"returning"`
}

func (s *Server) toolInsert() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolInsert,
		mcplib.WithDescription("Insert one row into a table."),
		mcplib.WithString("table", mcplib.Required(), mcplib.Description("Table name.")),
		mcplib.WithObject("values",
			mcplib.Required(),
			mcplib.Description("Column values of the new row. Values must be strings, numbers, booleans or null."),
		),
		mcplib.WithString("returning", mcplib.Description(returningDesc)),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(false),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolInsert, s.handleInsert)}
}

func (s *Server) handleInsert(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args rowArgs
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	return resultOp(s.exec.Insert(ctx, args.Table, args.Values, args.Returning)), nil
}

// ─── updateRecord ─────────────────────────────────────────────────────────────

func (s *Server) toolUpdate() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolUpdate,
		mcplib.WithDescription("Update the rows of a table that match every filter entry."),
		mcplib.WithString("table", mcplib.Required(), mcplib.Description("Table name.")),
		mcplib.WithObject("values",
			mcplib.Required(),
			mcplib.Description("Columns to set."),
		),
		mcplib.WithObject("filter",
			mcplib.Required(),
			mcplib.Description("Equality filter, column to value. Must not be empty."),
		),
		mcplib.WithString("returning", mcplib.Description(returningDesc)),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolUpdate, s.handleUpdate)}
}

func (s *Server) handleUpdate(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args rowArgs
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	return resultOp(s.exec.Update(ctx, args.Table, args.Values, args.Filter, args.Returning)), nil
}

// ─── deleteRecord ─────────────────────────────────────────────────────────────

func (s *Server) toolDelete() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolDelete,
		mcplib.WithDescription("Delete the rows of a table that match every filter entry."),
		mcplib.WithString("table", mcplib.Required(), mcplib.Description("Table name.")),
		mcplib.WithObject("filter",
			mcplib.Required(),
			mcplib.Description("Equality filter, column to value. Must not be empty."),
		),
		mcplib.WithString("returning", mcplib.Description(returningDesc)),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolDelete, s.handleDelete)}
}

func (s *Server) handleDelete(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args rowArgs
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	return resultOp(s.exec.Delete(ctx, args.Table, args.Filter, args.Returning)), nil
}

// ─── batchOperations ──────────────────────────────────────────────────────────

func (s *Server) toolBatch() mcpsrv.ServerTool {
	tool := mcplib.NewTool(toolBatch,
		mcplib.WithDescription(`Run several inserts, updates and deletes.

Every operation is validated before any is run; if one is invalid the whole
batch is rejected with the full list of problems. With useTransaction (the
default) the batch runs in one transaction and either all operations apply
or none do. Without it the operations run in order and a failure does not
stop the rest.`),
		mcplib.WithArray("operations",
			mcplib.Required(),
			mcplib.Description("The operations to run, in order."),
			mcplib.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":      map[string]any{"type": "string", "enum": []string{"insert", "update", "delete"}},
					"table":     map[string]any{"type": "string"},
					"values":    map[string]any{"type": "object"},
					"filter":    map[string]any{"type": "object"},
					"returning": map[string]any{"type": "string"},
				},
				"required": []string{"type", "table"},
			}),
		),
		mcplib.WithBoolean("useTransaction",
			mcplib.DefaultBool(true),
			mcplib.Description("Run all operations in one transaction."),
		),
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.guard(toolBatch, s.handleBatch)}
}

func (s *Server) handleBatch(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args ops.BatchRequest
	if err := bindArgs(req, &args); err != nil {
		return resultFailure(err), nil
	}
	res := s.batch.Execute(ctx, args)
	return resultEnvelope(res, res.Success), nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// guard logs the call and turns a panic in h into an error result.
func (s *Server) guard(name string, h mcpsrv.ToolHandlerFunc) mcpsrv.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (res *mcplib.CallToolResult, err error) {
		lg := s.logger.With("tool", name)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				lg.ErrorContext(ctx, "mcp: panic in tool handler", "panic", r)
				res, err = resultFailure(apperr.Newf(apperr.Internal, "unexpected failure in %s: %v", name, r)), nil
			}
			if res != nil {
				lg.DebugContext(ctx, "mcp: tool call", "is_error", res.IsError, "took", time.Since(start))
			}
		}()
		return h(ctx, req)
	}
}

// bindArgs decodes the tool arguments into dst. Argument values that do not
// fit dst, such as nested objects in a values mapping, are a validation
// error.
func bindArgs(req mcplib.CallToolRequest, dst any) error {
	args := req.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "malformed arguments", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.New(apperr.Validation, fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// resultOp renders an operation result.
func resultOp(r ops.Result) *mcplib.CallToolResult {
	return resultEnvelope(r, r.Success)
}

// resultFailure renders err as a failed envelope.
func resultFailure(err error) *mcplib.CallToolResult {
	return resultOp(ops.Failure(err))
}

// resultEnvelope serialises v as the text content. IsError is set unless ok.
func resultEnvelope(v any, ok bool) *mcplib.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return resultErr(fmt.Errorf("encode result: %w", err))
	}
	res := mcplib.NewToolResultText(string(b))
	res.IsError = !ok
	return res
}

// resultErr is a helper that wraps an error in a CallToolResult with IsError=true.
func resultErr(err error) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(err.Error())},
		IsError: true,
	}
}
