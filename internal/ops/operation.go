// Package ops implements the operation layer: credential selection,
// identifier sanitization, the per-verb executor and the batch
// coordinator.
package ops

import (
	"fmt"
	"strings"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// Kind is an operation kind.
type Kind string

const (
	KindQuery       Kind = "query"
	KindCreateTable Kind = "createTable"
	KindInsert      Kind = "insert"
	KindUpdate      Kind = "update"
	KindDelete      Kind = "delete"
)

// Operation is one structured mutation as it appears in a batch.
type Operation struct {
	Type      Kind          `json:"type"`
	Table     string        `json:"table"`
	Values    values.Fields `json:"values,omitempty"`
	Filter    values.Fields `json:"filter,omitempty"`
	Returning string        `json:"returning,omitempty"`
}

// normalize validates op and returns it with the table and projection
// sanitized and the projection defaulted.
func (op Operation) normalize() (Operation, error) {
	switch op.Type {
	case KindInsert, KindUpdate, KindDelete:
	case "":
		return op, apperr.New(apperr.Validation, "operation type is required")
	default:
		return op, apperr.Newf(apperr.Validation, "unsupported operation type %q (want insert, update or delete)", op.Type)
	}
	table, err := sanitizeTable(op.Table)
	if err != nil {
		return op, err
	}
	op.Table = table

	if op.Returning, err = SanitizeProjection(op.Returning); err != nil {
		return op, err
	}

	switch op.Type {
	case KindInsert:
		if len(op.Values) == 0 {
			return op, apperr.New(apperr.Validation, "insert requires non-empty values")
		}
	case KindUpdate:
		if len(op.Values) == 0 {
			return op, apperr.New(apperr.Validation, "update requires non-empty values")
		}
		if len(op.Filter) == 0 {
			return op, apperr.New(apperr.Validation, "update requires a non-empty filter")
		}
	case KindDelete:
		if len(op.Filter) == 0 {
			return op, apperr.New(apperr.Validation, "delete requires a non-empty filter")
		}
	}
	return op, nil
}

func (op Operation) tx() backend.TxOperation {
	return backend.TxOperation{
		Type:      string(op.Type),
		Table:     op.Table,
		Values:    op.Values,
		Filter:    op.Filter,
		Returning: op.Returning,
	}
}

// validateCreateTable checks that sql is a CREATE TABLE statement.
func validateCreateTable(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return apperr.New(apperr.Validation, "sql is required")
	}
	if !strings.Contains(strings.ToUpper(sql), "CREATE TABLE") {
		return apperr.New(apperr.Validation, "sql must contain a CREATE TABLE statement")
	}
	return nil
}

func sanitizeTable(table string) (string, error) {
	if table == "" {
		return "", apperr.New(apperr.Validation, "table is required")
	}
	return Sanitize(table)
}

func (k Kind) String() string { return string(k) }

// label is used in log lines.
func (op Operation) label() string {
	return fmt.Sprintf("%s %s", op.Type, op.Table)
}
