// Package backend defines the capabilities the operation layer needs from a
// remote database: invoking named procedures and structured
// insert/update/delete with equality filters.
package backend

//go:generate mockgen -destination=mock_backend/mock_backend.go . Backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// Tier is the credential level a call runs with.
type Tier int

const (
	TierStandard Tier = iota
	TierPrivileged
)

func (t Tier) String() string {
	switch t {
	case TierStandard:
		return "standard"
	case TierPrivileged:
		return "privileged"
	}
	return "Tier(" + strconv.Itoa(int(t)) + ")"
}

// Column describes one column of a table.
type Column struct {
	Name       string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable,omitempty"`
	Default    string `json:"column_default,omitempty"`
	Key        string `json:"column_key,omitempty"`
}

// TxOperation is one element of the payload sent to the transactional
// procedure.
type TxOperation struct {
	Type      string        `json:"type"`
	Table     string        `json:"table"`
	Values    values.Fields `json:"values,omitempty"`
	Filter    values.Fields `json:"filter,omitempty"`
	Returning string        `json:"returning,omitempty"`
}

// Backend is a database reachable with one credential.
//
// Table names and projections passed to Backend methods have already been
// sanitized; values and filters travel as bound parameters.
type Backend interface {
	// RPC invokes the named remote procedure with args encoded as a JSON
	// object and returns the raw JSON reply.
	RPC(ctx context.Context, fn string, args any) (json.RawMessage, error)
	// Insert inserts one row and returns the inserted rows projected by
	// returning.
	Insert(ctx context.Context, table string, vals values.Fields, returning string) (json.RawMessage, error)
	// Update sets vals on the rows matching every filter entry and returns
	// the updated rows.
	Update(ctx context.Context, table string, vals, filter values.Fields, returning string) (json.RawMessage, error)
	// Delete removes the rows matching every filter entry and returns them.
	Delete(ctx context.Context, table string, filter values.Fields, returning string) (json.RawMessage, error)
	// Tables lists the user tables.
	Tables(ctx context.Context) ([]string, error)
	// Columns lists the columns of a table in ordinal order.
	Columns(ctx context.Context, table string) ([]Column, error)
}

var (
	// ErrProcedureNotFound is wrapped by errors for calls to a remote
	// procedure that is not installed.
	ErrProcedureNotFound = errors.New("remote procedure not found")
	// ErrPermissionDenied is wrapped by errors for calls the credential is
	// not allowed to make.
	ErrPermissionDenied = errors.New("permission denied")
)

// Error is a failure reported by the remote side.
type Error struct {
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`

	sentinel error
}

// NewError returns an Error that matches sentinel with errors.Is.
func NewError(sentinel error, status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg, sentinel: sentinel}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.sentinel != nil {
		msg = e.sentinel.Error()
	}
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("%s (status %d, code %s)", msg, e.Status, e.Code)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", msg, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.sentinel }
