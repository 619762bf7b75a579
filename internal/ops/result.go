package ops

import (
	"encoding/json"
	"errors"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// Result is the normalized outcome of one operation.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the error part of a Result.
type ErrorInfo struct {
	Message string      `json:"message"`
	Code    apperr.Kind `json:"code"`
	Details any         `json:"details,omitempty"`
}

func success(data json.RawMessage) Result {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Result{Success: true, Data: data}
}

// Failure renders err as a failed Result.
func Failure(err error) Result {
	return Result{Error: errorInfo(err)}
}

// errorInfo renders err into the envelope form. A remote failure keeps its
// structured body as details.
func errorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{Message: err.Error(), Code: apperr.KindOf(err)}
	var e *apperr.E
	if errors.As(err, &e) {
		info.Message = e.Message
		if e.Err != nil && e.Kind != apperr.Validation {
			info.Message += ": " + e.Err.Error()
		}
		info.Details = e.Details
	}
	var be *backend.Error
	if info.Details == nil && errors.As(err, &be) {
		info.Details = be
	}
	return info
}
