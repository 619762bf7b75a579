// Package rest implements backend.Backend over a PostgREST-style HTTP API:
// remote procedures under /rest/v1/rpc and table endpoints under /rest/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

const (
	restPath = "/rest/v1/"
	rpcPath  = "/rest/v1/rpc/"

	// maxResponseSize caps the bytes read from one response body.
	maxResponseSize = 32 << 20

	defaultTimeout = 30 * time.Second
)

// Client implements API client over REST endpoints with one API key.
type Client struct {
	// baseURL is the project url without trailing slash, e.g.
	// "https://abcd.supabase.co".
	baseURL string
	key     string
	client  *http.Client
	limiter *rate.Limiter
	lg      *slog.Logger
	// catalogFn is the read-only procedure used for catalog queries.
	catalogFn string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRateLimit limits the client to rps requests per second. Zero or
// negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(c *Client) {
		if lg != nil {
			c.lg = lg
		}
	}
}

// WithCatalogProcedure sets the read-only procedure used by Tables and
// Columns.
func WithCatalogProcedure(fn string) Option {
	return func(c *Client) {
		if fn != "" {
			c.catalogFn = fn
		}
	}
}

// New returns a client for the project at baseURL using key for both the
// apikey header and the bearer token.
func New(baseURL, key string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", baseURL)
	}
	if key == "" {
		return nil, errors.New("api key is empty")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		key:       key,
		client:    &http.Client{Timeout: defaultTimeout},
		lg:        slog.Default(),
		catalogFn: "exec_sql",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RPC calls POST /rest/v1/rpc/{fn}.
func (c *Client) RPC(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	if args == nil {
		args = struct{}{}
	}
	return c.do(ctx, http.MethodPost, rpcPath+url.PathEscape(fn), nil, args)
}

// Insert calls POST /rest/v1/{table}?select={returning}.
func (c *Client) Insert(ctx context.Context, table string, vals values.Fields, returning string) (json.RawMessage, error) {
	q := query{}.add("select", projection(returning))
	return c.do(ctx, http.MethodPost, restPath+url.PathEscape(table), q, vals)
}

// Update calls PATCH /rest/v1/{table}?{filter}&select={returning}.
func (c *Client) Update(ctx context.Context, table string, vals, filter values.Fields, returning string) (json.RawMessage, error) {
	q, err := filterQuery(filter)
	if err != nil {
		return nil, err
	}
	q = q.add("select", projection(returning))
	return c.do(ctx, http.MethodPatch, restPath+url.PathEscape(table), q, vals)
}

// Delete calls DELETE /rest/v1/{table}?{filter}&select={returning}.
func (c *Client) Delete(ctx context.Context, table string, filter values.Fields, returning string) (json.RawMessage, error) {
	q, err := filterQuery(filter)
	if err != nil {
		return nil, err
	}
	q = q.add("select", projection(returning))
	return c.do(ctx, http.MethodDelete, restPath+url.PathEscape(table), q, nil)
}

const (
	tablesSQL  = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`
	columnsSQL = `SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns WHERE table_schema = 'public' AND table_name = '%s' ORDER BY ordinal_position`
)

// Tables lists the tables of the public schema through the catalog
// procedure.
func (c *Client) Tables(ctx context.Context) ([]string, error) {
	raw, err := c.RPC(ctx, c.catalogFn, map[string]string{"query": tablesSQL})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		TableName string `json:"table_name"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode table list: %w", err)
	}
	tables := make([]string, 0, len(rows))
	for _, r := range rows {
		tables = append(tables, r.TableName)
	}
	return tables, nil
}

// Columns lists the columns of a public table. table must be sanitized.
func (c *Client) Columns(ctx context.Context, table string) ([]backend.Column, error) {
	raw, err := c.RPC(ctx, c.catalogFn, map[string]string{"query": fmt.Sprintf(columnsSQL, table)})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name       string  `json:"column_name"`
		DataType   string  `json:"data_type"`
		IsNullable string  `json:"is_nullable"`
		Default    *string `json:"column_default"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	cols := make([]backend.Column, 0, len(rows))
	for _, r := range rows {
		col := backend.Column{Name: r.Name, DataType: r.DataType, IsNullable: r.IsNullable}
		if r.Default != nil {
			col.Default = *r.Default
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (c *Client) do(ctx context.Context, method, path string, q query, body any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !strings.HasPrefix(path, rpcPath) {
		req.Header.Set("Prefer", "return=representation")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.lg.DebugContext(ctx, "backend request", "method", method, "path", path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, strings.HasPrefix(path, rpcPath), data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

// decodeError converts an error response into a *backend.Error.
func decodeError(status int, isRPC bool, body []byte) error {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
		Hint    any    `json:"hint"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}

	var sentinel error
	switch {
	case e.Code == "PGRST202", isRPC && status == http.StatusNotFound && e.Code == "":
		sentinel = backend.ErrProcedureNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden, e.Code == "42501":
		sentinel = backend.ErrPermissionDenied
	}
	be := backend.NewError(sentinel, status, e.Code, e.Message)
	be.Details = text(e.Details)
	be.Hint = text(e.Hint)
	return be
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, _ := json.Marshal(v)
	return string(b)
}
