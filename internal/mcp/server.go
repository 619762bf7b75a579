// Package mcp exposes the operation executor and batch coordinator as MCP
// tools, and the database tables as MCP resources.
package mcp

// In this file: MCP server construction and transport management.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	mcpsrv "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/shakram02/go-supabase-mcp/internal/ops"
)

const (
	serverName    = "supabase-mcp"
	serverVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

// Transport selects how the MCP server communicates with its client.
type Transport string

const (
	// TransportStdio uses stdin/stdout (default, for local agent
	// integrations).
	TransportStdio Transport = "stdio"
	// TransportHTTP uses the Streamable HTTP transport.
	TransportHTTP Transport = "http"
)

// Server wraps an MCP server and the operations it dispatches to.
type Server struct {
	mcp     *mcpsrv.MCPServer
	exec    *ops.Executor
	batch   *ops.Coordinator
	project string
	logger  *slog.Logger

	mu     sync.Mutex
	tables map[string]bool // table resources currently registered
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(s *Server) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// WithProject sets the authority used in resource URIs.
func WithProject(project string) Option {
	return func(s *Server) {
		if project != "" {
			s.project = project
		}
	}
}

// New creates a server with every tool and the table resource template
// registered. It does not listen until one of the Serve* methods is called.
func New(exec *ops.Executor, batch *ops.Coordinator, opts ...Option) *Server {
	s := &Server{
		exec:    exec,
		batch:   batch,
		project: "default",
		logger:  slog.Default(),
		tables:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}

	hooks := &mcpsrv.Hooks{}
	hooks.AddBeforeListResources(s.beforeListResources)

	s.mcp = mcpsrv.NewMCPServer(
		serverName,
		serverVersion,
		mcpsrv.WithInstructions(instructions(s.project)),
		mcpsrv.WithToolCapabilities(false),
		mcpsrv.WithResourceCapabilities(false, false),
		mcpsrv.WithHooks(hooks),
		mcpsrv.WithRecovery(),
	)

	for _, t := range s.tools() {
		s.mcp.AddTool(t.Tool, t.Handler)
	}
	s.mcp.AddResourceTemplate(s.tableTemplate(), s.handleReadTable)
	return s
}

func instructions(project string) string {
	return fmt.Sprintf(`You are connected to the database of project %q.

Tools:
- query: run read-only SQL
- createTable: run a CREATE TABLE statement
- insertRecord, updateRecord, deleteRecord: change rows of one table
- batchOperations: run several inserts, updates and deletes, in one
  transaction by default

Every tool returns a JSON envelope {"success", "data", "error"}. Table and
column names may only contain letters, digits and underscores. Updates and
deletes require a non-empty filter; filter entries are equality matches
combined with AND.

Each table is also a resource (supabase://%s/tables/<table>) whose content
is the list of its columns and data types.
`, project, project)
}

// ServeStdio runs the MCP server over stdin/stdout until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := mcpsrv.NewStdioServer(s.mcp)
	s.logger.InfoContext(ctx, "mcp server listening on stdio")
	if err := srv.Listen(ctx, in, out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("mcp stdio server error: %w", err)
	}
	return nil
}

// ServeHTTP runs the MCP server as a Streamable HTTP server on addr until
// ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	streamSrv := mcpsrv.NewStreamableHTTPServer(s.mcp,
		mcpsrv.WithStreamableHTTPServer(httpSrv),
	)

	s.logger.InfoContext(ctx, "mcp server listening on http", "addr", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := streamSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.InfoContext(ctx, "mcp server shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := streamSrv.Shutdown(sctx); err != nil {
			return fmt.Errorf("mcp http server shutdown error: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Serve runs the server on the given transport.
func (s *Server) Serve(ctx context.Context, t Transport, addr string) error {
	switch t {
	case TransportStdio, "":
		return s.ServeStdio(ctx)
	case TransportHTTP:
		return s.ServeHTTP(ctx, addr)
	}
	return fmt.Errorf("unknown transport %q", t)
}
