package mcp

// In this file: table resources and the schema read handler.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/shakram02/go-supabase-mcp/internal/ops"
)

const (
	uriScheme    = "supabase"
	mimeJSON     = "application/json"
	tablesPrefix = "/tables/"
)

// tableURI returns the resource URI of a table.
func tableURI(project, table string) string {
	return uriScheme + "://" + project + tablesPrefix + table
}

// parseTableURI splits a table resource URI into its project and table.
func parseTableURI(uri string) (project, table string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid resource URI %q: %w", uri, err)
	}
	if u.Scheme != uriScheme || u.Host == "" || !strings.HasPrefix(u.Path, tablesPrefix) {
		return "", "", fmt.Errorf("invalid resource URI %q: expected %s", uri, tableURI("<project>", "<table>"))
	}
	table = strings.TrimPrefix(u.Path, tablesPrefix)
	if table == "" || strings.Contains(table, "/") {
		return "", "", fmt.Errorf("invalid resource URI %q: expected %s", uri, tableURI("<project>", "<table>"))
	}
	return u.Host, table, nil
}

func (s *Server) tableTemplate() mcplib.ResourceTemplate {
	return mcplib.NewResourceTemplate(
		uriScheme+"://{project}"+tablesPrefix+"{table}",
		"Table schema",
		mcplib.WithTemplateDescription("Column names and data types of a table."),
		mcplib.WithTemplateMIMEType(mimeJSON),
	)
}

func (s *Server) beforeListResources(ctx context.Context, _ any, _ *mcplib.ListResourcesRequest) {
	s.refreshResources(ctx)
}

// refreshResources registers one resource per table currently visible and
// removes resources of tables that are gone. If the table list cannot be
// read the registered set is left unchanged.
func (s *Server) refreshResources(ctx context.Context) {
	tables, err := s.exec.ListTables(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp: list tables failed", "error", err)
		return
	}
	sort.Strings(tables)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(tables))
	for _, t := range tables {
		current[t] = true
		if s.tables[t] {
			continue
		}
		res := mcplib.NewResource(tableURI(s.project, t), t,
			mcplib.WithResourceDescription(fmt.Sprintf("Columns of table %q", t)),
			mcplib.WithMIMEType(mimeJSON),
		)
		s.mcp.AddResource(res, s.handleReadTable)
	}
	for t := range s.tables {
		if !current[t] {
			s.mcp.RemoveResource(tableURI(s.project, t))
		}
	}
	s.tables = current
	s.logger.DebugContext(ctx, "mcp: resources refreshed", "tables", len(tables))
}

// resourceError is the content of a table resource whose schema could not
// be read.
type resourceError struct {
	Error *ops.ErrorInfo `json:"error"`
}

func (s *Server) handleReadTable(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := req.Params.URI
	project, table, err := parseTableURI(uri)
	if err != nil {
		return nil, err
	}
	if project != s.project {
		return nil, fmt.Errorf("unknown project %q", project)
	}

	var body any
	cols, err := s.exec.DescribeTable(ctx, table)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp: read schema failed", "table", table, "error", err)
		body = resourceError{Error: ops.Failure(err).Error}
	} else if len(cols) == 0 {
		body = []any{}
	} else {
		body = cols
	}
	text, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: mimeJSON,
			Text:     string(text),
		},
	}, nil
}
