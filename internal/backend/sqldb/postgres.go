package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// Postgres implements Dialect for PostgreSQL databases.
type Postgres struct{}

func (d *Postgres) DriverName() string            { return "postgres" }
func (d *Postgres) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }
func (d *Postgres) SupportsReturning() bool       { return true }

func (d *Postgres) DatabaseName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		// key=value form
		for _, kv := range strings.Fields(dsn) {
			if name, ok := strings.CutPrefix(kv, "dbname="); ok {
				return strings.Trim(name, "'")
			}
		}
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (d *Postgres) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	return readOnlyTx(ctx, db, fn)
}

func (d *Postgres) ListTablesQuery(string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_catalog = current_database() AND table_type = 'BASE TABLE'
		ORDER BY table_name`, nil
}

func (d *Postgres) ReadSchemaQuery(_, tableName string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_catalog = current_database() AND table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, []any{tableName}
}

func (d *Postgres) ScanSchemaRow(rows *sql.Rows) (backend.Column, error) {
	var col backend.Column
	var colDefault sql.NullString
	if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &colDefault); err != nil {
		return backend.Column{}, err
	}
	col.Default = colDefault.String
	return col, nil
}

var (
	pgForbidden = []pattern{
		{re: regexp.MustCompile(`(?i)\bCOPY\s+.*\bTO\b`), desc: "COPY ... TO"},
		{re: regexp.MustCompile(`(?i)\bCOPY\s+.*\bFROM\b`), desc: "COPY ... FROM"},
	}
	pgDangerousFuncs = append(
		functions("pg_read_file", "pg_read_binary_file", "pg_ls_dir", "lo_import", "lo_export"),
		functions("pg_sleep", "pg_sleep_for", "pg_sleep_until",
			"pg_advisory_lock", "pg_advisory_xact_lock", "pg_try_advisory_lock")...,
	)
	pgKeywords = keywords(
		"CALL", "EXECUTE", "COPY", "LISTEN", "NOTIFY", "PREPARE",
		"DEALLOCATE", "VACUUM", "REINDEX", "CLUSTER",
	)
)

func (d *Postgres) ValidateQuery(sqlQuery string) error {
	return validateWith(d, sqlQuery, pgForbidden, pgDangerousFuncs, pgKeywords)
}

// RemoveStringsAndComments strips string literals and comments from SQL
// for safe keyword detection. No # comments, no backtick identifiers,
// $$ dollar-quoted strings, no backslash escaping by default.
func (d *Postgres) RemoveStringsAndComments(sql string) string {
	var result strings.Builder
	i := 0
	n := len(sql)

	for i < n {
		if i+1 < n && sql[i] == '-' && sql[i+1] == '-' {
			for i < n && sql[i] != '\n' {
				i++
			}
			result.WriteByte(' ')
			continue
		}

		if i+1 < n && sql[i] == '/' && sql[i+1] == '*' {
			i = skipBlockComment(sql, i)
			result.WriteByte(' ')
			continue
		}

		// $tag$...$tag$ or $$...$$
		if sql[i] == '$' {
			if tagEnd := strings.IndexByte(sql[i+1:], '$'); tagEnd >= 0 && isDollarTag(sql[i+1:i+1+tagEnd]) {
				tag := sql[i : i+tagEnd+2]
				if closeIdx := strings.Index(sql[i+len(tag):], tag); closeIdx >= 0 {
					i += len(tag) + closeIdx + len(tag)
					result.WriteString("''")
					continue
				}
			}
		}

		if sql[i] == '\'' {
			i = skipQuoted(sql, i, '\'', false)
			result.WriteString("''")
			continue
		}

		if sql[i] == '"' {
			i = copyQuoted(&result, sql, i, '"')
			continue
		}

		result.WriteByte(sql[i])
		i++
	}

	return result.String()
}

// isDollarTag reports whether s can appear between the dollars of a
// dollar quote. It excludes positional parameters such as $1.
func isDollarTag(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (d *Postgres) MapError(err error) *backend.Error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return genericError(err)
	}
	var sentinel error
	if pqErr.Code == "42501" {
		sentinel = backend.ErrPermissionDenied
	}
	be := backend.NewError(sentinel, 0, string(pqErr.Code), pqErr.Message)
	be.Details = pqErr.Detail
	be.Hint = pqErr.Hint
	return be
}
