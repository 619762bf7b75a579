// Package sqldb implements backend.Backend over a direct database/sql
// connection. The remote procedures are emulated locally: the read
// procedure runs validated read-only SQL, the write procedure runs SQL
// verbatim and the transaction procedure applies structured operations in
// one transaction.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// DefaultMaxRows is the default cap on rows returned by one read.
const DefaultMaxRows = 10000

// Dialect defines database-specific behavior. Each supported database
// (PostgreSQL, MySQL, SQLite) implements this interface.
type Dialect interface {
	// DriverName returns the database/sql driver name.
	DriverName() string

	// DatabaseName extracts the database/file name from a DSN string.
	DatabaseName(dsn string) string

	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string

	// SupportsReturning reports whether INSERT/UPDATE/DELETE accept a
	// RETURNING clause.
	SupportsReturning() bool

	// ReadOnly runs fn in a transaction that cannot write.
	ReadOnly(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error

	// ListTablesQuery returns the SQL query and arguments to list all tables.
	ListTablesQuery(databaseName string) (string, []any)

	// ReadSchemaQuery returns the SQL query and arguments to read column
	// info for a table.
	ReadSchemaQuery(databaseName, tableName string) (string, []any)

	// ScanSchemaRow scans a single row from the schema query result.
	ScanSchemaRow(rows *sql.Rows) (backend.Column, error)

	// ValidateQuery validates that a SQL query is safe and read-only.
	ValidateQuery(sql string) error

	// RemoveStringsAndComments strips string literals and comments from SQL
	// for safe keyword detection.
	RemoveStringsAndComments(sql string) string

	// MapError converts a driver error into a *backend.Error.
	MapError(err error) *backend.Error
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return &Postgres{}, nil
	case "mysql":
		return &MySQL{}, nil
	case "sqlite", "sqlite3":
		return &SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

// pattern is a compiled forbidden construct with its description.
type pattern struct {
	re   *regexp.Regexp
	desc string
}

// keywords builds word-boundary patterns for SQL keywords.
func keywords(words ...string) []pattern {
	out := make([]pattern, len(words))
	for i, w := range words {
		out[i] = pattern{
			re:   regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])` + w + `(?:[^a-zA-Z_]|$)`),
			desc: w,
		}
	}
	return out
}

// functions builds call patterns for SQL functions.
func functions(names ...string) []pattern {
	out := make([]pattern, len(names))
	for i, n := range names {
		out[i] = pattern{
			re:   regexp.MustCompile(`(?i)\b` + n + `\s*\(`),
			desc: n + "()",
		}
	}
	return out
}

func firstMatch(s string, pp []pattern) (string, bool) {
	for _, p := range pp {
		if p.re.MatchString(s) {
			return p.desc, true
		}
	}
	return "", false
}

// commonDangerousKeywords are DML/DDL keywords blocked by all databases.
var commonDangerousKeywords = keywords(
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE",
	"ALTER", "TRUNCATE", "GRANT", "REVOKE",
)

var (
	allowedPrefixes = []string{"SELECT ", "SHOW ", "DESCRIBE ", "DESC ", "EXPLAIN ", "WITH "}
	setPattern      = regexp.MustCompile(`(?i)(?:^|;)\s*SET\b`)
)

// validateCommon runs validation checks shared across all database types.
// sqlQuery is the original query; cleanedSQL has strings/comments removed.
func validateCommon(sqlQuery string, cleanedSQL string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return errors.New("empty query")
	}

	upper := strings.ToUpper(strings.TrimSpace(cleanedSQL))
	hasAllowedPrefix := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix) || strings.HasPrefix(upper, strings.TrimSpace(prefix)+"\n") || upper == strings.TrimSpace(prefix) {
			hasAllowedPrefix = true
			break
		}
	}
	if !hasAllowedPrefix {
		return errors.New("only SELECT, WITH, SHOW, DESCRIBE, and EXPLAIN queries are allowed")
	}

	if parts := strings.SplitN(cleanedSQL, ";", 2); len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		return errors.New("multiple statements are not allowed")
	}

	if kw, ok := firstMatch(cleanedSQL, commonDangerousKeywords); ok {
		return fmt.Errorf("query contains forbidden keyword: %s", kw)
	}

	// SET statements, but not column/table names containing 'set'.
	if setPattern.MatchString(cleanedSQL) {
		return errors.New("SET statements are not allowed")
	}

	return nil
}

// validateWith runs validateCommon followed by the dialect patterns.
// forbidden and dos are matched against the raw query, extra against the
// cleaned one.
func validateWith(d Dialect, sqlQuery string, forbidden, dos, extra []pattern) error {
	cleaned := d.RemoveStringsAndComments(sqlQuery)
	if err := validateCommon(sqlQuery, cleaned); err != nil {
		return err
	}
	if desc, ok := firstMatch(sqlQuery, forbidden); ok {
		return fmt.Errorf("query contains forbidden pattern: %s", desc)
	}
	if desc, ok := firstMatch(sqlQuery, dos); ok {
		return fmt.Errorf("query contains forbidden function: %s", desc)
	}
	if kw, ok := firstMatch(cleaned, extra); ok {
		return fmt.Errorf("query contains forbidden keyword: %s", kw)
	}
	return nil
}

// readOnlyTx runs fn in a transaction started with the ReadOnly option and
// always rolls it back.
func readOnlyTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// quoteWith quotes name with q, doubling any embedded q.
func quoteWith(q byte, name string) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}

// projection renders a returning list: "*" or quoted columns.
func projection(d Dialect, returning string) string {
	returning = strings.TrimSpace(returning)
	if returning == "" || returning == "*" {
		return "*"
	}
	parts := strings.Split(returning, ",")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ", ")
}
