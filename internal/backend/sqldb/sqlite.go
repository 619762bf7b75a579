package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

func init() {
	// sqlx does not know the modernc driver name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLite implements Dialect for SQLite databases.
type SQLite struct{}

func (d *SQLite) DriverName() string            { return "sqlite" }
func (d *SQLite) QuoteIdent(name string) string { return quoteWith('"', name) }
func (d *SQLite) SupportsReturning() bool       { return true }

func (d *SQLite) DatabaseName(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	name = strings.TrimSuffix(name, ".db")
	name = strings.TrimSuffix(name, ".sqlite")
	name = strings.TrimSuffix(name, ".sqlite3")
	if name == ":memory:" || name == "" {
		return "memory"
	}
	return name
}

// ReadOnly sets PRAGMA query_only for the duration of fn. The pragma is a
// connection setting, so it is switched back off before the connection
// returns to the pool.
func (d *SQLite) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return err
	}
	fnErr := fn(tx)
	if _, err := tx.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

func (d *SQLite) ListTablesQuery(string) (string, []any) {
	// one database per file; the name is not needed.
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		nil
}

func (d *SQLite) ReadSchemaQuery(_, tableName string) (string, []any) {
	// PRAGMA table_info cannot use ? placeholders.
	return fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(tableName, "'", "''")),
		nil
}

func (d *SQLite) ScanSchemaRow(rows *sql.Rows) (backend.Column, error) {
	// cid, name, type, notnull, dflt_value, pk
	var (
		cid, notNull, pk int
		col              backend.Column
		dfltValue        sql.NullString
	)
	if err := rows.Scan(&cid, &col.Name, &col.DataType, &notNull, &dfltValue, &pk); err != nil {
		return backend.Column{}, err
	}
	col.IsNullable = "YES"
	if notNull == 1 {
		col.IsNullable = "NO"
	}
	if pk > 0 {
		col.Key = "PRI"
	}
	col.Default = dfltValue.String
	return col, nil
}

var (
	liteFuncs    = functions("load_extension", "writefile", "edit", "fts3_tokenizer")
	liteKeywords = keywords("REPLACE", "ATTACH", "DETACH", "REINDEX", "VACUUM")
	pragmaWrite  = regexp.MustCompile(`(?i)\bPRAGMA\s+\w+\s*=`)
)

func (d *SQLite) ValidateQuery(sqlQuery string) error {
	if err := validateWith(d, sqlQuery, liteFuncs, nil, liteKeywords); err != nil {
		return err
	}
	// Read PRAGMAs are fine.
	if pragmaWrite.MatchString(d.RemoveStringsAndComments(sqlQuery)) {
		return errors.New("PRAGMA writes are not allowed")
	}
	return nil
}

// RemoveStringsAndComments strips string literals and comments from SQL
// for safe keyword detection. No # comments, no backslash escaping;
// backtick and [bracket] identifiers.
func (d *SQLite) RemoveStringsAndComments(sql string) string {
	var result strings.Builder
	i := 0
	n := len(sql)

	for i < n {
		switch {
		case i+1 < n && sql[i] == '-' && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
			result.WriteByte(' ')
		case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
			result.WriteByte(' ')
		case sql[i] == '\'':
			i = skipQuoted(sql, i, '\'', false)
			result.WriteString("''")
		case sql[i] == '"':
			i = copyQuoted(&result, sql, i, '"')
		case sql[i] == '`':
			i = copyDelimited(&result, sql, i, '`', '`')
		case sql[i] == '[':
			i = copyDelimited(&result, sql, i, '[', ']')
		default:
			result.WriteByte(sql[i])
			i++
		}
	}

	return result.String()
}

func (d *SQLite) MapError(err error) *backend.Error {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return genericError(err)
	}
	var sentinel error
	switch liteErr.Code() & 0xff {
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
		sentinel = backend.ErrPermissionDenied
	}
	return backend.NewError(sentinel, 0, strconv.Itoa(liteErr.Code()), liteErr.Error())
}
