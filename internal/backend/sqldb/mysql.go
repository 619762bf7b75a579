package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// MySQL implements Dialect for MySQL databases. It has no RETURNING, so
// the backend reads affected rows back with separate statements.
type MySQL struct{}

func (d *MySQL) DriverName() string            { return "mysql" }
func (d *MySQL) QuoteIdent(name string) string { return quoteWith('`', name) }
func (d *MySQL) SupportsReturning() bool       { return false }

func (d *MySQL) DatabaseName(dsn string) string {
	if cfg, err := mysql.ParseDSN(dsn); err == nil {
		return cfg.DBName
	}
	// user:password@tcp(host:port)/dbname?params
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return ""
	}
	dbPart := parts[len(parts)-1]
	if idx := strings.Index(dbPart, "?"); idx != -1 {
		dbPart = dbPart[:idx]
	}
	return dbPart
}

func (d *MySQL) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	return readOnlyTx(ctx, db, fn)
}

func (d *MySQL) ListTablesQuery(databaseName string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`,
		[]any{databaseName}
}

func (d *MySQL) ReadSchemaQuery(databaseName, tableName string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_key, column_default
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{databaseName, tableName}
}

func (d *MySQL) ScanSchemaRow(rows *sql.Rows) (backend.Column, error) {
	var col backend.Column
	var colDefault sql.NullString
	if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.Key, &colDefault); err != nil {
		return backend.Column{}, err
	}
	col.Default = colDefault.String
	return col, nil
}

// autoIncrementQuery returns the query that finds the auto-increment column
// of a table.
func (d *MySQL) autoIncrementQuery(databaseName, tableName string) (string, []any) {
	return `SELECT column_name FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ? AND extra LIKE '%auto_increment%'
		LIMIT 1`, []any{databaseName, tableName}
}

var (
	myForbidden = []pattern{
		{re: regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`), desc: "INTO OUTFILE"},
		{re: regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`), desc: "INTO DUMPFILE"},
		{re: regexp.MustCompile(`(?i)\bLOAD_FILE\s*\(`), desc: "LOAD_FILE()"},
		{re: regexp.MustCompile(`(?i)\bINTO\s+@`), desc: "INTO @variable"},
	}
	myDangerousFuncs = functions(
		"SLEEP", "BENCHMARK", "GET_LOCK", "RELEASE_LOCK", "IS_FREE_LOCK", "IS_USED_LOCK",
		"WAIT_FOR_EXECUTED_GTID_SET", "WAIT_UNTIL_SQL_THREAD_AFTER_GTIDS",
		"MASTER_POS_WAIT", "SOURCE_POS_WAIT",
	)
	myKeywords = keywords("CALL", "EXEC", "EXECUTE", "REPLACE", "LOAD", "HANDLER", "RENAME")
)

func (d *MySQL) ValidateQuery(sqlQuery string) error {
	return validateWith(d, sqlQuery, myForbidden, myDangerousFuncs, myKeywords)
}

// RemoveStringsAndComments strips string literals and comments from SQL
// for safe keyword detection. Supports # comments, backtick identifiers,
// and backslash escaping in strings.
func (d *MySQL) RemoveStringsAndComments(sql string) string {
	var result strings.Builder
	i := 0
	n := len(sql)

	for i < n {
		if (i+1 < n && sql[i] == '-' && sql[i+1] == '-') || sql[i] == '#' {
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

		// Double quotes delimit strings unless ANSI_QUOTES is set.
		if sql[i] == '\'' || sql[i] == '"' {
			q := sql[i]
			i = skipQuoted(sql, i, q, true)
			result.WriteByte(q)
			result.WriteByte(q)
			continue
		}

		if sql[i] == '`' {
			i = copyDelimited(&result, sql, i, '`', '`')
			continue
		}

		result.WriteByte(sql[i])
		i++
	}

	return result.String()
}

// MySQL error numbers mapped to permission failures.
var mysqlDenied = map[uint16]bool{
	1044: true, // ER_DBACCESS_DENIED_ERROR
	1045: true, // ER_ACCESS_DENIED_ERROR
	1142: true, // ER_TABLEACCESS_DENIED_ERROR
	1143: true, // ER_COLUMNACCESS_DENIED_ERROR
	1227: true, // ER_SPECIFIC_ACCESS_DENIED_ERROR
	1290: true, // ER_OPTION_PREVENTS_STATEMENT (read-only)
	1792: true, // ER_CANT_EXECUTE_IN_READ_ONLY_TRANSACTION
}

func (d *MySQL) MapError(err error) *backend.Error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return genericError(err)
	}
	var sentinel error
	if mysqlDenied[myErr.Number] {
		sentinel = backend.ErrPermissionDenied
	}
	be := backend.NewError(sentinel, 0, strconv.Itoa(int(myErr.Number)), myErr.Message)
	if myErr.SQLState != [5]byte{} {
		be.Details = "SQLSTATE " + string(myErr.SQLState[:])
	}
	return be
}
