// Package setup installs the server-side procedures the REST backend calls:
// exec_sql, exec_sql_write and execute_transaction.
package setup

import (
	"bufio"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "migrations"
	scriptFile    = migrationsDir + "/00001_rpc_functions.sql"
	// versionTable keeps goose's bookkeeping apart from the application's.
	versionTable = "supabase_mcp_migrations"
)

func init() {
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName(versionTable)
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

// Apply runs the pending migrations against db. A nil logger silences
// goose.
func Apply(ctx context.Context, db *sql.DB, lg *slog.Logger) error {
	if lg == nil {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(gooseLogger{lg})
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	return nil
}

// Script returns the install script as plain SQL, without the migration
// annotations and the rollback section, for running in a SQL editor.
func Script() (string, error) {
	data, err := migrationsFS.ReadFile(scriptFile)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "-- +goose Down") {
			break
		}
		if strings.HasPrefix(line, "-- +goose") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}

// gooseLogger routes goose output to slog.
type gooseLogger struct {
	lg *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.lg.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.lg.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}
