package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

var (
	errNoValues = backend.NewError(nil, 0, "", "no values given")
	errNoFilter = backend.NewError(nil, 0, "", "refusing to modify every row: no filter given")
)

func (b *Backend) insert(ctx context.Context, tx *sqlx.Tx, table string, vals values.Fields, returning string) (json.RawMessage, error) {
	if len(vals) == 0 {
		return nil, errNoValues
	}
	cols := b.quoteAll(vals.Columns())
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.d.QuoteIdent(table), strings.Join(cols, ", "), placeholders(len(cols)))

	if b.d.SupportsReturning() {
		return b.queryRows(ctx, tx, q+" RETURNING "+projection(b.d, returning), vals.Args())
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(q), vals.Args()...)
	if err != nil {
		return nil, err
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		col, err := b.autoIncrementColumn(ctx, tx, table)
		if err != nil {
			return nil, err
		}
		if col != "" {
			return b.selectWhere(ctx, tx, table, values.Fields{{Column: col, Value: values.Int(id)}}, returning)
		}
	}
	// No generated key to read back by: report the inserted values.
	row, err := json.Marshal(pick(vals, returning))
	if err != nil {
		return nil, err
	}
	return json.RawMessage("[" + string(row) + "]"), nil
}

func (b *Backend) update(ctx context.Context, tx *sqlx.Tx, table string, vals, filter values.Fields, returning string) (json.RawMessage, error) {
	if len(vals) == 0 {
		return nil, errNoValues
	}
	if len(filter) == 0 {
		return nil, errNoFilter
	}
	set := make([]string, len(vals))
	for i, col := range b.quoteAll(vals.Columns()) {
		set[i] = col + " = ?"
	}
	where, whereArgs := b.where(filter)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.d.QuoteIdent(table), strings.Join(set, ", "), where)
	args := append(vals.Args(), whereArgs...)

	if b.d.SupportsReturning() {
		return b.queryRows(ctx, tx, q+" RETURNING "+projection(b.d, returning), args)
	}
	if !rewritesFilter(filter, vals) {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return nil, err
		}
		return b.selectWhere(ctx, tx, table, filter, returning)
	}

	// The update moves rows out of the filter: read them back by primary key.
	keys, err := b.primaryKey(ctx, tx, table)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return nil, err
		}
		// Without a key, rows that already held the new values are reported too.
		return b.selectWhere(ctx, tx, table, overlay(filter, vals), returning)
	}
	matched, err := b.selectKeys(ctx, tx, table, keys, filter)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return json.RawMessage("[]"), nil
	}
	kw, kargs := b.keyWhere(keys, matched, vals)
	sel := fmt.Sprintf("SELECT %s FROM %s WHERE %s", projection(b.d, returning), b.d.QuoteIdent(table), kw)
	return b.queryRows(ctx, tx, sel, kargs)
}

func (b *Backend) delete(ctx context.Context, tx *sqlx.Tx, table string, filter values.Fields, returning string) (json.RawMessage, error) {
	if len(filter) == 0 {
		return nil, errNoFilter
	}
	where, args := b.where(filter)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", b.d.QuoteIdent(table), where)

	if b.d.SupportsReturning() {
		return b.queryRows(ctx, tx, q+" RETURNING "+projection(b.d, returning), args)
	}
	deleted, err := b.selectWhere(ctx, tx, table, filter, returning)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (b *Backend) selectWhere(ctx context.Context, tx *sqlx.Tx, table string, filter values.Fields, returning string) (json.RawMessage, error) {
	where, args := b.where(filter)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", projection(b.d, returning), b.d.QuoteIdent(table), where)
	return b.queryRows(ctx, tx, q, args)
}

func (b *Backend) queryRows(ctx context.Context, tx *sqlx.Tx, q string, args []any) (json.RawMessage, error) {
	rows, err := tx.QueryxContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return b.encodeRows(rows)
}

// where renders the conjunctive equality filter. Null values compare with
// IS NULL and take no argument.
func (b *Backend) where(filter values.Fields) (string, []any) {
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for _, f := range filter {
		col := b.d.QuoteIdent(f.Column)
		if f.Value.IsNull() {
			conds = append(conds, col+" IS NULL")
			continue
		}
		conds = append(conds, col+" = ?")
		args = append(args, f.Value.Any())
	}
	return strings.Join(conds, " AND "), args
}

// primaryKey returns the primary key columns of table, or none.
func (b *Backend) primaryKey(ctx context.Context, tx *sqlx.Tx, table string) ([]string, error) {
	cols, err := b.readColumns(ctx, tx, table)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, c := range cols {
		if c.Key == "PRI" {
			keys = append(keys, c.Name)
		}
	}
	return keys, nil
}

// selectKeys returns the key values of the rows matched by filter, one
// slice per row in keys order.
func (b *Backend) selectKeys(ctx context.Context, tx *sqlx.Tx, table string, keys []string, filter values.Fields) ([][]any, error) {
	where, args := b.where(filter)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(b.quoteAll(keys), ", "), b.d.QuoteIdent(table), where)
	rows, err := tx.QueryxContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// keyWhere matches the rows identified by matched. Key columns assigned in
// vals are compared with their new value.
func (b *Backend) keyWhere(keys []string, matched [][]any, vals values.Fields) (string, []any) {
	conds := make([]string, len(matched))
	args := make([]any, 0, len(matched)*len(keys))
	for i, row := range matched {
		parts := make([]string, len(keys))
		for j, k := range keys {
			parts[j] = b.d.QuoteIdent(k) + " = ?"
			if v, ok := vals.Get(k); ok {
				args = append(args, v.Any())
			} else {
				args = append(args, row[j])
			}
		}
		conds[i] = "(" + strings.Join(parts, " AND ") + ")"
	}
	return strings.Join(conds, " OR "), args
}

func (b *Backend) autoIncrementColumn(ctx context.Context, tx *sqlx.Tx, table string) (string, error) {
	ai, ok := b.d.(interface {
		autoIncrementQuery(databaseName, tableName string) (string, []any)
	})
	if !ok {
		return "", nil
	}
	q, args := ai.autoIncrementQuery(b.dbName, table)
	var col string
	if err := tx.QueryRowxContext(ctx, tx.Rebind(q), args...).Scan(&col); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return col, nil
}

func (b *Backend) quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = b.d.QuoteIdent(c)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rewritesFilter reports whether vals assigns any filter column.
func rewritesFilter(filter, vals values.Fields) bool {
	for _, f := range filter {
		if _, ok := vals.Get(f.Column); ok {
			return true
		}
	}
	return false
}

// overlay returns filter with the values of matching columns in vals.
func overlay(filter, vals values.Fields) values.Fields {
	out := make(values.Fields, len(filter))
	for i, f := range filter {
		if v, ok := vals.Get(f.Column); ok {
			f.Value = v
		}
		out[i] = f
	}
	return out
}

// pick returns the fields named by a returning list.
func pick(vals values.Fields, returning string) values.Fields {
	returning = strings.TrimSpace(returning)
	if returning == "" || returning == "*" {
		return vals
	}
	var out values.Fields
	for _, col := range strings.Split(returning, ",") {
		col = strings.TrimSpace(col)
		if v, ok := vals.Get(col); ok {
			out = append(out, values.Field{Column: col, Value: v})
		}
	}
	if out == nil {
		out = values.Fields{}
	}
	return out
}
