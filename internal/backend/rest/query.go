package rest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
	"github.com/shakram02/go-supabase-mcp/internal/values"
)

// query is an ordered list of query parameters. PostgREST filters are
// plain parameters, so order is kept as given for readable logs.
type query []param

type param struct{ key, value string }

func (q query) add(key, value string) query {
	return append(q, param{key, value})
}

func (q query) encode() string {
	var sb strings.Builder
	for i, p := range q {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.value))
	}
	return sb.String()
}

// reserved are the query parameters PostgREST does not read as column
// filters.
var reserved = map[string]bool{
	"select": true, "order": true, "limit": true, "offset": true,
	"on_conflict": true, "columns": true,
	"and": true, "or": true, "not.and": true, "not.or": true,
}

// filterQuery renders an equality filter: column=eq.value, with null and
// booleans compared by "is". Columns named like a reserved parameter cannot
// be filtered on and are rejected.
func filterQuery(filter values.Fields) (query, error) {
	q := make(query, 0, len(filter)+1)
	for _, f := range filter {
		if reserved[f.Column] {
			return nil, backend.NewError(nil, 0, "", fmt.Sprintf("cannot filter on column %q: the name is a reserved query parameter", f.Column))
		}
		switch f.Value.Kind() {
		case values.KindNull, values.KindBool:
			q = q.add(f.Column, "is."+f.Value.Text())
		default:
			q = q.add(f.Column, "eq."+f.Value.Text())
		}
	}
	return q, nil
}

func projection(returning string) string {
	if returning == "" {
		return "*"
	}
	return returning
}
