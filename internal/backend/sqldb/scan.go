package sqldb

import (
	"strings"

	"github.com/shakram02/go-supabase-mcp/internal/backend"
)

// skipBlockComment returns the index after the /* */ comment starting at i.
func skipBlockComment(sql string, i int) int {
	n := len(sql)
	i += 2
	for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
		i++
	}
	return min(i+2, n)
}

// skipQuoted returns the index after the q-quoted literal starting at i.
// A doubled q is an escaped quote; with backslash true, a backslash escapes
// the next byte.
func skipQuoted(sql string, i int, q byte, backslash bool) int {
	n := len(sql)
	i++
	for i < n {
		switch {
		case sql[i] == q:
			if i+1 < n && sql[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		case backslash && sql[i] == '\\' && i+1 < n:
			i += 2
			continue
		}
		i++
	}
	return i
}

// copyQuoted copies the q-quoted identifier starting at i into result and
// returns the index after it.
func copyQuoted(result *strings.Builder, sql string, i int, q byte) int {
	n := len(sql)
	result.WriteByte(q)
	i++
	for i < n {
		if sql[i] == q {
			if i+1 < n && sql[i+1] == q {
				result.WriteByte(q)
				result.WriteByte(q)
				i += 2
				continue
			}
			result.WriteByte(q)
			return i + 1
		}
		result.WriteByte(sql[i])
		i++
	}
	return i
}

// copyDelimited copies an identifier delimited by lq and rq (no
// escaping) and returns the index after it.
func copyDelimited(result *strings.Builder, sql string, i int, lq, rq byte) int {
	n := len(sql)
	result.WriteByte(lq)
	i++
	for i < n && sql[i] != rq {
		result.WriteByte(sql[i])
		i++
	}
	if i < n {
		result.WriteByte(rq)
		i++
	}
	return i
}

// genericError wraps an error that did not come from a known driver type.
func genericError(err error) *backend.Error {
	return backend.NewError(nil, 0, "", err.Error())
}
