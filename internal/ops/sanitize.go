package ops

import (
	"strings"

	"github.com/shakram02/go-supabase-mcp/internal/apperr"
)

// Sanitize returns raw if it consists only of [A-Za-z0-9_]. Otherwise, or
// if raw is empty, it fails with an InvalidIdentifier error.
func Sanitize(raw string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if raw == "" || clean != raw {
		return "", apperr.Newf(apperr.InvalidIdentifier, "invalid identifier %q: only letters, digits and underscores are allowed", raw)
	}
	return clean, nil
}

// SanitizeProjection sanitizes a returning list: empty or "*" yields "*",
// otherwise every comma-separated column must pass Sanitize.
func SanitizeProjection(returning string) (string, error) {
	returning = strings.TrimSpace(returning)
	if returning == "" || returning == "*" {
		return "*", nil
	}
	parts := strings.Split(returning, ",")
	for i, p := range parts {
		col, err := Sanitize(strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		parts[i] = col
	}
	return strings.Join(parts, ","), nil
}
