package expr

import (
	"strconv"
	"strings"
)

// ParseLiteral interprets a single token as a typed literal.
// Recognized forms, in order: quoted string (single or double), true/false
// (case-insensitive), null/none (case-insensitive), integer, float.
// Anything else is returned unchanged as a string.
func ParseLiteral(tok string) any {
	s := strings.TrimSpace(tok)
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// isQuoted reports whether s is wrapped in matching single or double quotes.
func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	return (q == '\'' || q == '"') && s[len(s)-1] == q
}
