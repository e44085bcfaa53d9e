package expr

import (
	"fmt"
	"strings"
)

// RenderValue resolves a node configuration value against the record. A
// value that is a single expression (one "{...}" reference, a list or dict
// literal, or a bare literal) keeps the resolved value's type. A value with
// embedded placeholders inside longer text interpolates each placeholder
// into a string, formatting with %v and rendering missing values as "".
func RenderValue(tpl string, record map[string]any) (any, error) {
	t := strings.TrimSpace(tpl)
	if !strings.Contains(t, "{") {
		return ResolveTemplate(t, record)
	}
	if strings.Count(t, "{") == 1 && strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
		return ResolveTemplate(t, record)
	}
	return interpolate(tpl, record)
}

// RenderString resolves a template and formats the result as a string.
// A nil result renders as "".
func RenderString(tpl string, record map[string]any) (string, error) {
	v, err := RenderValue(tpl, record)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// interpolate replaces each {...} placeholder in text. Placeholders do not
// nest; an unclosed brace is passed through verbatim.
func interpolate(text string, record map[string]any) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			b.WriteString(text)
			return b.String(), nil
		}
		close := strings.IndexByte(text[open:], '}')
		if close < 0 {
			b.WriteString(text)
			return b.String(), nil
		}
		close += open
		b.WriteString(text[:open])

		v, err := ResolveTemplate(text[open:close+1], record)
		if err != nil {
			return "", err
		}
		if v != nil {
			fmt.Fprintf(&b, "%v", v)
		}
		text = text[close+1:]
	}
}
