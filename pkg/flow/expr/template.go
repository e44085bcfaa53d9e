package expr

import (
	"fmt"
	"strings"
)

// EvalError reports a template expression that could not be evaluated.
// The literal expression string is always embedded in the message.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("expression %q: %s", e.Expr, e.Reason)
}

var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true}

// ResolveTemplate evaluates a template expression against a record.
// Supported forms:
//
//   - bare literal            →  passed through ParseLiteral
//   - {state.path}            →  lenient path reference (nil on miss)
//   - {state.a OP state.b}    →  binary arithmetic, OP ∈ {+, -, *, /};
//     operands may be path references or literals
//   - [elem, elem, ...]       →  fresh list of literals / path references
//   - {key: elem, ...}        →  fresh dict of literals / path references
//
// Containers are flat: one level of nesting only. Chained arithmetic with
// three or more operands is rejected. Division by zero is an error.
func ResolveTemplate(exprStr string, record map[string]any) (any, error) {
	s := strings.TrimSpace(exprStr)
	switch {
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		return resolveList(exprStr, s[1:len(s)-1], record)
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if indexOutsideQuotes(inner, ":") >= 0 {
			return resolveDict(exprStr, inner, record)
		}
		return resolveRef(exprStr, inner, record)
	default:
		return ParseLiteral(s), nil
	}
}

// resolveRef evaluates the body of a {...} reference: either a single path
// reference or a binary arithmetic expression.
func resolveRef(full, inner string, record map[string]any) (any, error) {
	toks := fieldsOutsideQuotes(inner)
	switch {
	case len(toks) == 0:
		return nil, &EvalError{Expr: full, Reason: "empty reference"}
	case len(toks) == 1:
		return resolveOperand(toks[0], record), nil
	case len(toks) == 3:
		op := toks[1]
		if !arithmeticOps[op] {
			return nil, &EvalError{Expr: full, Reason: fmt.Sprintf("unsupported operator %q", op)}
		}
		return applyArithmetic(full, resolveOperand(toks[0], record), op, resolveOperand(toks[2], record))
	default:
		// Three or more operands is ambiguous without a defined
		// associativity contract; reject rather than silently truncate.
		return nil, &EvalError{Expr: full, Reason: "chained arithmetic is not supported"}
	}
}

// resolveOperand interprets a single token inside a {...} reference.
// Recognized literal forms (quoted string, bool, null, number) are taken as
// literals; everything else is a lenient state path, nil on miss.
func resolveOperand(tok string, record map[string]any) any {
	v := ParseLiteral(tok)
	if s, ok := v.(string); !ok || s != strings.TrimSpace(tok) {
		return v
	}
	out, _ := ResolvePath(strings.TrimSpace(tok), record, false)
	return out
}

func applyArithmetic(full string, left any, op string, right any) (any, error) {
	// A missing operand resolves the whole expression to null.
	if left == nil || right == nil {
		return nil, nil
	}

	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok2 := right.(string); ok2 {
				return ls + rs, nil
			}
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, &EvalError{Expr: full, Reason: fmt.Sprintf("non-numeric operands %T and %T", left, right)}
	}

	bothInt := isInt(left) && isInt(right)
	switch op {
	case "+":
		return numResult(lf+rf, bothInt), nil
	case "-":
		return numResult(lf-rf, bothInt), nil
	case "*":
		return numResult(lf*rf, bothInt), nil
	case "/":
		if rf == 0 {
			return nil, &EvalError{Expr: full, Reason: "division by zero"}
		}
		q := lf / rf
		return numResult(q, bothInt && q == float64(int(q))), nil
	}
	return nil, &EvalError{Expr: full, Reason: fmt.Sprintf("unsupported operator %q", op)}
}

func numResult(f float64, asInt bool) any {
	if asInt {
		return int(f)
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	}
	return false
}

// resolveList builds a fresh list from a flat element list. Elements may be
// literals or {path} references; nested containers are rejected.
func resolveList(full, inner string, record map[string]any) (any, error) {
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return []any{}, nil
	}
	parts := splitOutsideQuotes(inner, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := resolveElement(full, p, record)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// resolveDict builds a fresh dict from "key: value" pairs.
func resolveDict(full, inner string, record map[string]any) (any, error) {
	out := make(map[string]any)
	for _, pair := range splitOutsideQuotes(inner, ",") {
		idx := indexOutsideQuotes(pair, ":")
		if idx < 0 {
			return nil, &EvalError{Expr: full, Reason: fmt.Sprintf("malformed dict entry %q", strings.TrimSpace(pair))}
		}
		key := strings.TrimSpace(pair[:idx])
		if isQuoted(key) {
			key = key[1 : len(key)-1]
		}
		if key == "" {
			return nil, &EvalError{Expr: full, Reason: "empty dict key"}
		}
		v, err := resolveElement(full, pair[idx+1:], record)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// resolveElement evaluates one container element: a literal or a single
// {path} reference. Containers inside containers are not supported.
func resolveElement(full, raw string, record map[string]any) (any, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "[") || (strings.HasPrefix(s, "{") && indexOutsideQuotes(s, ":") >= 0) {
		return nil, &EvalError{Expr: full, Reason: "nested containers are not supported"}
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if len(fieldsOutsideQuotes(inner)) != 1 {
			return nil, &EvalError{Expr: full, Reason: fmt.Sprintf("element %q must be a single reference", s)}
		}
		return resolveOperand(inner, record), nil
	}
	return ParseLiteral(s), nil
}
