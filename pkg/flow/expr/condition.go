package expr

import (
	"fmt"
	"strings"
)

// SyntaxError reports a condition expression the evaluator cannot parse.
// The literal expression is embedded so the failing edge is identifiable.
type SyntaxError struct {
	Expr   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expr, e.Reason)
}

// comparison operators in scan order: two-character operators first so that
// "<=" is never read as "<" followed by a stray "=".
var comparisonOps = []string{"<=", ">=", "==", "!=", "<", ">"}

// EvalCondition evaluates a boolean routing expression against a record.
//
// Grammar:
//
//	<expr> ::= <cmp> ( " or " <cmp> )* | <cmp> ( " and " <cmp> )*
//	<cmp>  ::= <path> <op> <operand>      op ∈ { < > <= >= == != }
//
// "or" binds loosest, then "and". Splitting is quote-aware: an and/or token
// inside a quoted literal never splits. Parentheses and unary NOT are not
// supported and raise a *SyntaxError. Type-mismatched comparisons evaluate
// to false rather than raising. A missing left operand is false under the
// ordering operators, and "missing == null" is true.
func EvalCondition(exprStr string, record map[string]any) (bool, error) {
	s := strings.TrimSpace(exprStr)
	if s == "" {
		return false, &SyntaxError{Expr: exprStr, Reason: "empty condition"}
	}
	if indexOutsideQuotes(s, "(") >= 0 || indexOutsideQuotes(s, ")") >= 0 {
		return false, &SyntaxError{Expr: exprStr, Reason: "parentheses are not supported"}
	}
	if strings.HasPrefix(s, "not ") || indexOutsideQuotes(s, " not ") >= 0 || strings.HasPrefix(s, "!") {
		return false, &SyntaxError{Expr: exprStr, Reason: "negation is not supported"}
	}
	return evalOr(exprStr, s, record)
}

func evalOr(full, s string, record map[string]any) (bool, error) {
	parts := splitOutsideQuotes(s, " or ")
	result := false
	for _, p := range parts {
		v, err := evalAnd(full, p, record)
		if err != nil {
			return false, err
		}
		result = result || v
	}
	return result, nil
}

func evalAnd(full, s string, record map[string]any) (bool, error) {
	parts := splitOutsideQuotes(s, " and ")
	result := true
	for _, p := range parts {
		v, err := evalComparison(full, p, record)
		if err != nil {
			return false, err
		}
		result = result && v
	}
	return result, nil
}

func evalComparison(full, s string, record map[string]any) (bool, error) {
	s = strings.TrimSpace(s)
	op, idx := findOperator(s)
	if idx < 0 {
		return false, &SyntaxError{Expr: full, Reason: fmt.Sprintf("expected comparison in %q", s)}
	}
	lhsPath := strings.TrimSpace(s[:idx])
	rhsRaw := strings.TrimSpace(s[idx+len(op):])
	if lhsPath == "" || rhsRaw == "" {
		return false, &SyntaxError{Expr: full, Reason: fmt.Sprintf("incomplete comparison in %q", s)}
	}

	left, _ := ResolvePath(lhsPath, record, false)
	right := resolveRightOperand(rhsRaw, record)
	return compare(left, op, right), nil
}

// findOperator locates the first comparison operator outside quotes.
func findOperator(s string) (string, int) {
	best := -1
	bestOp := ""
	for _, op := range comparisonOps {
		idx := indexOutsideQuotes(s, op)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			bestOp = op
		} else if idx == best && len(op) > len(bestOp) {
			bestOp = op
		}
	}
	return bestOp, best
}

// resolveRightOperand resolves the right-hand side of a comparison in order:
// quoted literal, boolean/null keyword, numeric literal, state path, and
// finally the raw token as a literal string.
func resolveRightOperand(raw string, record map[string]any) any {
	if isQuoted(raw) {
		return raw[1 : len(raw)-1]
	}
	v := ParseLiteral(raw)
	if s, ok := v.(string); !ok || s != raw {
		return v
	}
	if resolved, err := ResolvePath(raw, record, true); err == nil {
		return resolved
	}
	return raw
}

func compare(left any, op string, right any) bool {
	switch op {
	case "==":
		return valuesEqual(left, right)
	case "!=":
		return !valuesEqual(left, right)
	}

	// Ordering operators: numbers compare numerically, strings lexically.
	// Anything else, including a missing left operand, is false.
	if lf, lok := toFloat(left); lok {
		rf, rok := toFloat(right)
		if !rok {
			return false
		}
		return orderHolds(op, lf < rf, lf > rf)
	}
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		if !rok {
			return false
		}
		return orderHolds(op, ls < rs, ls > rs)
	}
	return false
}

func orderHolds(op string, lt, gt bool) bool {
	switch op {
	case "<":
		return lt
	case ">":
		return gt
	case "<=":
		return !gt
	case ">=":
		return !lt
	}
	return false
}

// valuesEqual compares with numeric coercion across int and float. nil only
// equals nil; mismatched types are never equal.
func valuesEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			return lf == rf
		}
		return false
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	}
	return false
}
