package expr_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
)

func TestEvalCondition(t *testing.T) {
	record := map[string]any{
		"status": "done",
		"score":  7,
		"ratio":  0.5,
		"flag":   true,
		"name":   "ada",
	}
	tests := []struct {
		cond string
		want bool
	}{
		{"status == 'done'", true},
		{"status == 'failed'", false},
		{"status != 'failed'", true},
		{"score > 3", true},
		{"score < 3", false},
		{"score >= 7", true},
		{"score <= 6", false},
		{"ratio < 1", true},
		{"flag == true", true},
		{"flag == false", false},
		{"score > 3 and status == 'done'", true},
		{"score > 100 and status == 'done'", false},
		{"score > 100 or status == 'done'", true},
		{"score > 100 or status == 'failed'", false},
		{"score > 1 and score < 10 or status == 'failed'", true},
		// Right-hand side resolved as a state path.
		{"status == name", false},
		{"name == name", true},
		// Unresolvable right-hand side falls back to a literal string.
		{"status == done", true},
		// Missing left operand.
		{"missing == null", true},
		{"missing != null", false},
		{"missing > 1", false},
		{"missing < 1", false},
		// Type mismatch returns false, never raises.
		{"score == 'seven'", false},
		{"status > 3", false},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			got, err := expr.EvalCondition(tt.cond, record)
			if err != nil {
				t.Fatalf("EvalCondition(%q): %v", tt.cond, err)
			}
			if got != tt.want {
				t.Errorf("EvalCondition(%q) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEvalCondition_QuoteAwareSplit(t *testing.T) {
	record := map[string]any{"status": "done and dusted", "note": "this or that"}

	got, err := expr.EvalCondition("status == 'done and dusted'", record)
	if err != nil {
		t.Fatalf("EvalCondition: %v", err)
	}
	if !got {
		t.Error("quoted 'and' must not split the comparison")
	}

	got, err = expr.EvalCondition("note == 'this or that'", record)
	if err != nil {
		t.Fatalf("EvalCondition: %v", err)
	}
	if !got {
		t.Error("quoted 'or' must not split the comparison")
	}
}

func TestEvalCondition_SyntaxErrors(t *testing.T) {
	record := map[string]any{"a": 1}
	cases := []string{
		"",
		"(a == 1)",
		"not a == 1",
		"!a",
		"a == 1 and not a == 2",
		"just_a_bare_key",
	}
	for _, cond := range cases {
		t.Run(cond, func(t *testing.T) {
			_, err := expr.EvalCondition(cond, record)
			var serr *expr.SyntaxError
			if !errors.As(err, &serr) {
				t.Fatalf("EvalCondition(%q): expected *SyntaxError, got %v", cond, err)
			}
		})
	}
}

func TestEvalCondition_ErrorEmbedsExpression(t *testing.T) {
	_, err := expr.EvalCondition("(bad)", map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "(bad)") {
		t.Errorf("error %q should embed the literal expression", got)
	}
}
