package expr_test

import (
	"testing"

	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
)

func TestRenderValue_SingleExpressionKeepsType(t *testing.T) {
	record := map[string]any{"count": 3, "name": "ada"}

	v, err := expr.RenderValue("{state.count}", record)
	if err != nil {
		t.Fatalf("RenderValue: %v", err)
	}
	if v != 3 {
		t.Errorf("value = %v (%T), want int 3", v, v)
	}

	v, err = expr.RenderValue("{state.count + 1}", record)
	if err != nil {
		t.Fatalf("RenderValue arithmetic: %v", err)
	}
	if v != 4 {
		t.Errorf("value = %v, want 4", v)
	}
}

func TestRenderValue_Interpolation(t *testing.T) {
	record := map[string]any{"name": "ada", "count": 3}
	tests := []struct {
		tpl  string
		want string
	}{
		{"hello {state.name}", "hello ada"},
		{"{state.name} has {state.count} items", "ada has 3 items"},
		{"missing: [{state.ghost}]", "missing: []"},
		{"no placeholders", "no placeholders"},
		{"unclosed { brace", "unclosed { brace"},
	}
	for _, tt := range tests {
		got, err := expr.RenderString(tt.tpl, record)
		if err != nil {
			t.Errorf("RenderString(%q): %v", tt.tpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RenderString(%q) = %q, want %q", tt.tpl, got, tt.want)
		}
	}
}

func TestRenderString_NilIsEmpty(t *testing.T) {
	got, err := expr.RenderString("{state.absent}", nil)
	if err != nil {
		t.Fatalf("RenderString: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
