package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
)

// Severity distinguishes hard lint errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// LintIssue describes one structural finding in a definition.
type LintIssue struct {
	Severity Severity
	Node     string
	Message  string
}

func (i LintIssue) String() string {
	if i.Node != "" {
		return fmt.Sprintf("%s: node %q: %s", i.Severity, i.Node, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// requiredByKind lists the attributes each kind cannot run without. Checked
// field-by-field so all missing attributes surface in one pass.
func requiredMessages(n *NodeSpec) []string {
	var missing []string
	need := func(ok bool, attr string) {
		if !ok {
			missing = append(missing, fmt.Sprintf("missing required attribute %q for kind %q", attr, n.Kind))
		}
	}
	switch n.Kind {
	case KindLLM:
		need(n.LLM.Prompt != "", "prompt")
	case KindRouter:
		need(len(n.Router.Routes) > 0, "routes")
		need(n.Router.Source != "" || n.Router.Prompt != "", "source or prompt")
	case KindShell:
		need(n.Shell.Command != "", "command")
	case KindCode:
		need(n.Code.Source != "", "source")
	case KindAgent:
		need(n.Agent.Prompt != "", "prompt")
	case KindMap:
		need(n.Map.Over != "", "over")
		need(n.Map.As != "", "as")
		need(n.Map.Node != nil, "node")
		need(n.Map.Collect != "", "collect")
	case KindToolCall:
		need(n.ToolCall.Tool != "", "tool")
	case KindInterrupt:
		need(n.Interrupt.WriteTo != "", "write_to")
	case KindPassthrough:
	case KindSubgraph:
		need(n.Subgraph.Path != "" || n.Subgraph.Definition != nil, "path or graph")
	}
	return missing
}

// Lint checks a definition for structural problems. All findings are
// returned, errors and warnings together, in deterministic order.
func Lint(def *Definition) []LintIssue {
	var issues []LintIssue
	addErr := func(node, msg string) {
		issues = append(issues, LintIssue{Severity: SeverityError, Node: node, Message: msg})
	}
	addWarn := func(node, msg string) {
		issues = append(issues, LintIssue{Severity: SeverityWarning, Node: node, Message: msg})
	}

	names := make([]string, 0, len(def.Nodes))
	for name := range def.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, msg := range requiredMessages(def.Nodes[name]) {
			addErr(name, msg)
		}
	}

	known := func(name string) bool {
		_, ok := def.Nodes[name]
		return ok
	}
	hasStart := false
	for _, e := range def.Edges {
		if e.From == Start {
			hasStart = true
		} else if e.From == End {
			addErr("", "edge leaves END")
		} else if !known(e.From) {
			addErr("", fmt.Sprintf("edge references unknown source node %q", e.From))
		}
		for _, to := range edgeTargets(e) {
			if to == Start {
				addErr("", "edge targets START")
			} else if to != End && !known(to) {
				addErr("", fmt.Sprintf("edge references unknown target node %q", to))
			}
		}
		if e.Kind == EdgeExpression {
			if _, err := expr.EvalCondition(e.Condition, nil); err != nil {
				addErr(e.From, fmt.Sprintf("invalid edge condition %q: %v", e.Condition, err))
			}
		}
		if e.Kind == EdgeConditional && e.From != Start {
			if src, ok := def.Nodes[e.From]; ok && src.Kind != KindRouter {
				addWarn(e.From, "conditional edge leaves a non-router node; only its first target is ever taken")
			}
		}
	}
	if !hasStart {
		addErr("", "no edge leaves START")
	}

	for limited := range def.LoopLimits {
		if !known(limited) {
			addErr("", fmt.Sprintf("loop_limits references unknown node %q", limited))
		}
	}

	// Reachability over declared nodes.
	reachable := reachableFrom(def, Start)
	reachesEnd := reachesTarget(def, End)
	for _, name := range names {
		if !reachable[name] {
			addWarn(name, "node is not reachable from START")
		} else if !reachesEnd[name] {
			addWarn(name, "node has no path to END")
		}
	}

	// Cycles without an explicit loop limit still get the injected default
	// guard, but the author should know the loop exists.
	cyclic := DetectCycles(def.Edges)
	cyclicNames := make([]string, 0, len(cyclic))
	for name := range cyclic {
		cyclicNames = append(cyclicNames, name)
	}
	sort.Strings(cyclicNames)
	for _, name := range cyclicNames {
		if _, ok := def.LoopLimits[name]; !ok {
			addWarn(name, "node is on a cycle without an explicit loop limit")
		}
	}

	for _, name := range names {
		n := def.Nodes[name]
		if n.Kind == KindMap && n.Map.MaxItems == 0 && def.Defaults.MaxItems == 0 {
			addWarn(name, fmt.Sprintf("map fan-out has no max_items; hard ceiling of %d applies", HardMaxItems))
		}
	}

	return issues
}

// LintErr returns nil when the definition has no error-severity findings,
// otherwise a combined error listing all of them.
func LintErr(def *Definition) error {
	var msgs []string
	for _, issue := range Lint(def) {
		if issue.Severity == SeverityError {
			msgs = append(msgs, issue.String())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("document validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// reachableFrom returns the set of names reachable from start via directed
// edges, including START/END sentinels.
func reachableFrom(def *Definition, start string) map[string]bool {
	visited := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range def.OutgoingEdges(cur) {
			queue = append(queue, edgeTargets(e)...)
		}
	}
	return visited
}

// reachesTarget returns the set of names from which target is reachable.
func reachesTarget(def *Definition, target string) map[string]bool {
	reverse := make(map[string][]string)
	for _, e := range def.Edges {
		for _, to := range edgeTargets(e) {
			reverse[to] = append(reverse[to], e.From)
		}
	}
	visited := map[string]bool{}
	queue := []string{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		queue = append(queue, reverse[cur]...)
	}
	return visited
}
