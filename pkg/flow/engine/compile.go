package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
	"github.com/ravi-parthasarathy/loom/pkg/tools"
)

// Options carries the collaborators a plan needs at compile time.
type Options struct {
	// Models creates provider clients for llm, router, and agent nodes.
	Models *llm.Factory
	// Tools seeds the tool registry; document-declared tools are added on
	// top of it.
	Tools *tools.Registry
	// BaseDir resolves subgraph paths and is the working directory for
	// shell, code, and tool execution when the node does not say otherwise.
	BaseDir string
	Logger  *slog.Logger
}

type compiler struct {
	def    *flow.Definition
	models *llm.Factory
	reg    *tools.Registry
	base   string
	logger *slog.Logger
}

// Compile validates a definition and builds its executable plan. Malformed
// edge conditions surface as RoutingError before any other validation.
func Compile(def *flow.Definition, opts Options) (*Plan, error) {
	for _, e := range def.Edges {
		if e.Kind != flow.EdgeExpression {
			continue
		}
		if _, err := expr.EvalCondition(e.Condition, nil); err != nil {
			return nil, &flow.RoutingError{From: e.From, To: e.To, Condition: e.Condition, Err: err}
		}
	}
	if err := flow.LintErr(def); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	for _, t := range def.Tools {
		reg.Register(tools.NewCommandTool(t.Name, t.Description, t.Command, opts.BaseDir))
	}

	c := &compiler{
		def:    def,
		models: opts.Models,
		reg:    reg,
		base:   opts.BaseDir,
		logger: logger,
	}

	plan := &Plan{
		Def:        def,
		Schema:     flow.BuildSchema(def),
		units:      make(map[string]*Unit, len(def.Nodes)),
		routes:     make(map[string]Route, len(def.Nodes)),
		LoopLimits: effectiveLoopLimits(def),
	}

	for name, node := range def.Nodes {
		unit, err := c.buildUnit(node)
		if err != nil {
			return nil, err
		}
		plan.units[name] = unit
		plan.routes[name] = c.compileRoute(name)
	}

	entry, err := entryNode(def)
	if err != nil {
		return nil, err
	}
	plan.Entry = entry
	return plan, nil
}

// entryNode returns the first target reachable from START.
func entryNode(def *flow.Definition) (string, error) {
	for _, e := range def.Edges {
		if e.From != flow.Start {
			continue
		}
		if e.To != "" {
			return e.To, nil
		}
		if len(e.Targets) > 0 {
			return e.Targets[0], nil
		}
	}
	return "", &flow.DocumentError{Message: "no edge leaves START"}
}

// effectiveLoopLimits merges explicit loop_limits with injected guards for
// every detected cycle node, so no cycle can run unbounded.
func effectiveLoopLimits(def *flow.Definition) map[string]int {
	limits := make(map[string]int, len(def.LoopLimits))
	for node, n := range def.LoopLimits {
		limits[node] = n
	}
	fallback := def.Defaults.LoopLimit
	if fallback <= 0 {
		fallback = flow.DefaultLoopLimit
	}
	for node := range flow.DetectCycles(def.Edges) {
		if _, ok := limits[node]; !ok {
			limits[node] = fallback
		}
	}
	return limits
}

// buildUnit compiles one node into its runner. The switch is exhaustive over
// the closed kind set; parse rejects anything else earlier.
func (c *compiler) buildUnit(node *flow.NodeSpec) (*Unit, error) {
	unit := &Unit{
		Name:          node.Name,
		Kind:          node.Kind,
		OnError:       node.OnError,
		MaxRetries:    node.MaxRetries,
		FallbackModel: node.FallbackModel,
	}

	var err error
	switch node.Kind {
	case flow.KindLLM:
		unit.Output = node.LLM.Output
		unit.Run = c.llmRunner(node)
	case flow.KindRouter:
		unit.Run, err = c.routerRunner(node)
	case flow.KindShell:
		unit.Output = node.Shell.Output
		unit.Run = c.shellRunner(node)
	case flow.KindCode:
		unit.Output = node.Code.Output
		unit.Run, err = c.codeRunner(node)
	case flow.KindAgent:
		unit.Output = node.Agent.Output
		unit.Run = c.agentRunner(node)
	case flow.KindMap:
		unit.Run, err = c.mapRunner(node)
	case flow.KindToolCall:
		unit.Output = node.ToolCall.Output
		unit.Run = c.toolCallRunner(node)
	case flow.KindInterrupt:
		unit.Output = node.Interrupt.WriteTo
		unit.Run = c.interruptRunner(node)
	case flow.KindPassthrough:
		unit.Run = c.passthroughRunner(node)
	case flow.KindSubgraph:
		unit.Run, err = c.subgraphRunner(node)
	default:
		err = &flow.DocumentError{Node: node.Name, Message: fmt.Sprintf("unknown node kind %q", node.Kind)}
	}
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// compileRoute builds the dispatch closure for one source node. Router nodes
// resolve their pending-route field through the routes table; everything
// else walks outgoing edges in document order, taking the first expression
// edge whose condition holds or the first unconditional edge. No match ends
// the run.
func (c *compiler) compileRoute(name string) Route {
	node := c.def.Node(name)
	if node != nil && node.Kind == flow.KindRouter {
		cfg := node.Router
		return func(rec *state.Record) (string, error) {
			choice := rec.GetString(state.RouteKey(name))
			if target, ok := cfg.Routes[choice]; ok {
				return target, nil
			}
			if cfg.Default != "" {
				return cfg.Default, nil
			}
			return flow.End, nil
		}
	}

	edges := c.def.OutgoingEdges(name)
	return func(rec *state.Record) (string, error) {
		snap := rec.Snapshot()
		for _, e := range edges {
			switch e.Kind {
			case flow.EdgeExpression:
				ok, err := expr.EvalCondition(e.Condition, snap)
				if err != nil {
					return "", &flow.RoutingError{From: e.From, To: e.To, Condition: e.Condition, Err: err}
				}
				if ok {
					return e.To, nil
				}
			case flow.EdgeSimple:
				return e.To, nil
			case flow.EdgeConditional:
				// Non-router conditional edges fall through to the first
				// target; lint warns about this shape.
				if len(e.Targets) > 0 {
					return e.Targets[0], nil
				}
			}
		}
		return flow.End, nil
	}
}

// loadSubgraph resolves the nested definition for a subgraph node.
func (c *compiler) loadSubgraph(node *flow.NodeSpec) (*flow.Definition, error) {
	sg := node.Subgraph
	if sg.Definition != nil {
		return sg.Definition, nil
	}
	path := sg.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.base, path)
	}
	nested, err := flow.Load(path)
	if err != nil {
		return nil, &flow.DocumentError{Node: node.Name, Message: fmt.Sprintf("subgraph %q: %v", sg.Path, err)}
	}
	return nested, nil
}
