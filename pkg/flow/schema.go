package flow

import "github.com/ravi-parthasarathy/loom/pkg/flow/state"

// BuildSchema derives the record schema for a definition: framework
// bookkeeping, explicit state declarations, then the implicit fields each
// node kind contributes. Explicit declarations win over implicit ones, and
// the first declaration of any name wins overall.
func BuildSchema(def *Definition) *state.Schema {
	s := state.NewSchema()

	for name, decl := range def.StateDecls {
		s.Declare(name, state.ParseFieldType(decl.Type), state.ParseReducer(decl.Reducer))
	}
	s.DeclareBookkeeping()

	for name, node := range def.Nodes {
		s.DeclareNodeBookkeeping(name)
		declareNodeFields(s, name, node)
	}
	return s
}

func declareNodeFields(s *state.Schema, name string, node *NodeSpec) {
	switch node.Kind {
	case KindLLM:
		declareOutput(s, node.LLM.Output)
	case KindRouter:
		s.Declare(state.RouteKey(name), state.TypeString, state.ReduceReplace)
	case KindShell:
		declareOutput(s, node.Shell.Output)
	case KindCode:
		declareOutput(s, node.Code.Output)
	case KindAgent:
		declareOutput(s, node.Agent.Output)
		s.Declare(state.AgentInputKey(name), state.TypeString, state.ReduceReplace)
		s.Declare(state.ToolResultsKey(name), state.TypeList, state.ReduceAppend)
	case KindMap:
		if node.Map.Collect != "" {
			s.Declare(node.Map.Collect, state.TypeList, state.ReduceOrderedAppend)
			s.Declare(node.Map.Collect+"_source_count", state.TypeInt, state.ReduceReplace)
		}
		if node.Map.Node != nil {
			declareNodeFields(s, node.Map.Node.Name, node.Map.Node)
		}
	case KindToolCall:
		declareOutput(s, node.ToolCall.Output)
	case KindInterrupt:
		declareOutput(s, node.Interrupt.WriteTo)
	case KindPassthrough:
		for field := range node.Passthrough.Set {
			s.Declare(field, state.TypeAny, state.ReduceReplace)
		}
	case KindSubgraph:
		// Subgraph outputs merge through the nested definition's own schema.
	}
}

func declareOutput(s *state.Schema, field string) {
	if field != "" {
		s.Declare(field, state.TypeAny, state.ReduceReplace)
	}
}
