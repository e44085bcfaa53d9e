// Package flow defines the declarative workflow document model: typed node
// specs, edges, state declarations, and the structural analyses (lint,
// cycle detection) that run before compilation.
package flow

import "time"

// Sentinel endpoint names usable in edges alongside declared nodes.
const (
	Start = "START"
	End   = "END"
)

// NodeKind identifies the kind of work a node performs. The set is closed:
// the compiler matches exhaustively over it, so a new kind is a compile
// failure everywhere it must be handled.
type NodeKind string

const (
	KindLLM         NodeKind = "llm"
	KindRouter      NodeKind = "router"
	KindShell       NodeKind = "shell"
	KindCode        NodeKind = "code"
	KindAgent       NodeKind = "agent"
	KindMap         NodeKind = "map"
	KindToolCall    NodeKind = "tool_call"
	KindInterrupt   NodeKind = "interrupt"
	KindPassthrough NodeKind = "passthrough"
	KindSubgraph    NodeKind = "subgraph"
)

// ErrorPolicy selects how the engine treats a node invocation failure.
type ErrorPolicy string

const (
	PolicyFail     ErrorPolicy = "fail"
	PolicyRetry    ErrorPolicy = "retry"
	PolicyFallback ErrorPolicy = "fallback"
	PolicySkip     ErrorPolicy = "skip"
)

// NodeSpec is a tagged variant over node kinds. Exactly one of the
// kind-specific config pointers is non-nil, matching Kind.
type NodeSpec struct {
	Name string
	Kind NodeKind

	LLM         *LLMSpec
	Router      *RouterSpec
	Shell       *ShellSpec
	Code        *CodeSpec
	Agent       *AgentSpec
	Map         *MapSpec
	ToolCall    *ToolCallSpec
	Interrupt   *InterruptSpec
	Passthrough *PassthroughSpec
	Subgraph    *SubgraphSpec

	OnError       ErrorPolicy
	MaxRetries    int
	FallbackModel string
}

// LLMSpec configures a single model call.
type LLMSpec struct {
	Prompt      string
	System      string
	Model       string
	Temperature float64
	Output      string
	// Schema lists required keys of a structured (JSON) result. Empty means
	// free text.
	Schema []string
}

// RouterSpec configures a classification router. The route value comes from
// Source (a state path) when set, otherwise from an LLM classification of
// Prompt. The chosen route name is written to the node's pending-route field
// and resolved against Routes, falling back to Default, then END.
type RouterSpec struct {
	Routes  map[string]string
	Default string
	Source  string
	Prompt  string
	Model   string
}

// ShellSpec runs a shell command rendered from a template.
type ShellSpec struct {
	Command string
	Workdir string
	Timeout time.Duration
	Output  string
}

// CodeSpec runs an inline script through an interpreter.
type CodeSpec struct {
	Language string // "sh" (default) or "python"
	Source   string
	Timeout  time.Duration
	Output   string
}

// AgentSpec configures an autonomous tool-using loop.
type AgentSpec struct {
	Prompt   string
	System   string
	Model    string
	Tools    []string
	MaxTurns int
	Output   string
}

// MapSpec fans a nested node out over each element of a source list.
type MapSpec struct {
	Over     string // expression resolving to the source list
	As       string // loop-variable name bound per item
	Node     *NodeSpec
	Collect  string // collection field, ordered-append reduced
	MaxItems int    // 0 means graph default, then the hard ceiling
}

// ToolCallSpec invokes a registered tool chosen at runtime.
type ToolCallSpec struct {
	Tool   string            // template; may reference state
	Args   map[string]string // arg name → template
	Output string
}

// InterruptSpec suspends the run to request external input.
type InterruptSpec struct {
	Prompt  string
	WriteTo string
}

// PassthroughSpec optionally assigns template values to fields.
type PassthroughSpec struct {
	Set map[string]string
}

// SubgraphSpec nests another definition, loaded from Path or inlined.
type SubgraphSpec struct {
	Path       string
	Definition *Definition
}

// EdgeKind distinguishes the three edge forms.
type EdgeKind string

const (
	EdgeSimple      EdgeKind = "simple"
	EdgeConditional EdgeKind = "conditional" // router dispatch over Targets
	EdgeExpression  EdgeKind = "expression"  // condition-string guarded
)

// EdgeSpec is one directed connection. Simple edges use To; conditional
// edges enumerate Targets; expression edges carry To plus Condition.
type EdgeSpec struct {
	Kind      EdgeKind
	From      string
	To        string
	Targets   []string
	Condition string
}

// StateField is an explicit state declaration from the document.
type StateField struct {
	Type    string // raw type token, resolved case-insensitively
	Reducer string // optional reducer token
}

// ToolSpec is a document-declared shell-backed tool, available to agent and
// tool_call nodes.
type ToolSpec struct {
	Name        string
	Command     string
	Description string
}

// Defaults carries graph-level settings.
type Defaults struct {
	Model       string
	Temperature float64
	MaxItems    int // map fan-out default cap
	MaxSteps    int // recursion/step circuit breaker
	LoopLimit   int // injected guard for unlisted cycle nodes
}

// GraphDefinition limits that apply when the document does not say otherwise.
const (
	HardMaxItems     = 100
	DefaultMaxSteps  = 50
	DefaultLoopLimit = 10
)

// Definition is the compiled, immutable description of a pipeline document.
// Created once at load time and never mutated afterwards.
type Definition struct {
	Name       string
	Nodes      map[string]*NodeSpec
	Edges      []*EdgeSpec
	StateDecls map[string]StateField
	LoopLimits map[string]int
	Tools      []ToolSpec
	Defaults   Defaults
	DataFiles  []string

	// Data holds defaults merged from data_files; callers' initial values
	// win on key collision.
	Data map[string]any
}

// Node returns the named node spec, or nil.
func (d *Definition) Node(name string) *NodeSpec {
	return d.Nodes[name]
}

// OutgoingEdges returns all edges leaving from, in document order.
func (d *Definition) OutgoingEdges(from string) []*EdgeSpec {
	var out []*EdgeSpec
	for _, e := range d.Edges {
		if e.From == from {
			out = append(out, e)
		}
	}
	return out
}

// MaxSteps returns the configured step cap or the default.
func (d *Definition) MaxSteps() int {
	if d.Defaults.MaxSteps > 0 {
		return d.Defaults.MaxSteps
	}
	return DefaultMaxSteps
}
