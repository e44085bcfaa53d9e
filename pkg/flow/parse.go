package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawDocument mirrors the YAML document layout before validation.
type rawDocument struct {
	Name       string             `yaml:"name"`
	Version    int                `yaml:"version"`
	Nodes      map[string]rawNode `yaml:"nodes"`
	Edges      []rawEdge          `yaml:"edges"`
	State      map[string]rawField
	LoopLimits map[string]int     `yaml:"loop_limits"`
	Tools      map[string]rawTool `yaml:"tools"`
	Defaults   rawDefaults        `yaml:"defaults"`
	DataFiles  []string           `yaml:"data_files"`
}

// rawField accepts either a bare type token or a {type, reducer} mapping.
type rawField struct {
	Type    string `yaml:"type"`
	Reducer string `yaml:"reducer"`
}

func (f *rawField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.Type = value.Value
		return nil
	}
	type plain rawField
	return value.Decode((*plain)(f))
}

// rawNode is the union of all per-kind attributes; splitNode narrows it.
type rawNode struct {
	Kind string `yaml:"kind"`

	Prompt      string            `yaml:"prompt"`
	System      string            `yaml:"system"`
	Model       string            `yaml:"model"`
	Temperature float64           `yaml:"temperature"`
	Output      string            `yaml:"output"`
	Schema      []string          `yaml:"schema"`
	Routes      map[string]string `yaml:"routes"`
	Default     string            `yaml:"default"`
	Source      string            `yaml:"source"`
	Command     string            `yaml:"command"`
	Workdir     string            `yaml:"workdir"`
	Timeout     string            `yaml:"timeout"`
	Language    string            `yaml:"language"`
	Tool        string            `yaml:"tool"`
	Tools       []string          `yaml:"tools"`
	Args        map[string]string `yaml:"args"`
	MaxTurns    int               `yaml:"max_turns"`
	Over        string            `yaml:"over"`
	As          string            `yaml:"as"`
	Node        *rawNode          `yaml:"node"`
	Collect     string            `yaml:"collect"`
	MaxItems    int               `yaml:"max_items"`
	WriteTo     string            `yaml:"write_to"`
	Set         map[string]string `yaml:"set"`
	Path        string            `yaml:"path"`
	Graph       *rawDocument      `yaml:"graph"`

	OnError       string `yaml:"on_error"`
	MaxRetries    int    `yaml:"max_retries"`
	FallbackModel string `yaml:"fallback_model"`
}

type rawEdge struct {
	From      string `yaml:"from"`
	To        any    `yaml:"to"`
	Type      string `yaml:"type"`
	Condition string `yaml:"condition"`
}

type rawTool struct {
	Command     string `yaml:"command"`
	Description string `yaml:"description"`
}

type rawDefaults struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxItems    int     `yaml:"max_items"`
	MaxSteps    int     `yaml:"max_steps"`
	LoopLimit   int     `yaml:"loop_limit"`
}

// Load reads and parses a workflow document from path, resolving data_files
// relative to the document's directory.
func Load(path string) (*Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	def, err := Parse(src)
	if err != nil {
		if _, ok := err.(*EmptyDocumentError); ok {
			return nil, &EmptyDocumentError{Path: path}
		}
		return nil, err
	}
	if err := loadDataFiles(def, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return def, nil
}

// Parse parses a workflow document from source. Data files are not resolved;
// use Load for that.
func Parse(src []byte) (*Definition, error) {
	if isEffectivelyEmpty(src) {
		return nil, &EmptyDocumentError{}
	}

	var raw rawDocument
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, &DocumentError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return buildDefinition(&raw)
}

func buildDefinition(raw *rawDocument) (*Definition, error) {
	if len(raw.Nodes) == 0 {
		return nil, &DocumentError{Message: "document declares no nodes"}
	}

	def := &Definition{
		Name:       raw.Name,
		Nodes:      make(map[string]*NodeSpec, len(raw.Nodes)),
		StateDecls: make(map[string]StateField, len(raw.State)),
		LoopLimits: raw.LoopLimits,
		DataFiles:  raw.DataFiles,
		Defaults: Defaults{
			Model:       raw.Defaults.Model,
			Temperature: raw.Defaults.Temperature,
			MaxItems:    raw.Defaults.MaxItems,
			MaxSteps:    raw.Defaults.MaxSteps,
			LoopLimit:   raw.Defaults.LoopLimit,
		},
	}

	for name, rn := range raw.Nodes {
		spec, err := splitNode(name, &rn)
		if err != nil {
			return nil, err
		}
		def.Nodes[name] = spec
	}

	for i, re := range raw.Edges {
		edge, err := buildEdge(i, re)
		if err != nil {
			return nil, err
		}
		def.Edges = append(def.Edges, edge)
	}

	for name, rf := range raw.State {
		def.StateDecls[name] = StateField{Type: rf.Type, Reducer: rf.Reducer}
	}

	for name, rt := range raw.Tools {
		def.Tools = append(def.Tools, ToolSpec{
			Name:        name,
			Command:     rt.Command,
			Description: rt.Description,
		})
	}

	return def, nil
}

// splitNode narrows the raw attribute union into the typed variant for the
// node's kind. Unknown kinds are rejected here so every later consumer can
// switch exhaustively.
func splitNode(name string, rn *rawNode) (*NodeSpec, error) {
	spec := &NodeSpec{
		Name:          name,
		Kind:          NodeKind(rn.Kind),
		OnError:       ErrorPolicy(rn.OnError),
		MaxRetries:    rn.MaxRetries,
		FallbackModel: rn.FallbackModel,
	}
	if spec.OnError == "" {
		spec.OnError = PolicyFail
	}
	switch spec.OnError {
	case PolicyFail, PolicyRetry, PolicyFallback, PolicySkip:
	default:
		return nil, &DocumentError{Node: name, Message: fmt.Sprintf("unknown error policy %q", rn.OnError)}
	}

	switch spec.Kind {
	case KindLLM:
		spec.LLM = &LLMSpec{
			Prompt:      rn.Prompt,
			System:      rn.System,
			Model:       rn.Model,
			Temperature: rn.Temperature,
			Output:      rn.Output,
			Schema:      rn.Schema,
		}
	case KindRouter:
		spec.Router = &RouterSpec{
			Routes:  rn.Routes,
			Default: rn.Default,
			Source:  rn.Source,
			Prompt:  rn.Prompt,
			Model:   rn.Model,
		}
	case KindShell:
		timeout, err := parseTimeout(name, rn.Timeout)
		if err != nil {
			return nil, err
		}
		spec.Shell = &ShellSpec{
			Command: rn.Command,
			Workdir: rn.Workdir,
			Timeout: timeout,
			Output:  rn.Output,
		}
	case KindCode:
		timeout, err := parseTimeout(name, rn.Timeout)
		if err != nil {
			return nil, err
		}
		spec.Code = &CodeSpec{
			Language: rn.Language,
			Source:   rn.Source,
			Timeout:  timeout,
			Output:   rn.Output,
		}
	case KindAgent:
		spec.Agent = &AgentSpec{
			Prompt:   rn.Prompt,
			System:   rn.System,
			Model:    rn.Model,
			Tools:    rn.Tools,
			MaxTurns: rn.MaxTurns,
			Output:   rn.Output,
		}
	case KindMap:
		var inner *NodeSpec
		if rn.Node != nil {
			innerName := name + ".item"
			var err error
			inner, err = splitNode(innerName, rn.Node)
			if err != nil {
				return nil, err
			}
		}
		spec.Map = &MapSpec{
			Over:     rn.Over,
			As:       rn.As,
			Node:     inner,
			Collect:  rn.Collect,
			MaxItems: rn.MaxItems,
		}
	case KindToolCall:
		spec.ToolCall = &ToolCallSpec{
			Tool:   rn.Tool,
			Args:   rn.Args,
			Output: rn.Output,
		}
	case KindInterrupt:
		spec.Interrupt = &InterruptSpec{
			Prompt:  rn.Prompt,
			WriteTo: rn.WriteTo,
		}
	case KindPassthrough:
		spec.Passthrough = &PassthroughSpec{Set: rn.Set}
	case KindSubgraph:
		sg := &SubgraphSpec{Path: rn.Path}
		if rn.Graph != nil {
			nested, err := buildDefinition(rn.Graph)
			if err != nil {
				return nil, &DocumentError{Node: name, Message: fmt.Sprintf("inline subgraph: %v", err)}
			}
			sg.Definition = nested
		}
		spec.Subgraph = sg
	case "":
		return nil, &DocumentError{Node: name, Message: "node has no kind"}
	default:
		return nil, &DocumentError{Node: name, Message: fmt.Sprintf("unknown node kind %q", rn.Kind)}
	}
	return spec, nil
}

func parseTimeout(node, token string) (time.Duration, error) {
	if token == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(token)
	if err != nil {
		return 0, &DocumentError{Node: node, Message: fmt.Sprintf("invalid timeout %q", token)}
	}
	return d, nil
}

func buildEdge(index int, re rawEdge) (*EdgeSpec, error) {
	if re.From == "" {
		return nil, &DocumentError{Message: fmt.Sprintf("edge %d has no source", index)}
	}
	edge := &EdgeSpec{From: re.From}

	switch to := re.To.(type) {
	case string:
		edge.To = to
	case []any:
		for _, t := range to {
			s, ok := t.(string)
			if !ok {
				return nil, &DocumentError{Message: fmt.Sprintf("edge %d: non-string target %v", index, t)}
			}
			edge.Targets = append(edge.Targets, s)
		}
	case nil:
		return nil, &DocumentError{Message: fmt.Sprintf("edge %d has no target", index)}
	default:
		return nil, &DocumentError{Message: fmt.Sprintf("edge %d: target must be a string or list", index)}
	}

	switch {
	case re.Type == "conditional" || len(edge.Targets) > 0:
		if len(edge.Targets) == 0 {
			return nil, &DocumentError{Message: fmt.Sprintf("edge %d: conditional edge needs a target list", index)}
		}
		edge.Kind = EdgeConditional
	case re.Condition != "":
		if edge.To == "" {
			return nil, &DocumentError{Message: fmt.Sprintf("edge %d: condition edge needs a single target", index)}
		}
		edge.Kind = EdgeExpression
		edge.Condition = re.Condition
	default:
		if edge.To == "" {
			return nil, &DocumentError{Message: fmt.Sprintf("edge %d has no target", index)}
		}
		edge.Kind = EdgeSimple
	}
	return edge, nil
}

// isEffectivelyEmpty reports whether the source contains only whitespace,
// comments, or document markers.
func isEffectivelyEmpty(src []byte) bool {
	for _, line := range strings.Split(string(src), "\n") {
		t := strings.TrimSpace(line)
		if t == "" || t == "---" || strings.HasPrefix(t, "#") {
			continue
		}
		return false
	}
	return true
}

// loadDataFiles reads each data_files entry, relative to dir, and merges its
// top-level keys into def.Data. Later files win among themselves; callers'
// initial values win over all of them at record creation.
func loadDataFiles(def *Definition, dir string) error {
	if len(def.DataFiles) == 0 {
		return nil
	}
	def.Data = make(map[string]any)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving document directory: %w", err)
	}
	for _, rel := range def.DataFiles {
		full := filepath.Clean(filepath.Join(absDir, rel))
		if filepath.IsAbs(rel) || !strings.HasPrefix(full, absDir+string(filepath.Separator)) {
			return &DocumentError{Message: fmt.Sprintf("data file %q escapes the document directory", rel)}
		}
		src, err := os.ReadFile(full)
		if err != nil {
			return &DocumentError{Message: fmt.Sprintf("data file %q: %v", rel, err)}
		}
		var values map[string]any
		if err := yaml.Unmarshal(src, &values); err != nil {
			return &DocumentError{Message: fmt.Sprintf("data file %q: invalid YAML: %v", rel, err)}
		}
		for k, v := range values {
			def.Data[k] = v
		}
	}
	return nil
}
