// Package tools provides the tool registry shared by agent and tool_call
// nodes, plus the built-in file and command tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry maps tool names to Tool implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name, or an error if not found.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t, nil
}

// All returns all registered tools, sorted by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Subset returns a registry restricted to the named tools. An empty name
// list returns the receiver unchanged.
func (r *Registry) Subset(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	sub := NewRegistry()
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		sub.Register(t)
	}
	return sub, nil
}

// Default returns a registry with the built-in file and command tools,
// sandboxed to workdir.
func Default(workdir string) *Registry {
	r := NewRegistry()
	r.Register(NewRunCommandTool(workdir))
	r.Register(NewReadFileTool(workdir))
	r.Register(NewWriteFileTool(workdir))
	r.Register(NewListDirTool(workdir))
	r.Register(NewJSONExtractTool())
	return r
}
