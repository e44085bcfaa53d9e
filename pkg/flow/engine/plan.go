// Package engine compiles workflow definitions into executable plans and
// runs them: unit construction per node kind, route dispatch, map fan-out,
// error policies, loop guards, and interrupt suspend/resume.
package engine

import (
	"context"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
)

// StepResult is what a unit produces: a partial state update merged through
// the schema's reducers, and optionally an interrupt signal.
type StepResult struct {
	Update    map[string]any
	Interrupt *InterruptSignal
}

// InterruptSignal asks the engine to suspend the run and surface a prompt.
type InterruptSignal struct {
	Prompt  string
	WriteTo string
}

// Runner executes one node invocation. modelOverride substitutes the node's
// configured model when non-empty; runners without a model ignore it.
type Runner func(ctx context.Context, rec *state.Record, modelOverride string) (*StepResult, error)

// Route picks the next node name (or flow.End) after a unit completes.
type Route func(rec *state.Record) (string, error)

// Unit is one compiled node: its runner plus the error-policy settings the
// engine consults around each invocation.
type Unit struct {
	Name          string
	Kind          flow.NodeKind
	OnError       flow.ErrorPolicy
	MaxRetries    int
	FallbackModel string

	// Output is the field the unit writes its result to, used by the skip
	// policy to null it out. Empty when the kind has no single output.
	Output string

	Run Runner
}

// Plan is the executable form of a definition. Built once by Compile and
// shared read-only by every run.
type Plan struct {
	Def    *flow.Definition
	Schema *state.Schema
	Entry  string

	units  map[string]*Unit
	routes map[string]Route

	// LoopLimits holds the effective per-node re-execution caps: explicit
	// loop_limits entries plus injected defaults for detected cycle nodes.
	LoopLimits map[string]int
}

// Unit returns the compiled unit for a node name.
func (p *Plan) Unit(name string) (*Unit, bool) {
	u, ok := p.units[name]
	return u, ok
}

// Next resolves the node following from, given the current record.
func (p *Plan) Next(from string, rec *state.Record) (string, error) {
	route, ok := p.routes[from]
	if !ok {
		return flow.End, nil
	}
	return route(rec)
}
