package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
)

// Status is the terminal condition of a run segment.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// Suspension describes an interrupted run awaiting external input.
type Suspension struct {
	Token   string
	NodeID  string
	Prompt  string
	WriteTo string
}

// Outcome is the result of Run or Resume. Err is set only for StatusFailed;
// Suspension only for StatusSuspended.
type Outcome struct {
	Status     Status
	Final      map[string]any
	Suspension *Suspension
	Err        error
}

// Engine executes a compiled plan. One engine can run many records; it holds
// no per-run state.
type Engine struct {
	plan        *Plan
	logger      *slog.Logger
	checkpoints CheckpointStore
	retryBase   time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithCheckpoints sets the store used for interrupt suspension.
func WithCheckpoints(s CheckpointStore) EngineOption {
	return func(e *Engine) { e.checkpoints = s }
}

// WithRetryBase overrides the first retry backoff interval.
func WithRetryBase(d time.Duration) EngineOption {
	return func(e *Engine) { e.retryBase = d }
}

// New creates an engine for a compiled plan.
func New(plan *Plan, opts ...EngineOption) *Engine {
	e := &Engine{
		plan:        plan,
		logger:      slog.Default(),
		checkpoints: NewMemoryStore(),
		retryBase:   time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the plan from its entry node. Document data-file defaults
// seed the record first; caller-supplied initial values win on collision.
func (e *Engine) Run(ctx context.Context, initial map[string]any) (*Outcome, error) {
	seed := make(map[string]any, len(e.plan.Def.Data)+len(initial))
	for k, v := range e.plan.Def.Data {
		seed[k] = v
	}
	for k, v := range initial {
		seed[k] = v
	}
	rec := state.NewRecord(e.plan.Schema, seed)
	if rec.GetString(state.KeyThreadID) == "" {
		rec.Set(state.KeyThreadID, uuid.NewString())
	}
	e.logger.Info("run starting", "flow", e.plan.Def.Name, "thread", rec.GetString(state.KeyThreadID), "entry", e.plan.Entry)
	return e.runFrom(ctx, rec, e.plan.Entry)
}

// Resume continues a suspended run: the reply is written to the field the
// interrupt configured, then execution advances past the interrupting node.
func (e *Engine) Resume(ctx context.Context, token string, reply any) (*Outcome, error) {
	cp, err := e.checkpoints.Load(token)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	rec := state.NewRecord(e.plan.Schema, cp.State)
	if cp.WriteTo != "" {
		rec.Set(cp.WriteTo, reply)
	}
	e.logger.Info("run resuming", "flow", e.plan.Def.Name, "thread", cp.ThreadID, "node", cp.Node)

	next, err := e.plan.Next(cp.Node, rec)
	if err != nil {
		return e.failed(rec, cp.Node, err), nil
	}
	return e.runFrom(ctx, rec, next)
}

// runFrom is the sequential execution loop. It stops at END, at an
// interrupt, at the step cap, or on an unhandled node failure.
func (e *Engine) runFrom(ctx context.Context, rec *state.Record, start string) (*Outcome, error) {
	node := start
	maxSteps := e.plan.Def.MaxSteps()
	steps := 0

	for node != flow.End {
		select {
		case <-ctx.Done():
			return e.failed(rec, node, fmt.Errorf("run cancelled at node %q: %w", node, ctx.Err())), nil
		default:
		}

		steps++
		if steps > maxSteps {
			return e.failed(rec, node, &StepLimitError{Node: node, Steps: maxSteps}), nil
		}

		unit, ok := e.plan.Unit(node)
		if !ok {
			return e.failed(rec, node, fmt.Errorf("node %q not found in plan", node)), nil
		}
		rec.Set(state.KeyCurrentNode, node)

		// Loop guard: at the limit the node is skipped, marked, and the
		// run continues along its edges.
		visits := rec.GetInt(state.LoopCountKey(node))
		if limit, guarded := e.plan.LoopLimits[node]; guarded && visits >= limit {
			e.logger.Warn("loop limit reached", "node", node, "limit", limit)
			rec.Set(state.LimitReachedKey(node), true)
			next, err := e.plan.Next(node, rec)
			if err != nil {
				return e.failed(rec, node, err), nil
			}
			node = next
			continue
		}

		res, err := e.invoke(ctx, unit, rec)
		if err != nil {
			return e.failed(rec, node, err), nil
		}
		rec.Set(state.LoopCountKey(node), visits+1)
		if res != nil && res.Update != nil {
			rec.Apply(res.Update)
		}

		if res != nil && res.Interrupt != nil {
			return e.suspend(rec, node, res.Interrupt)
		}

		next, err := e.plan.Next(node, rec)
		if err != nil {
			return e.failed(rec, node, err), nil
		}
		node = next
	}

	rec.Set(state.KeyCurrentNode, flow.End)
	e.logger.Info("run complete", "flow", e.plan.Def.Name, "thread", rec.GetString(state.KeyThreadID), "steps", steps)
	return &Outcome{Status: StatusCompleted, Final: rec.Snapshot()}, nil
}

func (e *Engine) suspend(rec *state.Record, node string, sig *InterruptSignal) (*Outcome, error) {
	cp := &Checkpoint{
		Token:     uuid.NewString(),
		ThreadID:  rec.GetString(state.KeyThreadID),
		Node:      node,
		Prompt:    sig.Prompt,
		WriteTo:   sig.WriteTo,
		State:     rec.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.checkpoints.Save(cp); err != nil {
		return nil, fmt.Errorf("node %q: save checkpoint: %w", node, err)
	}
	e.logger.Info("run suspended", "node", node, "token", cp.Token)
	return &Outcome{
		Status: StatusSuspended,
		Final:  rec.Snapshot(),
		Suspension: &Suspension{
			Token:   cp.Token,
			NodeID:  node,
			Prompt:  sig.Prompt,
			WriteTo: sig.WriteTo,
		},
	}, nil
}

func (e *Engine) failed(rec *state.Record, node string, err error) *Outcome {
	e.logger.Error("run failed", "node", node, "error", err)
	rec.Apply(map[string]any{
		state.KeyErrors: []any{fmt.Sprintf("node %q: %v", node, err)},
	})
	return &Outcome{Status: StatusFailed, Final: rec.Snapshot(), Err: err}
}
