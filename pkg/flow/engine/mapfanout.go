package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
)

// maxFanOutWorkers bounds how many fan-out items run at once.
const maxFanOutWorkers = 8

// mapRunner compiles a map node: resolve the source list, run the nested
// unit once per item on an isolated record clone, and merge all indexed
// contributions in one update so the ordered-append reducer sees the whole
// generation together. A failed item never fails its siblings; it lands in
// the errors list instead.
func (c *compiler) mapRunner(node *flow.NodeSpec) (Runner, error) {
	cfg := node.Map
	if cfg.Node.Kind == flow.KindInterrupt {
		return nil, &flow.DocumentError{Node: node.Name, Message: "interrupt nodes cannot run inside a map fan-out"}
	}
	inner, err := c.buildUnit(cfg.Node)
	if err != nil {
		return nil, err
	}

	limit := cfg.MaxItems
	if limit <= 0 {
		limit = c.def.Defaults.MaxItems
	}
	if limit <= 0 || limit > flow.HardMaxItems {
		limit = flow.HardMaxItems
	}

	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		source, err := expr.ResolveTemplate(cfg.Over, rec.Snapshot())
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("over template: %w", err))
		}
		items, err := sourceItems(source)
		if err != nil {
			return nil, fatal(node.Name, err)
		}

		total := len(items)
		if total > limit {
			c.logger.Warn("map fan-out truncated", "node", node.Name, "items", total, "cap", limit)
			items = items[:limit]
		}
		update := map[string]any{
			cfg.Collect + "_source_count": total,
		}
		if len(items) == 0 {
			update[cfg.Collect] = []any{}
			return &StepResult{Update: update}, nil
		}

		var (
			mu            sync.Mutex
			contributions []any
			failures      []any
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxFanOutWorkers)
		for i, item := range items {
			g.Go(func() error {
				clone := rec.Clone()
				clone.Set(cfg.As, item)
				clone.Set(cfg.As+"_index", i)

				res, err := inner.Run(gctx, clone, "")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					isolated := &BranchIsolatedError{Node: node.Name, Index: i, Err: err}
					c.logger.Warn("map item failed", "node", node.Name, "index", i, "error", err)
					failures = append(failures, isolated.Error())
					return nil
				}
				contributions = append(contributions, state.Indexed{
					Index: i,
					Value: itemResult(inner, res),
				})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("node %q: fan-out: %w", node.Name, err)
		}

		update[cfg.Collect] = contributions
		if len(failures) > 0 {
			update[state.KeyErrors] = failures
		}
		return &StepResult{Update: update}, nil
	}, nil
}

// itemResult picks what a fan-out item contributes to the collection: the
// nested unit's declared output when it has one, otherwise its whole update.
func itemResult(inner *Unit, res *StepResult) any {
	if res == nil {
		return nil
	}
	if inner.Output != "" {
		return res.Update[inner.Output]
	}
	return res.Update
}

// sourceItems validates the resolved over-expression. A missing source is an
// empty fan-out, not an error; any non-list value is a type error.
func sourceItems(source any) ([]any, error) {
	switch items := source.(type) {
	case nil:
		return nil, nil
	case []any:
		return items, nil
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("map source must be a list, got %T", source)
	}
}
