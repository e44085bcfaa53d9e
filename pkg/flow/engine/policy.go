package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
)

const defaultRetryAttempts = 3

// retryable reports whether an invocation failure may succeed on retry:
// transient node errors and rate-limit/server errors from providers.
func retryable(err error) bool {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Transient
	}
	return llm.Retryable(err)
}

// invoke runs a unit and applies its error policy. Retry backs off
// exponentially with jitter; fallback reruns once on the alternate model;
// skip absorbs the failure into the record.
func (e *Engine) invoke(ctx context.Context, u *Unit, rec *state.Record) (*StepResult, error) {
	res, err := u.Run(ctx, rec, "")
	if err == nil {
		return res, nil
	}

	switch u.OnError {
	case flow.PolicyRetry:
		attempts := u.MaxRetries
		if attempts <= 0 {
			attempts = defaultRetryAttempts
		}
		for i := 0; i < attempts && retryable(err); i++ {
			if werr := e.backoff(ctx, i); werr != nil {
				return nil, werr
			}
			e.logger.Warn("retrying node", "node", u.Name, "attempt", i+1, "error", err)
			res, err = u.Run(ctx, rec, "")
			if err == nil {
				return res, nil
			}
		}
		return nil, err

	case flow.PolicyFallback:
		if u.FallbackModel == "" {
			return nil, err
		}
		e.logger.Warn("falling back", "node", u.Name, "model", u.FallbackModel, "error", err)
		res, ferr := u.Run(ctx, rec, u.FallbackModel)
		if ferr != nil {
			return nil, fmt.Errorf("fallback after %v: %w", err, ferr)
		}
		return res, nil

	case flow.PolicySkip:
		e.logger.Warn("skipping failed node", "node", u.Name, "error", err)
		if u.Output != "" {
			// Set, not Apply: an append-reduced output must not keep its
			// prior value when the node is skipped.
			rec.Set(u.Output, nil)
		}
		return &StepResult{Update: map[string]any{
			state.SkippedKey(u.Name): true,
			state.KeyErrors:          []any{fmt.Sprintf("node %q skipped: %v", u.Name, err)},
		}}, nil

	default:
		return nil, err
	}
}

// backoff waits before retry attempt i: base 1s doubling, capped at 30s,
// with up to 25% jitter, honouring context cancellation.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	base := e.retryBase
	if base <= 0 {
		base = time.Second
	}
	wait := base << uint(attempt)
	if max := 30 * base; wait > max {
		wait = max
	}
	wait += time.Duration(rand.Float64() * 0.25 * float64(wait))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
