package engine

import "fmt"

// NodeError wraps a node invocation failure. Transient failures are
// candidates for the retry policy; fatal ones are not.
type NodeError struct {
	Node      string
	Transient bool
	Err       error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// BranchIsolatedError records one failed map fan-out item. It never fails
// sibling items; it lands in the record's errors list instead.
type BranchIsolatedError struct {
	Node  string
	Index int
	Err   error
}

func (e *BranchIsolatedError) Error() string {
	return fmt.Sprintf("map node %q item %d: %v", e.Node, e.Index, e.Err)
}

func (e *BranchIsolatedError) Unwrap() error { return e.Err }

// StepLimitError reports that the run crossed the global step cap, the
// circuit breaker independent of per-node loop limits.
type StepLimitError struct {
	Node  string
	Steps int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("step limit %d exceeded at node %q", e.Steps, e.Node)
}
