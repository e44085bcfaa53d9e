package flow

import "fmt"

// DocumentError reports a structural problem with a workflow document that
// prevents it from being loaded or compiled.
type DocumentError struct {
	Node    string
	Message string
}

func (e *DocumentError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("document error at node %q: %s", e.Node, e.Message)
	}
	return "document error: " + e.Message
}

// EmptyDocumentError marks a document with no effective content (blank or
// comments only), distinct from a malformed one.
type EmptyDocumentError struct {
	Path string
}

func (e *EmptyDocumentError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("empty configuration: %s", e.Path)
	}
	return "empty configuration"
}

// RoutingError reports a malformed edge condition, discovered when the edge
// is compiled rather than when it is evaluated.
type RoutingError struct {
	From      string
	To        string
	Condition string
	Err       error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error on edge %s -> %s: condition %q: %v", e.From, e.To, e.Condition, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }
