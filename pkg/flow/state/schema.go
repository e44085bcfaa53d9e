// Package state holds the typed record shape derived from a workflow
// document and the live execution record that flows through the graph.
package state

import "strings"

// FieldType is the declared value type of a record field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeDict   FieldType = "dict"
	TypeAny    FieldType = "any"
)

// ParseFieldType resolves a document type token case-insensitively.
// Unknown tokens fall back to TypeAny rather than failing the document.
func ParseFieldType(token string) FieldType {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "string", "str", "text":
		return TypeString
	case "int", "integer":
		return TypeInt
	case "float", "number", "double":
		return TypeFloat
	case "bool", "boolean":
		return TypeBool
	case "list", "array":
		return TypeList
	case "dict", "map", "object":
		return TypeDict
	default:
		return TypeAny
	}
}

// Reducer selects the merge strategy applied when a node's partial update
// writes to a field.
type Reducer string

const (
	// ReduceReplace: last write wins.
	ReduceReplace Reducer = "replace"
	// ReduceAppend: concatenate lists in write order.
	ReduceAppend Reducer = "append"
	// ReduceOrderedAppend: concatenate, then sort by embedded fan-out index.
	ReduceOrderedAppend Reducer = "ordered_append"
)

// ParseReducer resolves a document reducer token. Empty or unknown tokens
// fall back to ReduceReplace.
func ParseReducer(token string) Reducer {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "append":
		return ReduceAppend
	case "ordered_append", "ordered-append", "indexed":
		return ReduceOrderedAppend
	default:
		return ReduceReplace
	}
}

// FieldSpec describes one record field.
type FieldSpec struct {
	Type   FieldType
	Reduce Reducer
}

// Schema maps field names to their specs. Every field is optional: absence
// of a value at runtime is never an error, supporting partial writes from
// any node.
type Schema struct {
	Fields map[string]FieldSpec
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{Fields: make(map[string]FieldSpec)}
}

// Declare registers a field. The first declaration wins so that explicit
// document declarations take precedence over implicit contributions.
func (s *Schema) Declare(name string, typ FieldType, reduce Reducer) {
	if _, ok := s.Fields[name]; ok {
		return
	}
	s.Fields[name] = FieldSpec{Type: typ, Reduce: reduce}
}

// Field returns the spec for name. Undeclared fields behave as (any, replace)
// so that bookkeeping writes never fail.
func (s *Schema) Field(name string) FieldSpec {
	if f, ok := s.Fields[name]; ok {
		return f
	}
	return FieldSpec{Type: TypeAny, Reduce: ReduceReplace}
}

// Has reports whether name is declared.
func (s *Schema) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// Framework bookkeeping field names.
const (
	KeyThreadID    = "thread_id"
	KeyCurrentNode = "current_node"
	KeyErrors      = "errors"
	KeyMessages    = "messages"
)

// LoopCountKey is the per-node re-execution counter field.
func LoopCountKey(node string) string { return node + "_loop_count" }

// LimitReachedKey marks that a node's loop limit stopped an invocation.
func LimitReachedKey(node string) string { return node + "_limit_reached" }

// SkippedKey marks that a node failure was absorbed by the skip policy.
func SkippedKey(node string) string { return node + "_skipped" }

// RouteKey is the pending-route field written by a router node.
func RouteKey(node string) string { return node + "_route" }

// AgentInputKey holds the rendered instruction an agent node ran with.
func AgentInputKey(node string) string { return node + "_input" }

// ToolResultsKey is the tool-call accumulator contributed by an agent node.
func ToolResultsKey(node string) string { return node + "_tool_results" }

// DeclareBookkeeping registers the framework fields present in every schema.
func (s *Schema) DeclareBookkeeping() {
	s.Declare(KeyThreadID, TypeString, ReduceReplace)
	s.Declare(KeyCurrentNode, TypeString, ReduceReplace)
	s.Declare(KeyErrors, TypeList, ReduceAppend)
	s.Declare(KeyMessages, TypeList, ReduceAppend)
}

// DeclareNodeBookkeeping registers the per-node counters and flags.
func (s *Schema) DeclareNodeBookkeeping(node string) {
	s.Declare(LoopCountKey(node), TypeInt, ReduceReplace)
	s.Declare(LimitReachedKey(node), TypeBool, ReduceReplace)
	s.Declare(SkippedKey(node), TypeBool, ReduceReplace)
}
