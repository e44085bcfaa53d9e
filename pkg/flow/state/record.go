package state

import "sync"

// Record is the live value flowing through a graph run: a thread-safe
// key→value store conforming to a Schema. Mutations happen only through
// Apply (node partial updates, merged per-field) and Set (engine
// bookkeeping, replace semantics).
type Record struct {
	mu     sync.RWMutex
	schema *Schema
	data   map[string]any
}

// NewRecord creates a record from caller-supplied initial values.
func NewRecord(schema *Schema, initial map[string]any) *Record {
	if schema == nil {
		schema = NewSchema()
	}
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &Record{schema: schema, data: data}
}

// Schema returns the record's schema.
func (r *Record) Schema() *Schema { return r.schema }

// Get retrieves a value by key.
func (r *Record) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok
}

// GetString retrieves a string value, returning "" if absent or not a string.
func (r *Record) GetString(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetInt retrieves an integer value, returning 0 if absent or not numeric.
func (r *Record) GetInt(key string) int {
	v, ok := r.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Set stores a value with replace semantics, bypassing reducers.
// Reserved for engine bookkeeping writes.
func (r *Record) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
}

// Apply merges a node's partial update into the record, each field through
// its schema reducer.
func (r *Record) Apply(update map[string]any) {
	if len(update) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range update {
		r.data[k] = merge(r.schema.Field(k), r.data[k], v)
	}
}

// Snapshot returns a shallow copy of all key-value pairs.
func (r *Record) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// Clone returns an independent record sharing the same schema. Used to give
// each map fan-out item an isolated view.
func (r *Record) Clone() *Record {
	return &Record{schema: r.schema, data: r.Snapshot()}
}
