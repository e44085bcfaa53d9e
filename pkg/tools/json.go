package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONExtractTool pulls a value out of a JSON document using a dot-path
// expression. Numeric path segments index into arrays.
type JSONExtractTool struct{}

func NewJSONExtractTool() *JSONExtractTool { return &JSONExtractTool{} }

func (t *JSONExtractTool) Name() string { return "json_extract" }

func (t *JSONExtractTool) Description() string {
	return "Extract a value from a JSON document using a dot-path, e.g. items.0.name"
}

func (t *JSONExtractTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"json": {"type": "string", "description": "the JSON document"},
			"path": {"type": "string", "description": "dot-path to the value"},
			"default": {"type": "string", "description": "value returned when the path is missing"}
		},
		"required": ["json", "path"]
	}`)
}

func (t *JSONExtractTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var params struct {
		JSON    string `json:"json"`
		Path    string `json:"path"`
		Default string `json:"default"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.TrimSpace(params.JSON) == "" {
		return params.Default, nil
	}

	var root any
	if err := json.Unmarshal([]byte(params.JSON), &root); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	segments := strings.Split(strings.TrimPrefix(params.Path, "."), ".")
	val, err := walkPath(root, segments)
	if err != nil {
		if params.Default != "" {
			return params.Default, nil
		}
		return "", fmt.Errorf("path %q: %w", params.Path, err)
	}
	return jsonValueString(val), nil
}

// walkPath navigates a parsed JSON value following the given path segments.
// Numeric segments are used as array indices; all others as map keys.
func walkPath(v any, segments []string) (any, error) {
	cur := v
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("segment %q is not a valid array index", seg)
			}
			if idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("index %d out of range (len=%d)", idx, len(c))
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("cannot index into %T with segment %q", cur, seg)
		}
	}
	return cur, nil
}

// jsonValueString converts a JSON value to its string representation.
// Primitives use plain formatting; objects and arrays re-marshal to compact
// JSON.
func jsonValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
