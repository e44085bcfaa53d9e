package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool reads a file relative to the working directory.
type ReadFileTool struct {
	workdir string
}

// NewReadFileTool creates a ReadFileTool sandboxed to workdir.
func NewReadFileTool(workdir string) *ReadFileTool {
	return &ReadFileTool{workdir: workdir}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file." }
func (t *ReadFileTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the working directory"}},"required":["path"]}`)
}

func (t *ReadFileTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("read_file: invalid input: %w", err)
	}
	safe, err := safePath(t.workdir, params.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(safe)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

// WriteFileTool writes content to a file relative to the working directory.
type WriteFileTool struct {
	workdir string
}

// NewWriteFileTool creates a WriteFileTool sandboxed to workdir.
func NewWriteFileTool(workdir string) *WriteFileTool {
	return &WriteFileTool{workdir: workdir}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file." }
func (t *WriteFileTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

func (t *WriteFileTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("write_file: invalid input: %w", err)
	}
	safe, err := safePath(t.workdir, params.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return "", fmt.Errorf("write_file: mkdir: %w", err)
	}
	if err := os.WriteFile(safe, []byte(params.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path), nil
}

// ListDirTool lists files in a directory relative to the working directory.
type ListDirTool struct {
	workdir string
}

// NewListDirTool creates a ListDirTool sandboxed to workdir.
func NewListDirTool(workdir string) *ListDirTool {
	return &ListDirTool{workdir: workdir}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files in a directory." }
func (t *ListDirTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to working directory (default: '.')"}}}`)
}

func (t *ListDirTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(input, &params) // path is optional
	if params.Path == "" {
		params.Path = "."
	}
	safe, err := safePath(t.workdir, params.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(safe)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(filepath.Join(params.Path, e.Name()) + "/\n")
		} else {
			sb.WriteString(filepath.Join(params.Path, e.Name()) + "\n")
		}
	}
	return sb.String(), nil
}

// safePath resolves a path under workdir and rejects path traversal attempts.
// Any path that resolves outside the workdir tree is rejected with an error.
func safePath(workdir, rel string) (string, error) {
	abs := filepath.Clean(filepath.Join(workdir, rel))
	wdClean := filepath.Clean(workdir)
	// abs must be exactly wdClean or a descendant of it.
	if abs != wdClean && !strings.HasPrefix(abs, wdClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q resolves outside workdir", rel)
	}
	return abs, nil
}
