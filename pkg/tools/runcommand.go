package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"
)

const defaultCommandTimeout = 30 * time.Second

// RunCommandTool executes a shell command in the working directory.
type RunCommandTool struct {
	workdir string
	timeout time.Duration
}

// NewRunCommandTool creates a RunCommandTool sandboxed to workdir with a 30s timeout.
func NewRunCommandTool(workdir string) *RunCommandTool {
	return &RunCommandTool{workdir: workdir, timeout: defaultCommandTimeout}
}

func (t *RunCommandTool) Name() string        { return "run_command" }
func (t *RunCommandTool) Description() string { return "Run a shell command and return its output." }
func (t *RunCommandTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"}},"required":["command"]}`)
}

func (t *RunCommandTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("run_command: invalid input: %w", err)
	}
	if params.Command == "" {
		return "", fmt.Errorf("run_command: command must not be empty")
	}
	return runShell(ctx, params.Command, t.workdir, t.timeout, nil)
}

// CommandTool is a document-declared tool backed by a fixed shell command.
// Call arguments are passed to the command as TOOL_ARG_<NAME> environment
// variables.
type CommandTool struct {
	name        string
	description string
	command     string
	workdir     string
}

// NewCommandTool creates a tool running command with arguments in the
// environment.
func NewCommandTool(name, description, command, workdir string) *CommandTool {
	return &CommandTool{name: name, description: description, command: command, workdir: workdir}
}

func (t *CommandTool) Name() string { return t.name }

func (t *CommandTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return fmt.Sprintf("Run the %s command.", t.name)
}

func (t *CommandTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","additionalProperties":true}`)
}

func (t *CommandTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("%s: invalid input: %w", t.name, err)
		}
	}
	env := make([]string, 0, len(args))
	for k, v := range args {
		env = append(env, fmt.Sprintf("TOOL_ARG_%s=%v", envName(k), v))
	}
	return runShell(ctx, t.command, t.workdir, defaultCommandTimeout, env)
}

// envName sanitises an argument name into an environment variable suffix.
func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// runShell runs command via /bin/sh -c with a timeout, returning combined
// output with stderr marked.
func runShell(ctx context.Context, command, workdir string, timeout time.Duration, extraEnv []string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// /bin/sh -c to run the command string; no direct arg interpolation.
	cmd := exec.CommandContext(tctx, "/bin/sh", "-c", command)
	cmd.Dir = workdir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\nSTDERR:\n" + stderr.String()
	}
	if runErr != nil {
		return out, fmt.Errorf("command failed: %w", runErr)
	}
	return out, nil
}
