// Package agent runs an LLM + tool loop: the model is called with the
// registered tool definitions, requested tools are executed, and results are
// fed back until the model stops calling tools or the turn budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ravi-parthasarathy/loom/pkg/llm"
	"github.com/ravi-parthasarathy/loom/pkg/tools"
)

const (
	defaultMaxTokens = 4096
	defaultMaxTurns  = 50
)

// Result holds the final output of a completed agent loop.
type Result struct {
	Output string
	// ToolResults records every executed tool call in order, one entry per
	// call: tool name, raw input, and output or error text.
	ToolResults []any
	Session     *Session
}

// Loop drives the model/tool conversation for one instruction.
type Loop struct {
	client    llm.Client
	registry  *tools.Registry
	model     string
	maxTokens int
	maxTurns  int
	system    string
	logger    *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithModel sets the model for the agent.
func WithModel(model string) Option {
	return func(a *Loop) { a.model = model }
}

// WithSystem sets the system prompt.
func WithSystem(system string) Option {
	return func(a *Loop) { a.system = system }
}

// WithMaxTokens sets the per-turn max token budget.
func WithMaxTokens(n int) Option {
	return func(a *Loop) { a.maxTokens = n }
}

// WithMaxTurns sets the maximum number of LLM turns before the loop aborts.
// A value <= 0 uses the default (50).
func WithMaxTurns(n int) Option {
	return func(a *Loop) {
		if n > 0 {
			a.maxTurns = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Loop) { a.logger = l }
}

// NewLoop creates a Loop over a client and a tool registry.
func NewLoop(client llm.Client, registry *tools.Registry, opts ...Option) *Loop {
	a := &Loop{
		client:    client,
		registry:  registry,
		maxTokens: defaultMaxTokens,
		maxTurns:  defaultMaxTurns,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes the agent loop for the given instruction.
// Returns when the model produces a response with no tool_use blocks.
func (a *Loop) Run(ctx context.Context, instruction string) (Result, error) {
	session := NewSession(a.system)

	allTools := a.registry.All()
	toolDefs := make([]llm.ToolDefinition, 0, len(allTools))
	for _, t := range allTools {
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}

	session.Append(llm.TextMessage(llm.RoleUser, instruction))

	var executed []any
	turns := 0
	for {
		turns++
		if turns > a.maxTurns {
			return Result{}, &MaxTurnsError{Turns: a.maxTurns}
		}
		if session.Len() > defaultTruncationHeadTurns+defaultTruncationTailTurns+5 {
			session.Truncate(defaultTruncationHeadTurns, defaultTruncationTailTurns)
		}

		req := llm.GenerateRequest{
			Model:     a.model,
			Messages:  session.Messages(),
			Tools:     toolDefs,
			System:    session.System(),
			MaxTokens: a.maxTokens,
		}
		resp, err := a.client.Complete(ctx, req)
		if err != nil {
			return Result{}, fmt.Errorf("agent loop: LLM call failed: %w", err)
		}
		session.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		a.logger.Debug("agent turn", "turn", turns, "stop_reason", resp.StopReason, "tokens", resp.Usage.OutputTokens)

		var toolCalls []*llm.ToolUse
		var textOutput string
		for _, b := range resp.Content {
			switch b.Type {
			case llm.ContentTypeToolUse:
				if b.ToolUse != nil {
					toolCalls = append(toolCalls, b.ToolUse)
				}
			case llm.ContentTypeText:
				textOutput += b.Text
			}
		}

		// No tool calls = model is done.
		if len(toolCalls) == 0 {
			return Result{Output: textOutput, ToolResults: executed, Session: session}, nil
		}

		toolResults := make([]llm.ContentBlock, 0, len(toolCalls))
		for _, tc := range toolCalls {
			content, isErr := a.executeTool(ctx, tc)
			record := map[string]any{"tool": tc.Name, "input": string(tc.Input), "output": content}
			if isErr {
				record["error"] = true
			}
			executed = append(executed, record)
			toolResults = append(toolResults, llm.ContentBlock{
				Type: llm.ContentTypeToolResult,
				ToolResult: &llm.ToolResult{
					ToolUseID: tc.ID,
					Content:   content,
					IsError:   isErr,
				},
			})
		}
		session.Append(llm.Message{Role: llm.RoleUser, Content: toolResults})
	}
}

func (a *Loop) executeTool(ctx context.Context, tc *llm.ToolUse) (content string, isErr bool) {
	tool, err := a.registry.Get(tc.Name)
	if err != nil {
		a.logger.Warn("tool not found", "tool", tc.Name)
		return fmt.Sprintf("tool not found: %s", tc.Name), true
	}
	a.logger.Debug("tool call", "tool", tc.Name, "input", string(tc.Input))
	result, err := tool.Execute(ctx, tc.Input)
	if err != nil {
		a.logger.Warn("tool failed", "tool", tc.Name, "error", err)
		return err.Error(), true
	}
	return result, false
}
