package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/ravi-parthasarathy/loom/pkg/agent"
	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/expr"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
)

const (
	defaultExecTimeout  = 60 * time.Second
	defaultLLMMaxTokens = 4096
)

func fatal(node string, err error) error {
	return &NodeError{Node: node, Err: err}
}

func transient(node string, err error) error {
	return &NodeError{Node: node, Transient: true, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// firstText extracts the first text block from a model response.
func firstText(resp llm.GenerateResponse) string {
	for _, block := range resp.Content {
		if block.Type == llm.ContentTypeText {
			return block.Text
		}
	}
	return ""
}

func (c *compiler) client(node, model string) (llm.Client, error) {
	if c.models == nil {
		return nil, fatal(node, fmt.Errorf("no model factory configured"))
	}
	client, err := c.models.Client(model)
	if err != nil {
		return nil, fatal(node, fmt.Errorf("create LLM client: %w", err))
	}
	return client, nil
}

func (c *compiler) llmRunner(node *flow.NodeSpec) Runner {
	cfg := node.LLM
	return func(ctx context.Context, rec *state.Record, modelOverride string) (*StepResult, error) {
		snap := rec.Snapshot()
		prompt, err := expr.RenderString(cfg.Prompt, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("prompt template: %w", err))
		}
		system, err := expr.RenderString(cfg.System, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("system template: %w", err))
		}

		model := firstNonEmpty(modelOverride, cfg.Model, c.def.Defaults.Model)
		client, err := c.client(node.Name, model)
		if err != nil {
			return nil, err
		}

		req := llm.GenerateRequest{
			Model:       model,
			Messages:    []llm.Message{llm.TextMessage(llm.RoleUser, prompt)},
			System:      system,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: firstNonZero(cfg.Temperature, c.def.Defaults.Temperature),
		}
		c.logger.Info("executing node", "node", node.Name, "kind", node.Kind, "model", model)
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("node %q: LLM call: %w", node.Name, err)
		}
		text := firstText(resp)

		update := map[string]any{
			state.KeyMessages: []any{map[string]any{"node": node.Name, "role": "assistant", "content": text}},
		}
		if cfg.Output != "" {
			value, err := structuredOutput(node.Name, text, cfg.Schema)
			if err != nil {
				return nil, err
			}
			update[cfg.Output] = value
		}
		return &StepResult{Update: update}, nil
	}
}

// structuredOutput validates a response against the declared schema keys.
// With no schema the raw text passes through.
func structuredOutput(node, text string, schema []string) (any, error) {
	if len(schema) == 0 {
		return text, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fatal(node, fmt.Errorf("structured output is not valid JSON: %w", err))
	}
	for _, key := range schema {
		if _, ok := parsed[key]; !ok {
			return nil, fatal(node, fmt.Errorf("structured output missing required key %q", key))
		}
	}
	return parsed, nil
}

// extractJSON strips markdown fences that models often wrap JSON in.
func extractJSON(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if i := strings.IndexByte(t, '\n'); i >= 0 {
			t = t[i+1:]
		}
		t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	}
	return strings.TrimSpace(t)
}

func (c *compiler) routerRunner(node *flow.NodeSpec) (Runner, error) {
	cfg := node.Router
	routeNames := make([]string, 0, len(cfg.Routes))
	for name := range cfg.Routes {
		routeNames = append(routeNames, name)
	}
	sort.Strings(routeNames)

	run := func(ctx context.Context, rec *state.Record, modelOverride string) (*StepResult, error) {
		var choice string
		if cfg.Source != "" {
			v, err := expr.ResolvePath(cfg.Source, rec.Snapshot(), false)
			if err != nil {
				return nil, fatal(node.Name, err)
			}
			if v != nil {
				choice = fmt.Sprintf("%v", v)
			}
		} else {
			prompt, err := expr.RenderString(cfg.Prompt, rec.Snapshot())
			if err != nil {
				return nil, fatal(node.Name, fmt.Errorf("prompt template: %w", err))
			}
			model := firstNonEmpty(modelOverride, cfg.Model, c.def.Defaults.Model)
			client, err := c.client(node.Name, model)
			if err != nil {
				return nil, err
			}
			classify := fmt.Sprintf("%s\n\nRespond with exactly one of: %s", prompt, strings.Join(routeNames, ", "))
			resp, err := client.Complete(ctx, llm.GenerateRequest{
				Model:     model,
				Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, classify)},
				MaxTokens: 64,
			})
			if err != nil {
				return nil, fmt.Errorf("node %q: LLM call: %w", node.Name, err)
			}
			choice = normalizeRoute(firstText(resp), routeNames)
		}
		c.logger.Info("routing", "node", node.Name, "route", choice)
		return &StepResult{Update: map[string]any{state.RouteKey(node.Name): choice}}, nil
	}
	return run, nil
}

// normalizeRoute matches a model reply against the route names, tolerating
// case, whitespace, and surrounding prose.
func normalizeRoute(reply string, routes []string) string {
	r := strings.ToLower(strings.TrimSpace(reply))
	for _, name := range routes {
		if r == strings.ToLower(name) {
			return name
		}
	}
	for _, name := range routes {
		if strings.Contains(r, strings.ToLower(name)) {
			return name
		}
	}
	return strings.TrimSpace(reply)
}

func (c *compiler) shellRunner(node *flow.NodeSpec) Runner {
	cfg := node.Shell
	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		command, err := expr.RenderString(cfg.Command, rec.Snapshot())
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("command template: %w", err))
		}
		out, err := c.execScript(ctx, node.Name, "/bin/sh", command, cfg.Workdir, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		update := map[string]any{}
		if cfg.Output != "" {
			update[cfg.Output] = out
		}
		return &StepResult{Update: update}, nil
	}
}

func (c *compiler) codeRunner(node *flow.NodeSpec) (Runner, error) {
	cfg := node.Code
	var interpreter string
	switch cfg.Language {
	case "", "sh", "shell":
		interpreter = "/bin/sh"
	case "python", "python3":
		interpreter = "python3"
	default:
		return nil, &flow.DocumentError{Node: node.Name, Message: fmt.Sprintf("unsupported language %q", cfg.Language)}
	}
	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		source, err := expr.RenderString(cfg.Source, rec.Snapshot())
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("source template: %w", err))
		}
		out, err := c.execScript(ctx, node.Name, interpreter, source, "", cfg.Timeout)
		if err != nil {
			return nil, err
		}
		update := map[string]any{}
		if cfg.Output != "" {
			update[cfg.Output] = out
		}
		return &StepResult{Update: update}, nil
	}, nil
}

// execScript runs source through interpreter -c with a timeout. A timeout is
// transient; a non-zero exit is not.
func (c *compiler) execScript(ctx context.Context, node, interpreter, source, workdir string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, interpreter, "-c", source)
	if workdir != "" {
		cmd.Dir = workdir
	} else if c.base != "" {
		cmd.Dir = c.base
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Info("executing node", "node", node, "kind", "exec", "interpreter", interpreter)
	runErr := cmd.Run()
	out := strings.TrimRight(stdout.String(), "\n")
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = runErr.Error()
		}
		if tctx.Err() == context.DeadlineExceeded {
			return out, transient(node, fmt.Errorf("timed out after %s", timeout))
		}
		return out, fatal(node, fmt.Errorf("exec failed: %s", detail))
	}
	return out, nil
}

func (c *compiler) agentRunner(node *flow.NodeSpec) Runner {
	cfg := node.Agent
	return func(ctx context.Context, rec *state.Record, modelOverride string) (*StepResult, error) {
		snap := rec.Snapshot()
		prompt, err := expr.RenderString(cfg.Prompt, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("prompt template: %w", err))
		}
		system, err := expr.RenderString(cfg.System, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("system template: %w", err))
		}

		reg, err := c.reg.Subset(cfg.Tools)
		if err != nil {
			return nil, fatal(node.Name, err)
		}
		model := firstNonEmpty(modelOverride, cfg.Model, c.def.Defaults.Model)
		client, err := c.client(node.Name, model)
		if err != nil {
			return nil, err
		}

		loop := agent.NewLoop(client, reg,
			agent.WithModel(model),
			agent.WithSystem(system),
			agent.WithMaxTurns(cfg.MaxTurns),
		)
		c.logger.Info("executing node", "node", node.Name, "kind", node.Kind, "model", model)
		result, err := loop.Run(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("node %q: agent loop: %w", node.Name, err)
		}

		update := map[string]any{
			state.AgentInputKey(node.Name):  prompt,
			state.ToolResultsKey(node.Name): result.ToolResults,
			state.KeyMessages: []any{map[string]any{
				"node": node.Name, "role": "assistant", "content": result.Output,
			}},
		}
		if cfg.Output != "" {
			update[cfg.Output] = result.Output
		}
		return &StepResult{Update: update}, nil
	}
}

func (c *compiler) toolCallRunner(node *flow.NodeSpec) Runner {
	cfg := node.ToolCall
	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		snap := rec.Snapshot()
		name, err := expr.RenderString(cfg.Tool, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("tool template: %w", err))
		}
		tool, err := c.reg.Get(name)
		if err != nil {
			return nil, fatal(node.Name, err)
		}

		args := make(map[string]any, len(cfg.Args))
		for arg, tpl := range cfg.Args {
			v, err := expr.RenderValue(tpl, snap)
			if err != nil {
				return nil, fatal(node.Name, fmt.Errorf("arg %q template: %w", arg, err))
			}
			args[arg] = v
		}
		input, err := json.Marshal(args)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("marshal args: %w", err))
		}

		c.logger.Info("executing node", "node", node.Name, "kind", node.Kind, "tool", name)
		out, err := tool.Execute(ctx, input)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("tool %q: %w", name, err))
		}
		update := map[string]any{}
		if cfg.Output != "" {
			update[cfg.Output] = out
		}
		return &StepResult{Update: update}, nil
	}
}

func (c *compiler) interruptRunner(node *flow.NodeSpec) Runner {
	cfg := node.Interrupt
	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		prompt, err := expr.RenderString(cfg.Prompt, rec.Snapshot())
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("prompt template: %w", err))
		}
		return &StepResult{Interrupt: &InterruptSignal{Prompt: prompt, WriteTo: cfg.WriteTo}}, nil
	}
}

func (c *compiler) passthroughRunner(node *flow.NodeSpec) Runner {
	cfg := node.Passthrough
	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		if len(cfg.Set) == 0 {
			return &StepResult{}, nil
		}
		snap := rec.Snapshot()
		update := make(map[string]any, len(cfg.Set))
		for field, tpl := range cfg.Set {
			v, err := expr.RenderValue(tpl, snap)
			if err != nil {
				return nil, fatal(node.Name, fmt.Errorf("set %q template: %w", field, err))
			}
			update[field] = v
		}
		return &StepResult{Update: update}, nil
	}
}

func (c *compiler) subgraphRunner(node *flow.NodeSpec) (Runner, error) {
	nested, err := c.loadSubgraph(node)
	if err != nil {
		return nil, err
	}
	plan, err := Compile(nested, Options{
		Models:  c.models,
		Tools:   c.reg,
		BaseDir: c.base,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, &flow.DocumentError{Node: node.Name, Message: fmt.Sprintf("subgraph: %v", err)}
	}

	return func(ctx context.Context, rec *state.Record, _ string) (*StepResult, error) {
		snap := rec.Snapshot()
		sub := New(plan, WithLogger(c.logger))
		outcome, err := sub.Run(ctx, snap)
		if err != nil {
			return nil, fatal(node.Name, fmt.Errorf("subgraph: %w", err))
		}
		switch outcome.Status {
		case StatusCompleted:
		case StatusSuspended:
			return nil, fatal(node.Name, fmt.Errorf("subgraph suspended; interrupts inside subgraphs are not supported"))
		default:
			return nil, fmt.Errorf("node %q: subgraph failed: %w", node.Name, outcome.Err)
		}
		return &StepResult{Update: subgraphDelta(plan.Schema, snap, outcome.Final)}, nil
	}, nil
}

// subgraphDelta reduces a completed subgraph's final state to the changes it
// made relative to the parent snapshot it started from. Append-reduced
// fields contribute only their new tail so the parent merge does not
// duplicate inherited elements.
func subgraphDelta(schema *state.Schema, parent, final map[string]any) map[string]any {
	update := make(map[string]any)
	for k, v := range final {
		if k == state.KeyThreadID || k == state.KeyCurrentNode {
			continue
		}
		prev, had := parent[k]
		if had && reflect.DeepEqual(prev, v) {
			continue
		}
		spec := schema.Field(k)
		if spec.Reduce != state.ReduceReplace {
			if tail, ok := listTail(prev, v); ok {
				if len(tail) == 0 {
					continue
				}
				update[k] = tail
				continue
			}
		}
		update[k] = v
	}
	return update
}

// listTail returns the suffix of child beyond parent when parent is a prefix
// of child.
func listTail(parent, child any) ([]any, bool) {
	cl, ok := child.([]any)
	if !ok {
		return nil, false
	}
	pl, _ := parent.([]any)
	if len(pl) > len(cl) {
		return nil, false
	}
	for i := range pl {
		if !reflect.DeepEqual(pl[i], cl[i]) {
			return nil, false
		}
	}
	return cl[len(pl):], true
}

func firstNonZero(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
