package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/engine"
	"github.com/ravi-parthasarathy/loom/pkg/flow/state"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
)

// stubClient answers every completion through fn.
type stubClient struct {
	fn func(req llm.GenerateRequest) (llm.GenerateResponse, error)
}

func (c *stubClient) Complete(_ context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	return c.fn(req)
}

func stubFactory(fn func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error)) *llm.Factory {
	f := llm.NewFactory()
	f.Register("stub", func(modelName string) (llm.Client, error) {
		return &stubClient{fn: func(req llm.GenerateRequest) (llm.GenerateResponse, error) {
			return fn(modelName, req)
		}}, nil
	})
	return f
}

func textReply(text string) llm.GenerateResponse {
	return llm.GenerateResponse{
		Content:    []llm.ContentBlock{{Type: llm.ContentTypeText, Text: text}},
		StopReason: llm.StopReasonEndTurn,
	}
}

func compile(t *testing.T, src string, opts engine.Options) *engine.Plan {
	t.Helper()
	def, err := flow.Parse([]byte(src))
	require.NoError(t, err)
	plan, err := engine.Compile(def, opts)
	require.NoError(t, err)
	return plan
}

func TestRun_LinearPassthrough(t *testing.T) {
	plan := compile(t, `
name: linear
nodes:
  seed:
    kind: passthrough
    set:
      greeting: "hello {state.name}"
      doubled: "{state.n + state.n}"
      attempt: "1"
edges:
  - {from: START, to: seed}
  - {from: seed, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"name": "ada", "n": 21})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "hello ada", out.Final["greeting"])
	require.Equal(t, 42, out.Final["doubled"])
	// Bare set values are template literals: numeric tokens become numbers.
	require.Equal(t, 1, out.Final["attempt"])
	require.NotEmpty(t, out.Final[state.KeyThreadID])
	require.Equal(t, flow.End, out.Final[state.KeyCurrentNode])
}

func TestRun_RouterFromSource(t *testing.T) {
	plan := compile(t, `
nodes:
  classify:
    kind: router
    source: state.category
    routes:
      bug: fix
      feature: plan
    default: plan
  fix:
    kind: passthrough
    set: {handled: "fix"}
  plan:
    kind: passthrough
    set: {handled: "plan"}
edges:
  - {from: START, to: classify}
  - {from: classify, type: conditional, to: [fix, plan]}
  - {from: fix, to: END}
  - {from: plan, to: END}
`, engine.Options{})
	eng := engine.New(plan)

	out, err := eng.Run(context.Background(), map[string]any{"category": "bug"})
	require.NoError(t, err)
	require.Equal(t, "fix", out.Final["handled"])
	require.Equal(t, "bug", out.Final[state.RouteKey("classify")])

	out, err = eng.Run(context.Background(), map[string]any{"category": "mystery"})
	require.NoError(t, err)
	require.Equal(t, "plan", out.Final["handled"])
}

func TestRun_ExpressionEdges(t *testing.T) {
	plan := compile(t, `
nodes:
  check:
    kind: passthrough
  high:
    kind: passthrough
    set: {tier: "high"}
  low:
    kind: passthrough
    set: {tier: "low"}
edges:
  - {from: START, to: check}
  - {from: check, to: high, condition: "state.score >= 80"}
  - {from: check, to: low}
  - {from: high, to: END}
  - {from: low, to: END}
`, engine.Options{})
	eng := engine.New(plan)

	out, err := eng.Run(context.Background(), map[string]any{"score": 95})
	require.NoError(t, err)
	require.Equal(t, "high", out.Final["tier"])

	out, err = eng.Run(context.Background(), map[string]any{"score": 12})
	require.NoError(t, err)
	require.Equal(t, "low", out.Final["tier"])

	// Missing score: ordering against missing is false, falls through.
	out, err = eng.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "low", out.Final["tier"])
}

func TestRun_LLMNode(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		require.Contains(t, req.Messages[0].Content[0].Text, "summarise: report.txt")
		return textReply("a fine summary"), nil
	})
	plan := compile(t, `
nodes:
  summarise:
    kind: llm
    model: "stub:model-a"
    prompt: "summarise: {state.file}"
    output: summary
edges:
  - {from: START, to: summarise}
  - {from: summarise, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"file": "report.txt"})
	require.NoError(t, err)
	require.Equal(t, "a fine summary", out.Final["summary"])

	msgs, ok := out.Final[state.KeyMessages].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
}

func TestRun_LLMStructuredOutput(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		return textReply("```json\n{\"title\": \"x\", \"severity\": 3}\n```"), nil
	})
	plan := compile(t, `
nodes:
  triage:
    kind: llm
    model: "stub:model-a"
    prompt: "triage it"
    output: ticket
    schema: [title, severity]
edges:
  - {from: START, to: triage}
  - {from: triage, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	ticket, ok := out.Final["ticket"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "x", ticket["title"])
}

func TestRun_LLMStructuredOutputMissingKey(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		return textReply(`{"title": "x"}`), nil
	})
	plan := compile(t, `
nodes:
  triage:
    kind: llm
    model: "stub:model-a"
    prompt: "triage it"
    output: ticket
    schema: [title, severity]
edges:
  - {from: START, to: triage}
  - {from: triage, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)
	require.Contains(t, out.Err.Error(), `missing required key "severity"`)
}

func TestRun_LoopLimit(t *testing.T) {
	plan := compile(t, `
nodes:
  work:
    kind: passthrough
    set:
      n: "{state.n + 1}"
edges:
  - {from: START, to: work}
  - {from: work, to: work, condition: "state.work_limit_reached != true"}
  - {from: work, to: END}
loop_limits:
  work: 3
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"n": 0})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, 3, out.Final["n"])
	require.Equal(t, 3, out.Final[state.LoopCountKey("work")])
	require.Equal(t, true, out.Final[state.LimitReachedKey("work")])
}

func TestRun_StepCap(t *testing.T) {
	plan := compile(t, `
nodes:
  spin:
    kind: passthrough
edges:
  - {from: START, to: spin}
  - {from: spin, to: spin}
loop_limits:
  spin: 1000
defaults:
  max_steps: 5
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)
	var stepErr *engine.StepLimitError
	require.ErrorAs(t, out.Err, &stepErr)
	require.Equal(t, 5, stepErr.Steps)
}

func TestRun_MapFanOut(t *testing.T) {
	plan := compile(t, `
nodes:
  shout:
    kind: map
    over: "{state.words}"
    as: word
    collect: shouted
    node:
      kind: passthrough
      set:
        loud: "{state.word}!"
      # no output field: the whole update is collected
edges:
  - {from: START, to: shout}
  - {from: shout, to: END}
`, engine.Options{})

	words := []any{"a", "b", "c"}
	out, err := engine.New(plan).Run(context.Background(), map[string]any{"words": words})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)

	collected, ok := out.Final["shouted"].([]any)
	require.True(t, ok)
	require.Len(t, collected, 3)
	first, ok := collected[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a!", first["loud"])
	require.Equal(t, 3, out.Final["shouted_source_count"])
}

func TestRun_MapFanOutTruncates(t *testing.T) {
	plan := compile(t, `
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    max_items: 2
    node:
      kind: passthrough
      set: {v: "{state.item}"}
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{
		"items": []any{1, 2, 3, 4},
	})
	require.NoError(t, err)
	require.Len(t, out.Final["results"], 2)
	require.Equal(t, 4, out.Final["results_source_count"])
}

func TestRun_MapFanOutEmptySource(t *testing.T) {
	plan := compile(t, `
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    node:
      kind: passthrough
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []any{}, out.Final["results"])
	require.Equal(t, 0, out.Final["results_source_count"])
}

func TestRun_MapFanOutNonListSourceFails(t *testing.T) {
	plan := compile(t, `
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    node:
      kind: passthrough
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`, engine.Options{})
	eng := engine.New(plan)

	out, err := eng.Run(context.Background(), map[string]any{"items": 42})
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)

	var nodeErr *engine.NodeError
	require.ErrorAs(t, out.Err, &nodeErr)
	require.Equal(t, "fan", nodeErr.Node)
	require.False(t, nodeErr.Transient)
	require.Contains(t, out.Err.Error(), "must be a list")
	require.Contains(t, out.Err.Error(), "int")

	out, err = eng.Run(context.Background(), map[string]any{"items": map[string]any{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)
	require.Contains(t, out.Err.Error(), "must be a list")
}

func TestRun_MapFanOutHardCeiling(t *testing.T) {
	plan := compile(t, `
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    node:
      kind: passthrough
      set: {v: "{state.item}"}
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`, engine.Options{})

	items := make([]any, 200)
	for i := range items {
		items[i] = i
	}
	out, err := engine.New(plan).Run(context.Background(), map[string]any{"items": items})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Len(t, out.Final["results"], 100)
	require.Equal(t, 200, out.Final["results_source_count"])
}

func TestRun_MapItemFailureIsIsolated(t *testing.T) {
	plan := compile(t, `
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    node:
      kind: shell
      command: "test {state.item} != bad && echo ok-{state.item}"
      output: ok
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{
		"items": []any{"x", "bad", "y"},
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)

	results := out.Final["results"].([]any)
	require.Len(t, results, 2)
	require.Equal(t, "ok-x", results[0])
	require.Equal(t, "ok-y", results[1])

	errList := out.Final[state.KeyErrors].([]any)
	require.Len(t, errList, 1)
	require.Contains(t, errList[0].(string), "item 1")
}

func TestRun_InterruptSuspendAndResume(t *testing.T) {
	plan := compile(t, `
nodes:
  draft:
    kind: passthrough
    set: {draft: "v1"}
  approve:
    kind: interrupt
    prompt: "Approve draft {state.draft}?"
    write_to: approval
  publish:
    kind: passthrough
    set: {published: "{state.approval}"}
edges:
  - {from: START, to: draft}
  - {from: draft, to: approve}
  - {from: approve, to: publish}
  - {from: publish, to: END}
`, engine.Options{})
	eng := engine.New(plan)

	out, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuspended, out.Status)
	require.NotNil(t, out.Suspension)
	require.Equal(t, "approve", out.Suspension.NodeID)
	require.Equal(t, "Approve draft v1?", out.Suspension.Prompt)
	require.NotEmpty(t, out.Suspension.Token)

	resumed, err := eng.Resume(context.Background(), out.Suspension.Token, "yes")
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, resumed.Status)
	require.Equal(t, "yes", resumed.Final["approval"])
	require.Equal(t, "yes", resumed.Final["published"])
}

func TestRun_ResumeUnknownToken(t *testing.T) {
	plan := compile(t, `
nodes:
  a:
    kind: passthrough
edges:
  - {from: START, to: a}
  - {from: a, to: END}
`, engine.Options{})

	_, err := engine.New(plan).Resume(context.Background(), "nope", "x")
	require.Error(t, err)
}

func TestRun_SkipPolicy(t *testing.T) {
	plan := compile(t, `
nodes:
  flaky:
    kind: shell
    command: "exit 1"
    output: result
    on_error: skip
  after:
    kind: passthrough
    set: {done: "yes"}
edges:
  - {from: START, to: flaky}
  - {from: flaky, to: after}
  - {from: after, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "yes", out.Final["done"])
	require.Equal(t, true, out.Final[state.SkippedKey("flaky")])
	require.Nil(t, out.Final["result"])
	require.NotEmpty(t, out.Final[state.KeyErrors])
}

func TestRun_SkipPolicyClearsAppendedOutput(t *testing.T) {
	plan := compile(t, `
nodes:
  flaky:
    kind: shell
    command: "exit 1"
    output: findings
    on_error: skip
state:
  findings:
    type: list
    reducer: append
edges:
  - {from: START, to: flaky}
  - {from: flaky, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{
		"findings": []any{"stale"},
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, true, out.Final[state.SkippedKey("flaky")])
	// The skip must overwrite the prior value even though the field appends.
	require.Nil(t, out.Final["findings"])
}

func TestRun_RetryPolicy(t *testing.T) {
	var calls atomic.Int32
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		if calls.Add(1) < 3 {
			return llm.GenerateResponse{}, &llm.ServerError{LLMError: llm.LLMError{Code: 503, Message: "overloaded"}}
		}
		return textReply("third time lucky"), nil
	})
	plan := compile(t, `
nodes:
  ask:
    kind: llm
    model: "stub:model-a"
    prompt: "hi"
    output: answer
    on_error: retry
    max_retries: 3
edges:
  - {from: START, to: ask}
  - {from: ask, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan, engine.WithRetryBase(time.Millisecond)).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "third time lucky", out.Final["answer"])
	require.Equal(t, int32(3), calls.Load())
}

func TestRun_RetryDoesNotRetryFatal(t *testing.T) {
	var calls atomic.Int32
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		calls.Add(1)
		return llm.GenerateResponse{}, &llm.AuthError{LLMError: llm.LLMError{Code: 401, Message: "bad key"}}
	})
	plan := compile(t, `
nodes:
  ask:
    kind: llm
    model: "stub:model-a"
    prompt: "hi"
    output: answer
    on_error: retry
    max_retries: 5
edges:
  - {from: START, to: ask}
  - {from: ask, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan, engine.WithRetryBase(time.Millisecond)).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestRun_FallbackPolicy(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		if model == "model-a" {
			return llm.GenerateResponse{}, &llm.ServerError{LLMError: llm.LLMError{Code: 500, Message: "down"}}
		}
		return textReply("from " + model), nil
	})
	plan := compile(t, `
nodes:
  ask:
    kind: llm
    model: "stub:model-a"
    prompt: "hi"
    output: answer
    on_error: fallback
    fallback_model: "stub:model-b"
edges:
  - {from: START, to: ask}
  - {from: ask, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "from model-b", out.Final["answer"])
}

func TestRun_Subgraph(t *testing.T) {
	plan := compile(t, `
nodes:
  prep:
    kind: passthrough
    set: {x: "ready"}
  inner:
    kind: subgraph
    graph:
      nodes:
        double:
          kind: passthrough
          set:
            y: "{state.n + state.n}"
      edges:
        - {from: START, to: double}
        - {from: double, to: END}
edges:
  - {from: START, to: prep}
  - {from: prep, to: inner}
  - {from: inner, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"n": 5})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, 10, out.Final["y"])
	require.Equal(t, "ready", out.Final["x"])
}

func TestRun_ToolCallNode(t *testing.T) {
	plan := compile(t, `
nodes:
  greet:
    kind: tool_call
    tool: "{state.which}"
    args:
      who: "{state.name}"
    output: greeting
tools:
  hello:
    command: "echo hello $TOOL_ARG_WHO"
    description: "Say hello."
edges:
  - {from: START, to: greet}
  - {from: greet, to: END}
`, engine.Options{BaseDir: t.TempDir()})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{
		"which": "hello",
		"name":  "ada",
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "hello ada", strings.TrimSpace(out.Final["greeting"].(string)))
}

func TestRun_AgentNodeRecordsInput(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		return textReply("all clear"), nil
	})
	plan := compile(t, `
nodes:
  audit:
    kind: agent
    model: "stub:model-a"
    prompt: "audit {state.target}"
    output: verdict
edges:
  - {from: START, to: audit}
  - {from: audit, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"target": "billing"})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, out.Status)
	require.Equal(t, "all clear", out.Final["verdict"])
	// The rendered instruction lands in the node's input field.
	require.Equal(t, "audit billing", out.Final[state.AgentInputKey("audit")])
}

func TestRun_DataFileDefaultsLoseToInitial(t *testing.T) {
	def, err := flow.Parse([]byte(`
nodes:
  a:
    kind: passthrough
    set: {echoed: "{state.topic}"}
edges:
  - {from: START, to: a}
  - {from: a, to: END}
`))
	require.NoError(t, err)
	def.Data = map[string]any{"topic": "default", "extra": "kept"}

	plan, err := engine.Compile(def, engine.Options{})
	require.NoError(t, err)

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"topic": "override"})
	require.NoError(t, err)
	require.Equal(t, "override", out.Final["echoed"])
	require.Equal(t, "kept", out.Final["extra"])
}

func TestCompile_MalformedConditionIsRoutingError(t *testing.T) {
	def, err := flow.Parse([]byte(`
nodes:
  a:
    kind: passthrough
edges:
  - {from: START, to: a}
  - {from: a, to: END, condition: "not state.done"}
`))
	require.NoError(t, err)

	_, err = engine.Compile(def, engine.Options{})
	var routingErr *flow.RoutingError
	require.ErrorAs(t, err, &routingErr)
	require.Contains(t, routingErr.Error(), "not state.done")
}

func TestCompile_InterruptInsideMapRejected(t *testing.T) {
	def, err := flow.Parse([]byte(`
nodes:
  fan:
    kind: map
    over: "{state.items}"
    as: item
    collect: results
    node:
      kind: interrupt
      prompt: "?"
      write_to: reply
edges:
  - {from: START, to: fan}
  - {from: fan, to: END}
`))
	require.NoError(t, err)

	_, err = engine.Compile(def, engine.Options{})
	var docErr *flow.DocumentError
	require.ErrorAs(t, err, &docErr)
}

func TestRun_RouterViaLLMClassification(t *testing.T) {
	factory := stubFactory(func(model string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
		prompt := req.Messages[0].Content[0].Text
		require.Contains(t, prompt, "Respond with exactly one of")
		return textReply("The answer is: urgent"), nil
	})
	plan := compile(t, `
nodes:
  triage:
    kind: router
    model: "stub:classifier"
    prompt: "How urgent is {state.issue}?"
    routes:
      urgent: escalate
      routine: queue
  escalate:
    kind: passthrough
    set: {path: "escalate"}
  queue:
    kind: passthrough
    set: {path: "queue"}
edges:
  - {from: START, to: triage}
  - {from: triage, type: conditional, to: [escalate, queue]}
  - {from: escalate, to: END}
  - {from: queue, to: END}
`, engine.Options{Models: factory})

	out, err := engine.New(plan).Run(context.Background(), map[string]any{"issue": "fire"})
	require.NoError(t, err)
	require.Equal(t, "escalate", out.Final["path"])
	require.Equal(t, "urgent", out.Final[state.RouteKey("triage")])
}

func TestRun_FailPolicyRecordsError(t *testing.T) {
	plan := compile(t, `
nodes:
  boom:
    kind: shell
    command: "echo bad >&2; exit 3"
    output: never
edges:
  - {from: START, to: boom}
  - {from: boom, to: END}
`, engine.Options{})

	out, err := engine.New(plan).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)

	var nodeErr *engine.NodeError
	require.ErrorAs(t, out.Err, &nodeErr)
	require.Equal(t, "boom", nodeErr.Node)
	require.False(t, nodeErr.Transient)

	errList, ok := out.Final[state.KeyErrors].([]any)
	require.True(t, ok)
	require.Contains(t, fmt.Sprintf("%v", errList[0]), "boom")
}

func TestRun_CheckpointFileStore(t *testing.T) {
	plan := compile(t, `
nodes:
  ask:
    kind: interrupt
    prompt: "?"
    write_to: reply
edges:
  - {from: START, to: ask}
  - {from: ask, to: END}
`, engine.Options{})

	store := engine.NewFileStore(t.TempDir())
	eng := engine.New(plan, engine.WithCheckpoints(store))

	out, err := eng.Run(context.Background(), map[string]any{"thread_id": "t-1"})
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuspended, out.Status)

	cp, err := store.Load(out.Suspension.Token)
	require.NoError(t, err)
	require.Equal(t, "t-1", cp.ThreadID)
	require.Equal(t, "ask", cp.Node)

	resumed, err := eng.Resume(context.Background(), out.Suspension.Token, "ok")
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, resumed.Status)
	require.Equal(t, "ok", resumed.Final["reply"])
}
