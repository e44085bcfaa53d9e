package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ravi-parthasarathy/loom/pkg/agent"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
	"github.com/ravi-parthasarathy/loom/pkg/tools"
)

// scriptedClient replays a fixed sequence of responses.
type scriptedClient struct {
	responses []llm.GenerateResponse
	calls     int
}

func (c *scriptedClient) Complete(_ context.Context, _ llm.GenerateRequest) (llm.GenerateResponse, error) {
	if c.calls >= len(c.responses) {
		return llm.GenerateResponse{}, errors.New("no more scripted responses")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func textResponse(text string) llm.GenerateResponse {
	return llm.GenerateResponse{
		Content:    []llm.ContentBlock{{Type: llm.ContentTypeText, Text: text}},
		StopReason: llm.StopReasonEndTurn,
	}
}

func toolUseResponse(id, name, input string) llm.GenerateResponse {
	return llm.GenerateResponse{
		Content: []llm.ContentBlock{{
			Type:    llm.ContentTypeToolUse,
			ToolUse: &llm.ToolUse{ID: id, Name: name, Input: []byte(input)},
		}},
		StopReason: llm.StopReasonToolUse,
	}
}

// echoTool returns its input verbatim.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input back." }
func (echoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func TestLoop_StopsWhenNoToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []llm.GenerateResponse{textResponse("all done")}}
	loop := agent.NewLoop(client, tools.NewRegistry())

	result, err := loop.Run(context.Background(), "do nothing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "all done" {
		t.Errorf("output = %q", result.Output)
	}
	if len(result.ToolResults) != 0 {
		t.Errorf("tool results = %v, want none", result.ToolResults)
	}
}

func TestLoop_ExecutesToolsThenFinishes(t *testing.T) {
	client := &scriptedClient{responses: []llm.GenerateResponse{
		toolUseResponse("call_1", "echo", `{"text":"hi"}`),
		textResponse("echoed"),
	}}
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	loop := agent.NewLoop(client, reg)

	result, err := loop.Run(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "echoed" {
		t.Errorf("output = %q", result.Output)
	}
	if len(result.ToolResults) != 1 {
		t.Fatalf("tool results = %v, want 1 entry", result.ToolResults)
	}
	entry, ok := result.ToolResults[0].(map[string]any)
	if !ok || entry["tool"] != "echo" {
		t.Errorf("tool result entry = %v", result.ToolResults[0])
	}
}

func TestLoop_UnknownToolReportedToModel(t *testing.T) {
	client := &scriptedClient{responses: []llm.GenerateResponse{
		toolUseResponse("call_1", "ghost", `{}`),
		textResponse("recovered"),
	}}
	loop := agent.NewLoop(client, tools.NewRegistry())

	result, err := loop.Run(context.Background(), "use a missing tool")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output != "recovered" {
		t.Errorf("output = %q", result.Output)
	}
	entry := result.ToolResults[0].(map[string]any)
	if entry["error"] != true {
		t.Errorf("expected error entry, got %v", entry)
	}
}

func TestLoop_MaxTurns(t *testing.T) {
	var responses []llm.GenerateResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, toolUseResponse(fmt.Sprintf("call_%d", i), "echo", `{}`))
	}
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	loop := agent.NewLoop(&scriptedClient{responses: responses}, reg, agent.WithMaxTurns(3))

	_, err := loop.Run(context.Background(), "loop forever")
	var maxErr *agent.MaxTurnsError
	if !errors.As(err, &maxErr) {
		t.Fatalf("err = %v, want MaxTurnsError", err)
	}
	if maxErr.Turns != 3 {
		t.Errorf("turns = %d, want 3", maxErr.Turns)
	}
}

func TestSession_AppendAndMessages(t *testing.T) {
	sess := agent.NewSession("You are a helpful assistant.")
	if sess.System() != "You are a helpful assistant." {
		t.Fatalf("unexpected system prompt: %q", sess.System())
	}
	sess.Append(llm.TextMessage(llm.RoleUser, "hello"))
	sess.Append(llm.TextMessage(llm.RoleAssistant, "hi there"))
	if sess.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", sess.Len())
	}
}

func TestSession_Truncate(t *testing.T) {
	sess := agent.NewSession("")
	for i := 0; i < 15; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		sess.Append(llm.TextMessage(role, fmt.Sprintf("msg-%d", i)))
	}

	// head(2) + marker + tail(4) = 7 messages.
	sess.Truncate(2, 4)
	msgs := sess.Messages()
	if len(msgs) != 7 {
		t.Fatalf("after Truncate(2,4): expected 7 messages, got %d", len(msgs))
	}
	if msgs[0].Content[0].Text != "msg-0" {
		t.Errorf("msgs[0] = %v, want msg-0", msgs[0].Content)
	}
	if msgs[1].Content[0].Text != "msg-1" {
		t.Errorf("msgs[1] = %v, want msg-1", msgs[1].Content)
	}
	if msgs[6].Content[0].Text != "msg-14" {
		t.Errorf("msgs[6] = %v, want msg-14", msgs[6].Content)
	}
}

func TestSession_TruncateNoOp(t *testing.T) {
	sess := agent.NewSession("")
	for i := 0; i < 3; i++ {
		sess.Append(llm.TextMessage(llm.RoleUser, fmt.Sprintf("m%d", i)))
	}
	sess.Truncate(2, 4) // head+tail >= len, nothing dropped
	if sess.Len() != 3 {
		t.Errorf("expected 3 messages, got %d", sess.Len())
	}
}
