package agent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/nugget/herald-news-agent/internal/llm"
	"github.com/nugget/herald-news-agent/internal/prompts"
)

// scriptedClient replays canned responses in order and records every
// transcript it was sent.
type scriptedClient struct {
	responses []*llm.ChatResponse
	err       error

	calls [][]llm.Message
	tools [][]llm.Tool
}

func (c *scriptedClient) Chat(_ context.Context, _ string, messages []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error) {
	c.calls = append(c.calls, slices.Clone(messages))
	c.tools = append(c.tools, tools)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.calls) > len(c.responses) {
		return nil, errors.New("scripted client exhausted")
	}
	return c.responses[len(c.calls)-1], nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

type execCall struct {
	name string
	args map[string]any
}

// recordExecutor records invocations and returns a fixed result.
type recordExecutor struct {
	calls  []execCall
	result string
}

func (e *recordExecutor) Definitions() []llm.Tool {
	return []llm.Tool{{Name: "web_search", Description: "search"}}
}

func (e *recordExecutor) Execute(_ context.Context, name string, args map[string]any) string {
	e.calls = append(e.calls, execCall{name: name, args: args})
	if e.result == "" {
		return "result for " + name
	}
	return e.result
}

func finalResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: text},
		StopReason:   llm.StopFinal,
		InputTokens:  10,
		OutputTokens: 20,
	}
}

func toolResponse(text string, calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		},
		StopReason:   llm.StopToolUse,
		InputTokens:  10,
		OutputTokens: 20,
	}
}

func searchCall(id, query string) llm.ToolCall {
	tc := llm.ToolCall{ID: id}
	tc.Function.Name = "web_search"
	tc.Function.Arguments = map[string]any{"query": query}
	return tc
}

func TestRunImmediateFinal(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{finalResponse("the digest")}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	res, err := d.Run(context.Background(), "write a digest", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "the digest" {
		t.Errorf("Content = %q, want %q", res.Content, "the digest")
	}
	if len(client.calls) != 1 {
		t.Errorf("provider calls = %d, want 1", len(client.calls))
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
	if res.ToolCalls != 0 || len(exec.calls) != 0 {
		t.Errorf("executor invoked %d times, want 0", len(exec.calls))
	}
	if res.Salvaged {
		t.Error("Salvaged = true on a clean final response")
	}
	if res.InputTokens != 10 || res.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want 10/20", res.InputTokens, res.OutputTokens)
	}
}

func TestRunToolThenFinal(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "go news")),
		finalResponse("digest with sources"),
	}}
	exec := &recordExecutor{result: "1. Go 1.25 released"}
	d := NewDriver(nil, client, exec, "test-model")

	res, err := d.Run(context.Background(), "write a digest", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "digest with sources" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if len(exec.calls) != 1 || exec.calls[0].name != "web_search" {
		t.Fatalf("executor calls = %+v", exec.calls)
	}
	if got := exec.calls[0].args["query"]; got != "go news" {
		t.Errorf("query arg = %v, want %q", got, "go news")
	}

	// The second provider call must carry the assistant turn and a
	// tool result bound to the request ID.
	second := client.calls[1]
	if len(second) != 3 {
		t.Fatalf("second transcript has %d messages, want 3", len(second))
	}
	if second[1].Role != "assistant" || len(second[1].ToolCalls) != 1 {
		t.Errorf("second transcript[1] = %+v, want assistant tool request", second[1])
	}
	if second[2].Role != "tool" || second[2].ToolCallID != "call_1" {
		t.Errorf("second transcript[2] = %+v, want tool result for call_1", second[2])
	}
	if second[2].Content != "1. Go 1.25 released" {
		t.Errorf("tool result content = %q", second[2].Content)
	}
}

func TestRunToolBudgetSteering(t *testing.T) {
	// Budget of 1 with two requests in one turn: first real, second
	// refused, then a steering user turn, then the model wraps up.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "first"), searchCall("call_2", "second")),
		finalResponse("done"),
	}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	res, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if len(exec.calls) != 1 || exec.calls[0].args["query"] != "first" {
		t.Fatalf("executor calls = %+v, want only the first query", exec.calls)
	}

	second := client.calls[1]
	// prompt, assistant, result, refusal, steering
	if len(second) != 5 {
		t.Fatalf("second transcript has %d messages, want 5", len(second))
	}
	if second[3].Role != "tool" || second[3].ToolCallID != "call_2" {
		t.Errorf("transcript[3] = %+v, want refused result for call_2", second[3])
	}
	if second[3].Content != prompts.BudgetExhaustedResult {
		t.Errorf("refusal content = %q", second[3].Content)
	}
	last := second[4]
	if last.Role != "user" || last.Content != prompts.StopSearching {
		t.Errorf("transcript[4] = %+v, want steering user turn", last)
	}
}

func TestRunSteeringAppendedOnce(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "a")),
		toolResponse("", searchCall("call_2", "b")),
		finalResponse("done"),
	}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	_, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Errorf("executor invoked %d times after budget, want 1", len(exec.calls))
	}

	steering := 0
	for _, m := range client.calls[len(client.calls)-1] {
		if m.Role == "user" && m.Content == prompts.StopSearching {
			steering++
		}
	}
	if steering != 1 {
		t.Errorf("steering turns in final transcript = %d, want 1", steering)
	}
}

func TestRunNoOrphanedToolResults(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "a"), searchCall("call_2", "b"), searchCall("call_3", "c")),
		finalResponse("done"),
	}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	res, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	requested := map[string]bool{}
	answered := map[string]bool{}
	for _, m := range res.Messages {
		for _, tc := range m.ToolCalls {
			requested[tc.ID] = true
		}
		if m.Role == "tool" {
			answered[m.ToolCallID] = true
		}
	}
	for id := range requested {
		if !answered[id] {
			t.Errorf("tool request %s has no result in transcript", id)
		}
	}
	for id := range answered {
		if !requested[id] {
			t.Errorf("tool result %s has no matching request", id)
		}
	}
}

func TestRunIterationBudgetSalvage(t *testing.T) {
	// Every turn is tool use, the iteration budget trips, and the
	// last assistant text is salvaged.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "a")),
		toolResponse("partial digest so far", searchCall("call_2", "b")),
	}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	res, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 2,
		MaxToolCalls:  5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "partial digest so far" {
		t.Errorf("Content = %q, want salvaged text", res.Content)
	}
	if !res.Salvaged {
		t.Error("Salvaged = false, want true")
	}
	if !res.Exhausted {
		t.Error("Exhausted = false, want true")
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
}

func TestRunIterationBudgetNoText(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("", searchCall("call_1", "a")),
		toolResponse("", searchCall("call_2", "b")),
	}}
	d := NewDriver(nil, client, &recordExecutor{}, "test-model")

	_, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 2,
		MaxToolCalls:  5,
	})
	if !errors.Is(err, ErrNoFinalResponse) {
		t.Fatalf("err = %v, want ErrNoFinalResponse", err)
	}
}

func TestRunToolUseWithoutCallsStops(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse("half-written text"),
	}}
	d := NewDriver(nil, client, &recordExecutor{}, "test-model")

	res, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("provider calls = %d, want 1 (dead end must stop the loop)", len(client.calls))
	}
	if res.Content != "half-written text" || !res.Salvaged {
		t.Errorf("Content = %q Salvaged = %v, want salvaged text", res.Content, res.Salvaged)
	}
}

func TestRunUnknownStopReason(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{
			Message:    llm.Message{Role: "assistant", Content: ""},
			StopReason: llm.StopOther,
		},
	}}
	d := NewDriver(nil, client, &recordExecutor{}, "test-model")

	_, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  true,
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if !errors.Is(err, ErrNoFinalResponse) {
		t.Fatalf("err = %v, want ErrNoFinalResponse", err)
	}
}

func TestRunProviderError(t *testing.T) {
	wantErr := errors.New("api unreachable")
	client := &scriptedClient{err: wantErr}
	d := NewDriver(nil, client, &recordExecutor{}, "test-model")

	_, err := d.Run(context.Background(), "go", Options{
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
	if !strings.Contains(err.Error(), "provider call failed") {
		t.Errorf("err = %q, want provider context", err)
	}
}

func TestRunToolsDisabled(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{finalResponse("ok")}}
	exec := &recordExecutor{}
	d := NewDriver(nil, client, exec, "test-model")

	_, err := d.Run(context.Background(), "go", Options{
		ToolsEnabled:  false,
		MaxIterations: 5,
		MaxToolCalls:  5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.tools[0]) != 0 {
		t.Errorf("tools sent = %d, want none when disabled", len(client.tools[0]))
	}
}

func TestRunInvalidOptions(t *testing.T) {
	d := NewDriver(nil, &scriptedClient{}, &recordExecutor{}, "test-model")
	if _, err := d.Run(context.Background(), "go", Options{MaxIterations: 0}); err == nil {
		t.Fatal("Run accepted zero max iterations")
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []*llm.ChatResponse{finalResponse("ok")}}
	d := NewDriver(nil, client, &recordExecutor{}, "test-model")

	_, err := d.Run(ctx, "go", Options{MaxIterations: 5, MaxToolCalls: 5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("provider called %d times on cancelled context", len(client.calls))
	}
}
