package agent

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aetherpack/aetherbot/internal/providers"
	"github.com/aetherpack/aetherbot/internal/tools"
)

// scriptedProvider returns canned responses in order, recording each
// request it sees.
type scriptedProvider struct {
	script   []func() (*providers.ChatResponse, error)
	requests []providers.ChatRequest
	calls    int
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	step := p.calls
	p.calls++
	if step >= len(p.script) {
		return nil, errors.New("script exhausted")
	}
	return p.script[step]()
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func textResponse(text string) func() (*providers.ChatResponse, error) {
	return func() (*providers.ChatResponse, error) {
		return &providers.ChatResponse{Content: text, FinishReason: "stop"}, nil
	}
}

func toolResponse(calls ...providers.ToolCall) func() (*providers.ChatResponse, error) {
	return func() (*providers.ChatResponse, error) {
		return &providers.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}, nil
	}
}

type stubTool struct {
	name string
	fn   func(ctx context.Context, inv tools.Invocation, args map[string]any) (string, error)
}

func (t *stubTool) Name() string { return t.name }
func (t *stubTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:       t.name,
			Parameters: map[string]any{"type": "object"},
		},
	}
}
func (t *stubTool) Execute(ctx context.Context, inv tools.Invocation, args map[string]any) (string, error) {
	return t.fn(ctx, inv, args)
}

func newRunRequest(p providers.Provider) RunRequest {
	return RunRequest{
		Provider:      p,
		SystemPrompt:  "be helpful",
		UserText:      "hello",
		MaxToolRounds: 5,
		Retry:         providers.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}
}

func TestRunPlainReply(t *testing.T) {
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		textResponse("hi there"),
	}}
	o := New(tools.NewRegistry())

	res := o.Run(context.Background(), newRunRequest(p))

	if res.Outcome != OutcomeDone || res.Reply != "hi there" {
		t.Fatalf("result = %+v", res)
	}
	if res.Rounds != 1 {
		t.Errorf("Rounds = %d", res.Rounds)
	}
	// persisted turns: user + assistant
	if len(res.NewTurns) != 2 || res.NewTurns[0].Role != "user" || res.NewTurns[1].Role != "assistant" {
		t.Errorf("NewTurns = %+v", res.NewTurns)
	}
	// wire view: system first, then user
	sent := p.requests[0].Messages
	if sent[0].Role != "system" || sent[1].Role != "user" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestRunToolLoop(t *testing.T) {
	reg := tools.NewRegistry()
	var gotInv tools.Invocation
	reg.Register(&stubTool{name: "lookup", fn: func(_ context.Context, inv tools.Invocation, args map[string]any) (string, error) {
		gotInv = inv
		return "42", nil
	}})

	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		toolResponse(providers.ToolCall{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "x"}}),
		textResponse("the answer is 42"),
	}}
	o := New(reg)
	req := newRunRequest(p)
	req.Invocation = tools.Invocation{ChatKey: "telegram:9", SenderID: "u1"}

	res := o.Run(context.Background(), req)

	if res.Outcome != OutcomeDone || res.Reply != "the answer is 42" {
		t.Fatalf("result = %+v", res)
	}
	if gotInv.ChatKey != "telegram:9" {
		t.Errorf("invocation = %+v", gotInv)
	}
	// second request must carry assistant tool_calls then the tool result
	sent := p.requests[1].Messages
	last, prev := sent[len(sent)-1], sent[len(sent)-2]
	if prev.Role != "assistant" || len(prev.ToolCalls) != 1 {
		t.Errorf("prev = %+v", prev)
	}
	if last.Role != "tool" || last.ToolCallID != "c1" || last.Content != "42" {
		t.Errorf("last = %+v", last)
	}
	// persisted: user, assistant(calls), tool, assistant(final)
	if len(res.NewTurns) != 4 {
		t.Errorf("NewTurns = %+v", res.NewTurns)
	}
}

func TestRunToolErrorFedBack(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: "flaky", fn: func(context.Context, tools.Invocation, map[string]any) (string, error) {
		return "", errors.New("backend unreachable")
	}})

	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		toolResponse(providers.ToolCall{ID: "c1", Name: "flaky"}),
		textResponse("sorry, that failed"),
	}}
	o := New(reg)

	res := o.Run(context.Background(), newRunRequest(p))

	if res.Outcome != OutcomeDone {
		t.Fatalf("result = %+v", res)
	}
	toolTurn := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if toolTurn.Role != "tool" || toolTurn.ToolCallID != "c1" {
		t.Fatalf("tool turn = %+v", toolTurn)
	}
	if toolTurn.Content == "" || toolTurn.Content == "backend unreachable" {
		t.Errorf("error content = %q, want wrapped error text", toolTurn.Content)
	}
}

func TestRunUnknownToolFedBack(t *testing.T) {
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		toolResponse(providers.ToolCall{ID: "c1", Name: "no_such_tool"}),
		textResponse("ok"),
	}}
	o := New(tools.NewRegistry())

	res := o.Run(context.Background(), newRunRequest(p))
	if res.Outcome != OutcomeDone {
		t.Fatalf("result = %+v", res)
	}
	toolTurn := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if toolTurn.Role != "tool" || toolTurn.ToolCallID != "c1" {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}

func TestRunCappedByToolRounds(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: "again", fn: func(context.Context, tools.Invocation, map[string]any) (string, error) {
		return "more", nil
	}})

	// model asks for tools forever
	var script []func() (*providers.ChatResponse, error)
	for i := 0; i < 10; i++ {
		script = append(script, toolResponse(providers.ToolCall{ID: "c", Name: "again"}))
	}
	p := &scriptedProvider{script: script}
	o := New(reg)
	req := newRunRequest(p)
	req.MaxToolRounds = 2

	res := o.Run(context.Background(), req)

	if res.Outcome != OutcomeCapped {
		t.Fatalf("Outcome = %v", res.Outcome)
	}
	if !errors.Is(res.Err, ErrToolRoundsExceeded) {
		t.Errorf("Err = %v", res.Err)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want exactly the round cap", p.calls)
	}
}

func TestRunProviderRetryThenFail(t *testing.T) {
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		func() (*providers.ChatResponse, error) {
			return nil, &providers.HTTPError{Status: http.StatusServiceUnavailable}
		},
		func() (*providers.ChatResponse, error) {
			return nil, &providers.HTTPError{Status: http.StatusServiceUnavailable}
		},
	}}
	o := New(tools.NewRegistry())
	req := newRunRequest(p)
	req.Retry = providers.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}

	res := o.Run(context.Background(), req)

	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
}

func TestRunProviderRetrySucceeds(t *testing.T) {
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){
		func() (*providers.ChatResponse, error) {
			return nil, &providers.HTTPError{Status: http.StatusTooManyRequests}
		},
		textResponse("recovered"),
	}}
	o := New(tools.NewRegistry())

	res := o.Run(context.Background(), newRunRequest(p))
	if res.Outcome != OutcomeDone || res.Reply != "recovered" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){textResponse("x")}}
	o := New(tools.NewRegistry())

	res := o.Run(ctx, newRunRequest(p))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v", res.Err)
	}
}

func TestRunSeedsSanitizedHistory(t *testing.T) {
	p := &scriptedProvider{script: []func() (*providers.ChatResponse, error){textResponse("ok")}}
	o := New(tools.NewRegistry())
	req := newRunRequest(p)
	req.History = []providers.Message{
		{Role: "tool", ToolCallID: "stale", Content: "orphan"},
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "earlier reply"},
	}

	res := o.Run(context.Background(), req)
	if res.Outcome != OutcomeDone {
		t.Fatalf("result = %+v", res)
	}
	for _, m := range p.requests[0].Messages {
		if m.ToolCallID == "stale" {
			t.Error("orphan tool turn reached the provider")
		}
	}
	// history turns are not re-persisted
	if len(res.NewTurns) != 2 {
		t.Errorf("NewTurns = %+v", res.NewTurns)
	}
}
