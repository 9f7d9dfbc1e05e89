package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"go.uber.org/goleak"

	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memCheckpoints is an in-memory Checkpoints implementation.
type memCheckpoints struct {
	mu       sync.Mutex
	owners   map[string]string
	messages map[string][]*ai.Message
	failNext bool
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{
		owners:   make(map[string]string),
		messages: make(map[string][]*ai.Message),
	}
}

func (c *memCheckpoints) History(_ context.Context, threadID string) ([]*ai.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ai.Message(nil), c.messages[threadID]...), nil
}

func (c *memCheckpoints) Append(_ context.Context, threadID, userID string, msgs []*ai.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return errors.New("storage down")
	}
	if owner, ok := c.owners[threadID]; ok && owner != userID {
		return errors.New("wrong owner")
	}
	c.owners[threadID] = userID
	c.messages[threadID] = append(c.messages[threadID], msgs...)
	return nil
}

// scriptedModel replays canned responses in order, streaming each response's
// text through the callback first.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*ai.ModelResponse
	requests  []*ModelRequest
	entered   chan struct{} // when non-nil, closed once Generate is reached
	enterOnce sync.Once
	release   chan struct{} // when non-nil, Generate blocks until closed
}

func (m *scriptedModel) Generate(ctx context.Context, req *ModelRequest, cb StreamCallback) (*ai.ModelResponse, error) {
	if m.entered != nil {
		m.enterOnce.Do(func() { close(m.entered) })
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		m.mu.Unlock()
		return nil, errors.New("no scripted response left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	m.mu.Unlock()

	if cb != nil && resp.Message != nil {
		for _, part := range resp.Message.Content {
			if err := cb(ctx, &ai.ModelResponseChunk{Content: []*ai.Part{part}}); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func textResponse(text string) *ai.ModelResponse {
	return &ai.ModelResponse{Message: ai.NewModelMessage(ai.NewTextPart(text))}
}

func toolResponse(names ...string) *ai.ModelResponse {
	parts := make([]*ai.Part, len(names))
	for i, name := range names {
		parts[i] = &ai.Part{
			Kind: ai.PartToolRequest,
			ToolRequest: &ai.ToolRequest{
				Name:  name,
				Ref:   fmt.Sprintf("call-%d", i),
				Input: map[string]any{"index": float64(i)},
			},
		}
	}
	return &ai.ModelResponse{Message: &ai.Message{Role: ai.RoleModel, Content: parts}}
}

// recordingToolbox records executions and returns scripted outcomes per tool.
type recordingToolbox struct {
	mu      sync.Mutex
	calls   []string
	results map[string]string
	errs    map[string]error
}

func newRecordingToolbox() *recordingToolbox {
	return &recordingToolbox{
		results: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (tb *recordingToolbox) Execute(ctx context.Context, name string, _ map[string]any) (string, error) {
	tb.mu.Lock()
	tb.calls = append(tb.calls, name)
	tb.mu.Unlock()

	if _, ok := auth.IdentityFromContext(ctx); !ok {
		return "", ErrNoUser
	}
	if err, ok := tb.errs[name]; ok {
		return "", err
	}
	if out, ok := tb.results[name]; ok {
		return out, nil
	}
	return "", fmt.Errorf("tool %q: %w", name, ErrUnknownTool)
}

func newTestLoop(t *testing.T, model Model, cp Checkpoints, tb Toolbox) *Loop {
	t.Helper()
	loop, err := New(Config{
		Model:       model,
		Checkpoints: cp,
		Tools:       tb,
		Logger:      log.NewNop(),
		MaxTurns:    4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop
}

func TestRunPlainReply(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{textResponse("Hello there!")}}
	loop := newTestLoop(t, model, cp, newRecordingToolbox())

	var streamed strings.Builder
	result, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "hi",
	}, func(text string) error {
		streamed.WriteString(text)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reply != "Hello there!" {
		t.Fatalf("Reply = %q", result.Reply)
	}
	if result.Turns != 1 {
		t.Fatalf("Turns = %d, want 1", result.Turns)
	}
	if streamed.String() != "Hello there!" {
		t.Fatalf("streamed = %q", streamed.String())
	}

	// User message then assistant message, both durable.
	history, _ := cp.History(context.Background(), "t1")
	if len(history) != 2 {
		t.Fatalf("checkpointed %d messages, want 2", len(history))
	}
	if history[0].Role != ai.RoleUser || history[1].Role != ai.RoleModel {
		t.Fatalf("roles = %v, %v", history[0].Role, history[1].Role)
	}
}

func TestRunToolFlow(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{
		toolResponse("saveWaterIntake"),
		textResponse("Logged 500ml of water."),
	}}
	tb := newRecordingToolbox()
	tb.results["saveWaterIntake"] = "Saved water entry."
	loop := newTestLoop(t, model, cp, tb)

	result, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "I drank 500ml",
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Turns != 2 {
		t.Fatalf("Turns = %d, want 2", result.Turns)
	}
	if len(tb.calls) != 1 || tb.calls[0] != "saveWaterIntake" {
		t.Fatalf("tool calls = %v", tb.calls)
	}

	// user, assistant(tool request), tool results, assistant(text)
	history, _ := cp.History(context.Background(), "t1")
	if len(history) != 4 {
		t.Fatalf("checkpointed %d messages, want 4", len(history))
	}
	if history[2].Role != ai.RoleTool {
		t.Fatalf("history[2].Role = %v, want tool", history[2].Role)
	}
	tr := history[2].Content[0].ToolResponse
	if tr == nil || tr.Output != "Saved water entry." {
		t.Fatalf("tool response = %+v", tr)
	}
}

func TestRunParallelToolsPreserveOrder(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{
		toolResponse("saveFoodIntake", "saveWaterIntake", "upsertMemory"),
		textResponse("All done."),
	}}
	tb := newRecordingToolbox()
	tb.results["saveFoodIntake"] = "food-ok"
	tb.results["saveWaterIntake"] = "water-ok"
	tb.results["upsertMemory"] = "memory-ok"
	loop := newTestLoop(t, model, cp, tb)

	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "log everything",
	}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	history, _ := cp.History(context.Background(), "t1")
	toolMsg := history[2]
	if len(toolMsg.Content) != 3 {
		t.Fatalf("tool results = %d, want 3", len(toolMsg.Content))
	}
	// Results come back in request order regardless of completion order.
	wantOrder := []string{"food-ok", "water-ok", "memory-ok"}
	for i, part := range toolMsg.Content {
		if part.ToolResponse.Output != wantOrder[i] {
			t.Fatalf("result[%d] = %v, want %q", i, part.ToolResponse.Output, wantOrder[i])
		}
		if part.ToolResponse.Ref != fmt.Sprintf("call-%d", i) {
			t.Fatalf("result[%d].Ref = %q", i, part.ToolResponse.Ref)
		}
	}
}

func TestRunUnknownToolAborts(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{toolResponse("launchRocket")}}
	loop := newTestLoop(t, model, cp, newRecordingToolbox())

	_, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "go",
	}, nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Run = %v, want ErrUnknownTool", err)
	}

	// The assistant's request is still checkpointed; only the dispatch aborted.
	history, _ := cp.History(context.Background(), "t1")
	if len(history) != 2 {
		t.Fatalf("checkpointed %d messages, want 2", len(history))
	}
}

func TestRunToolFailureContinues(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{
		toolResponse("saveFoodIntake"),
		textResponse("I couldn't save that, sorry."),
	}}
	tb := newRecordingToolbox()
	tb.errs["saveFoodIntake"] = errors.New("database down")
	loop := newTestLoop(t, model, cp, tb)

	result, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "log an apple",
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Turns != 2 {
		t.Fatalf("Turns = %d, want 2", result.Turns)
	}

	history, _ := cp.History(context.Background(), "t1")
	out, ok := history[2].Content[0].ToolResponse.Output.(map[string]any)
	if !ok || out["error"] != "database down" {
		t.Fatalf("tool output = %v, want error shape", history[2].Content[0].ToolResponse.Output)
	}
}

func TestRunThreadBusy(t *testing.T) {
	cp := newMemCheckpoints()
	release := make(chan struct{})
	entered := make(chan struct{})
	model := &scriptedModel{
		responses: []*ai.ModelResponse{textResponse("done")},
		entered:   entered,
		release:   release,
	}
	loop := newTestLoop(t, model, cp, newRecordingToolbox())

	done := make(chan error, 1)
	go func() {
		_, err := loop.Run(context.Background(), Request{
			ThreadID: "t1", UserID: "u1", Message: "first",
		}, nil)
		done <- err
	}()
	// The first run holds the guard once it reaches the model.
	<-entered

	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "second",
	}, nil); !errors.Is(err, ErrThreadBusy) {
		t.Fatalf("concurrent Run = %v, want ErrThreadBusy", err)
	}

	// A different thread is not blocked.
	model2 := &scriptedModel{responses: []*ai.ModelResponse{textResponse("other")}}
	loop2 := newTestLoop(t, model2, cp, newRecordingToolbox())
	if _, err := loop2.Run(context.Background(), Request{
		ThreadID: "t2", UserID: "u1", Message: "hello",
	}, nil); err != nil {
		t.Fatalf("other thread Run: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Guard released; the thread accepts runs again.
	model.mu.Lock()
	model.responses = []*ai.ModelResponse{textResponse("again")}
	model.release = nil
	model.mu.Unlock()
	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "third",
	}, nil); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}

func TestRunMaxTurns(t *testing.T) {
	cp := newMemCheckpoints()
	tb := newRecordingToolbox()
	tb.results["upsertMemory"] = "ok"
	// The model asks for a tool on every turn and never concludes.
	model := &scriptedModel{responses: []*ai.ModelResponse{
		toolResponse("upsertMemory"),
		toolResponse("upsertMemory"),
		toolResponse("upsertMemory"),
		toolResponse("upsertMemory"),
		toolResponse("upsertMemory"),
	}}
	loop := newTestLoop(t, model, cp, tb)

	_, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "loop forever",
	}, nil)
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("Run = %v, want ErrMaxTurns", err)
	}
	if len(model.requests) != 4 {
		t.Fatalf("model invoked %d times, want 4", len(model.requests))
	}
}

func TestRunStreamsOnlyText(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{
		toolResponse("saveWaterIntake"),
		textResponse("Water logged."),
	}}
	tb := newRecordingToolbox()
	tb.results["saveWaterIntake"] = "ok"
	loop := newTestLoop(t, model, cp, tb)

	var streamed strings.Builder
	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "drank water",
	}, func(text string) error {
		streamed.WriteString(text)
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Tool request fragments never reach the client stream.
	if streamed.String() != "Water logged." {
		t.Fatalf("streamed = %q, want only the text reply", streamed.String())
	}
}

func TestRunResumesFromCheckpoints(t *testing.T) {
	cp := newMemCheckpoints()
	model := &scriptedModel{responses: []*ai.ModelResponse{textResponse("Nice to meet you, Ada.")}}
	loop := newTestLoop(t, model, cp, newRecordingToolbox())
	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "My name is Ada",
	}, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A fresh loop (fresh process) sees the prior exchange in the model input.
	model2 := &scriptedModel{responses: []*ai.ModelResponse{textResponse("You told me: Ada.")}}
	loop2 := newTestLoop(t, model2, cp, newRecordingToolbox())
	if _, err := loop2.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "What is my name?",
	}, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	req := model2.requests[0]
	if len(req.Messages) != 3 {
		t.Fatalf("model saw %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Content[0].Text != "My name is Ada" {
		t.Fatalf("history[0] = %q", req.Messages[0].Content[0].Text)
	}
}

func TestRunCheckpointFailureAborts(t *testing.T) {
	cp := newMemCheckpoints()
	cp.failNext = true
	model := &scriptedModel{responses: []*ai.ModelResponse{textResponse("hi")}}
	loop := newTestLoop(t, model, cp, newRecordingToolbox())

	if _, err := loop.Run(context.Background(), Request{
		ThreadID: "t1", UserID: "u1", Message: "hello",
	}, nil); err == nil {
		t.Fatal("Run should fail when the user message cannot be checkpointed")
	}
	if len(model.requests) != 0 {
		t.Fatal("model must not be invoked without a durable user message")
	}
}

func TestRunValidation(t *testing.T) {
	loop := newTestLoop(t, &scriptedModel{}, newMemCheckpoints(), newRecordingToolbox())

	if _, err := loop.Run(context.Background(), Request{UserID: "u1", Message: "hi"}, nil); err == nil {
		t.Fatal("missing thread ID should fail")
	}
	if _, err := loop.Run(context.Background(), Request{ThreadID: "t1", Message: "hi"}, nil); !errors.Is(err, ErrNoUser) {
		t.Fatalf("missing user = %v, want ErrNoUser", err)
	}
	if _, err := loop.Run(context.Background(), Request{ThreadID: "t1", UserID: "u1"}, nil); err == nil {
		t.Fatal("empty message should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Model:       &scriptedModel{},
		Checkpoints: newMemCheckpoints(),
		Tools:       newRecordingToolbox(),
		MaxTurns:    4,
	}

	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"missing model":       func(c *Config) { c.Model = nil },
		"missing checkpoints": func(c *Config) { c.Checkpoints = nil },
		"missing toolbox":     func(c *Config) { c.Tools = nil },
		"zero max turns":      func(c *Config) { c.MaxTurns = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
