// Package agent runs the conversational loop that powers the assistant.
//
// A run walks a small state machine: invoke the model, and either finish on a
// plain text reply or dispatch the requested tool calls, feed their results
// back, and invoke again. Every transition is checkpointed to the thread
// store before the run proceeds, so a crash mid-run loses at most the
// in-flight model call and a restarted process resumes from the last durable
// state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/nutria0/nutria/internal/auth"
)

// Sentinel errors surfaced by Run.
var (
	// ErrNoUser indicates no authenticated identity was supplied.
	ErrNoUser = errors.New("no authenticated user")

	// ErrThreadBusy indicates another run is active on the same thread.
	ErrThreadBusy = errors.New("thread already has an active run")

	// ErrUnknownTool indicates the model requested a tool that is not
	// registered. The conversation state cannot advance past it.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMaxTurns indicates the run hit the turn cap without the model
	// producing a final reply.
	ErrMaxTurns = errors.New("turn limit reached")

	// ErrModelUnavailable indicates the upstream model could not serve the
	// request (circuit open, retries exhausted). Wrapped by Model
	// implementations so callers can map it to a stable error code.
	ErrModelUnavailable = errors.New("model unavailable")
)

// memoryTimeout bounds the retrieval step; memory is best-effort and must
// not stall the conversation.
const memoryTimeout = 5 * time.Second

// fallbackReply covers the rare model response that carries neither text
// nor tool requests.
const fallbackReply = "I'm sorry, I wasn't able to come up with a response. Could you rephrase that?"

// StreamCallback receives streamed model output chunks.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// ModelRequest is one model invocation.
type ModelRequest struct {
	System   string
	Messages []*ai.Message
}

// Model generates a response for a request, optionally streaming chunks to cb.
type Model interface {
	Generate(ctx context.Context, req *ModelRequest, cb StreamCallback) (*ai.ModelResponse, error)
}

// Checkpoints is the durable conversation store.
type Checkpoints interface {
	History(ctx context.Context, threadID string) ([]*ai.Message, error)
	Append(ctx context.Context, threadID, userID string, messages []*ai.Message) error
}

// MemoryRecord is one retrieved long-term memory.
type MemoryRecord struct {
	Content string
	Context string
}

// Memories retrieves long-term memories relevant to a query.
type Memories interface {
	Relevant(ctx context.Context, ownerID, query string, limit int) ([]MemoryRecord, error)
}

// Toolbox executes a named tool with its decoded arguments.
type Toolbox interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// EmitFunc receives assistant text as it streams. A non-nil error stops
// emission for the rest of the run; the run itself continues so the
// conversation state stays consistent.
type EmitFunc func(text string) error

// Request is one user turn.
type Request struct {
	ThreadID string
	UserID   string
	Message  string
	ImageURL string
}

// Result is the outcome of a completed run.
type Result struct {
	// Reply is the assistant's final text.
	Reply string
	// Turns is the number of model invocations the run took.
	Turns int
}

// Config assembles a Loop.
type Config struct {
	Model       Model
	Checkpoints Checkpoints
	// Memories may be nil to disable long-term memory.
	Memories Memories
	Tools    Toolbox
	Logger   *slog.Logger
	// MaxTurns caps model invocations per run.
	MaxTurns int
	// MemoryLimit caps memories injected per turn.
	MemoryLimit int
}

func (c *Config) validate() error {
	if c.Model == nil {
		return errors.New("model is required")
	}
	if c.Checkpoints == nil {
		return errors.New("checkpoint store is required")
	}
	if c.Tools == nil {
		return errors.New("toolbox is required")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max turns must be positive, got %d", c.MaxTurns)
	}
	if c.Memories != nil && c.MemoryLimit <= 0 {
		return fmt.Errorf("memory limit must be positive, got %d", c.MemoryLimit)
	}
	return nil
}

// Loop coordinates model invocations, tool dispatch, and checkpointing.
// One Loop serves all threads; concurrent runs on distinct threads proceed
// independently, while a second run on the same thread is rejected.
type Loop struct {
	model       Model
	checkpoints Checkpoints
	memories    Memories
	tools       Toolbox
	logger      *slog.Logger
	maxTurns    int
	memoryLimit int

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:       cfg.Model,
		checkpoints: cfg.Checkpoints,
		memories:    cfg.Memories,
		tools:       cfg.Tools,
		logger:      logger,
		maxTurns:    cfg.MaxTurns,
		memoryLimit: cfg.MemoryLimit,
		active:      make(map[string]struct{}),
	}, nil
}

// acquire marks the thread as running, or reports it busy.
func (l *Loop) acquire(threadID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[threadID]; busy {
		return fmt.Errorf("thread %s: %w", threadID, ErrThreadBusy)
	}
	l.active[threadID] = struct{}{}
	return nil
}

func (l *Loop) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, threadID)
}

// Run executes one user turn to completion. Streamed assistant text goes to
// emit (which may be nil); the final reply is also returned in the Result.
func (l *Loop) Run(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	if req.ThreadID == "" {
		return nil, errors.New("thread ID is required")
	}
	if req.UserID == "" {
		return nil, ErrNoUser
	}
	if strings.TrimSpace(req.Message) == "" && req.ImageURL == "" {
		return nil, errors.New("message is required")
	}

	if err := l.acquire(req.ThreadID); err != nil {
		return nil, err
	}
	defer l.release(req.ThreadID)

	// Tools resolve the acting user from the context.
	ctx = auth.WithIdentity(ctx, auth.Identity{UserID: req.UserID})

	logger := l.logger.With("thread_id", req.ThreadID, "user_id", req.UserID)
	start := time.Now()

	history, err := l.checkpoints.History(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread history: %w", err)
	}

	userMsg := buildUserMessage(req)
	if err := l.checkpoints.Append(ctx, req.ThreadID, req.UserID, []*ai.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("checkpointing user message: %w", err)
	}
	history = append(history, userMsg)

	emitFailed := false
	send := func(text string) {
		if emit == nil || emitFailed || text == "" {
			return
		}
		if err := emit(text); err != nil {
			emitFailed = true
			logger.Warn("stopping emission", "error", err)
		}
	}

	for turn := 1; turn <= l.maxTurns; turn++ {
		system := renderSystemPrompt(time.Now().UTC(), l.retrieveMemories(ctx, req, logger))

		cb := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			for _, part := range chunk.Content {
				switch {
				case part.IsText():
					send(part.Text)
				case part.ToolRequest != nil:
					logger.Debug("streamed tool request fragment", "tool", part.ToolRequest.Name)
				}
			}
			return nil
		}

		resp, err := l.model.Generate(ctx, &ModelRequest{
			System:   system,
			Messages: deepCopyMessages(history),
		}, cb)
		if err != nil {
			return nil, fmt.Errorf("model invocation failed on turn %d: %w", turn, err)
		}

		assistantMsg := resp.Message
		if assistantMsg == nil {
			assistantMsg = ai.NewModelMessage(ai.NewTextPart(""))
		}
		if err := l.checkpoints.Append(ctx, req.ThreadID, req.UserID, []*ai.Message{assistantMsg}); err != nil {
			return nil, fmt.Errorf("checkpointing assistant message: %w", err)
		}
		history = append(history, assistantMsg)

		toolRequests := resp.ToolRequests()
		if len(toolRequests) == 0 {
			reply := resp.Text()
			if strings.TrimSpace(reply) == "" {
				reply = fallbackReply
				send(reply)
			}
			logger.Info("run complete",
				"turns", turn,
				"duration", time.Since(start))
			return &Result{Reply: reply, Turns: turn}, nil
		}

		toolMsg, err := l.dispatch(ctx, toolRequests, logger)
		if err != nil {
			return nil, err
		}
		if err := l.checkpoints.Append(ctx, req.ThreadID, req.UserID, []*ai.Message{toolMsg}); err != nil {
			return nil, fmt.Errorf("checkpointing tool results: %w", err)
		}
		history = append(history, toolMsg)
	}

	return nil, fmt.Errorf("run on thread %s exceeded %d turns: %w", req.ThreadID, l.maxTurns, ErrMaxTurns)
}

// dispatch executes the requested tools concurrently and joins the results
// into a single tool message, preserving request order. A tool the toolbox
// does not know, or a missing identity, aborts the run; an ordinary handler
// failure becomes an error-shaped result the model can react to.
func (l *Loop) dispatch(ctx context.Context, requests []*ai.ToolRequest, logger *slog.Logger) (*ai.Message, error) {
	type outcome struct {
		output any
		fatal  error
	}
	outcomes := make([]outcome, len(requests))

	var wg sync.WaitGroup
	for i, tr := range requests {
		wg.Add(1)
		go func(i int, tr *ai.ToolRequest) {
			defer wg.Done()

			args, ok := tr.Input.(map[string]any)
			if !ok && tr.Input != nil {
				outcomes[i] = outcome{output: map[string]any{
					"error": fmt.Sprintf("tool %s: arguments must be an object", tr.Name),
				}}
				return
			}

			out, err := l.tools.Execute(ctx, tr.Name, args)
			switch {
			case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrNoUser):
				outcomes[i] = outcome{fatal: err}
			case err != nil:
				logger.Warn("tool failed", "tool", tr.Name, "error", err)
				outcomes[i] = outcome{output: map[string]any{"error": err.Error()}}
			default:
				outcomes[i] = outcome{output: out}
			}
		}(i, tr)
	}
	wg.Wait()

	parts := make([]*ai.Part, len(requests))
	for i, tr := range requests {
		if outcomes[i].fatal != nil {
			return nil, fmt.Errorf("dispatching tool %s: %w", tr.Name, outcomes[i].fatal)
		}
		parts[i] = ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   tr.Name,
			Ref:    tr.Ref,
			Output: outcomes[i].output,
		})
	}
	return &ai.Message{Role: ai.RoleTool, Content: parts}, nil
}

// retrieveMemories fetches long-term memories for the turn. Failures are
// logged and swallowed: a degraded memory store must not block the reply.
func (l *Loop) retrieveMemories(ctx context.Context, req Request, logger *slog.Logger) []MemoryRecord {
	if l.memories == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, memoryTimeout)
	defer cancel()

	records, err := l.memories.Relevant(ctx, req.UserID, req.Message, l.memoryLimit)
	if err != nil {
		logger.Warn("memory retrieval failed, continuing without", "error", err)
		return nil
	}
	return records
}

func buildUserMessage(req Request) *ai.Message {
	var parts []*ai.Part
	if req.Message != "" {
		parts = append(parts, ai.NewTextPart(req.Message))
	}
	if req.ImageURL != "" {
		parts = append(parts, ai.NewMediaPart("", req.ImageURL))
	}
	return ai.NewUserMessage(parts...)
}
