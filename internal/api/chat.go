package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nutria0/nutria/internal/agent"
	"github.com/nutria0/nutria/internal/auth"
)

// SSE event types for chat streaming.
const (
	EventMessage  = "message"  // Partial assistant text
	EventComplete = "complete" // Run finished successfully
	EventError    = "error"    // Run failed
)

// chatRequest is the POST /api/v1/chat/stream body.
type chatRequest struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// MessagePayload is the SSE data payload for streamed assistant text.
type MessagePayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// CompletePayload is the SSE data payload when a run finishes.
type CompletePayload struct {
	ThreadID string `json:"threadId"`
	Reply    string `json:"reply"`
	Turns    int    `json:"turns"`
}

// ErrorPayload is the SSE data payload when a run fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatHandler struct {
	runner ChatRunner
	logger *slog.Logger
}

// stream handles SSE streaming chat requests: one POST runs one agent turn,
// streaming assistant text as it arrives and ending with exactly one
// terminal event (complete or error).
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024) // Limit request size to 1MB
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	if req.ThreadID == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "MISSING_THREAD_ID", Message: "threadId is required"})
		return
	}
	if req.Message == "" && req.ImageURL == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "MISSING_MESSAGE", Message: "message is required"})
		return
	}

	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "UNAUTHORIZED", Message: "no authenticated user"})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "thread_id", req.ThreadID, "user_id", identity.UserID)

	var seq int
	hasChunks := false
	emit := func(text string) error {
		select {
		case <-ctx.Done():
			// Client gone; stop emission but let the run finish so the
			// checkpointed conversation stays consistent.
			return ctx.Err()
		default:
		}

		seq++
		hasChunks = true
		return writeEvent(w, flusher, EventMessage, MessagePayload{
			ID:        fmt.Sprintf("msg-%d", seq),
			Content:   text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	result, err := h.runner.Run(ctx, agent.Request{
		ThreadID: req.ThreadID,
		UserID:   identity.UserID,
		Message:  req.Message,
		ImageURL: req.ImageURL,
	}, emit)
	if err != nil {
		h.handleStreamError(w, flusher, err)
		return
	}

	// Some models return the whole reply without streaming a single chunk;
	// deliver it as one message so the client always sees the text.
	if !hasChunks && result.Reply != "" {
		_ = writeEvent(w, flusher, EventMessage, MessagePayload{
			ID:        "msg-1",
			Content:   result.Reply,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	_ = writeEvent(w, flusher, EventComplete, CompletePayload{
		ThreadID: req.ThreadID,
		Reply:    result.Reply,
		Turns:    result.Turns,
	})

	h.logger.Info("SSE stream completed",
		"thread_id", req.ThreadID,
		"turns", result.Turns,
		"chunks", seq)
}

// streamErrorMessages are the client-facing texts per error code. The raw
// error stays in the logs: wrapped driver and model errors can carry hosts,
// SQL, and other internals that must not reach the stream.
var streamErrorMessages = map[string]string{
	"THREAD_BUSY":       "another run is already active on this thread",
	"TURN_LIMIT":        "the conversation needed too many steps, please try again",
	"UNKNOWN_TOOL":      "the model requested a tool this server does not provide",
	"UNAUTHORIZED":      "no authenticated user",
	"MODEL_UNAVAILABLE": "the model is temporarily unavailable, please retry shortly",
	"STREAM_ERROR":      "the run failed unexpectedly",
}

// handleStreamError maps agent errors to SSE error events.
func (h *chatHandler) handleStreamError(w io.Writer, f http.Flusher, err error) {
	code := "STREAM_ERROR"

	switch {
	case errors.Is(err, agent.ErrThreadBusy):
		code = "THREAD_BUSY"
	case errors.Is(err, agent.ErrMaxTurns):
		code = "TURN_LIMIT"
	case errors.Is(err, agent.ErrUnknownTool):
		code = "UNKNOWN_TOOL"
	case errors.Is(err, agent.ErrNoUser):
		code = "UNAUTHORIZED"
	case errors.Is(err, agent.ErrModelUnavailable):
		code = "MODEL_UNAVAILABLE"
	}

	h.logger.Error("chat run failed", "code", code, "error", err)

	_ = writeEvent(w, f, EventError, ErrorPayload{
		Code:    code,
		Message: streamErrorMessages[code],
	})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
