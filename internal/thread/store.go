// Package thread persists conversation threads and their checkpointed
// messages in PostgreSQL.
//
// A thread is an append-only sequence of messages ordered by a per-thread
// sequence number. Appends run inside a transaction under a per-thread
// advisory lock, so concurrent writers cannot interleave sequence numbers
// and a reloaded thread always replays in the exact order it was written.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWrongOwner indicates the thread exists but belongs to a different user.
var ErrWrongOwner = errors.New("thread belongs to a different user")

// Store persists threads and their messages.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a thread store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// History returns the thread's messages in sequence order. A missing thread
// yields an empty slice, not an error: a new conversation simply has no
// history yet. Rows whose content fails to decode are skipped with a warning
// rather than poisoning the whole thread.
func (s *Store) History(ctx context.Context, threadID string) ([]*ai.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM thread_messages
		WHERE thread_id = $1
		ORDER BY sequence_number`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread messages: %w", err)
	}
	defer rows.Close()

	var messages []*ai.Message
	for rows.Next() {
		var role string
		var content []byte
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning thread message: %w", err)
		}

		var parts []*ai.Part
		if err := json.Unmarshal(content, &parts); err != nil {
			s.logger.Warn("skipping malformed thread message",
				"thread_id", threadID,
				"error", err)
			continue
		}

		messages = append(messages, &ai.Message{
			Role:    ai.Role(role),
			Content: parts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading thread messages: %w", err)
	}
	return messages, nil
}

// Append atomically appends messages to the thread, creating the thread on
// first use. The whole batch commits or none of it does. Appending to a
// thread owned by another user fails with ErrWrongOwner.
func (s *Store) Append(ctx context.Context, threadID, userID string, messages []*ai.Message) error {
	if threadID == "" {
		return errors.New("thread ID is required")
	}
	if userID == "" {
		return errors.New("user ID is required")
	}
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back append", "thread_id", threadID, "error", err)
		}
	}()

	// Serializes appends per thread; released at commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return fmt.Errorf("acquiring thread lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO threads (id, user_id) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		threadID, userID,
	); err != nil {
		return fmt.Errorf("ensuring thread: %w", err)
	}

	var ownerID string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM threads WHERE id = $1`, threadID).Scan(&ownerID); err != nil {
		return fmt.Errorf("checking thread owner: %w", err)
	}
	if ownerID != userID {
		return fmt.Errorf("thread %s: %w", threadID, ErrWrongOwner)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM thread_messages
		WHERE thread_id = $1`,
		threadID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("encoding message content: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO thread_messages (thread_id, role, content, sequence_number)
			VALUES ($1, $2, $3, $4)`,
			threadID, string(msg.Role), content, maxSeq+i+1,
		); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE threads SET updated_at = now() WHERE id = $1`, threadID); err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended thread messages",
		"thread_id", threadID,
		"count", len(messages),
		"first_sequence", maxSeq+1)
	return nil
}
