// Package memory stores long-term user memories with vector embeddings for
// semantic retrieval.
//
// Each memory belongs to one owner and carries a stable memory ID: upserting
// with an existing (owner, memory) pair revises the memory in place, so the
// assistant can update a fact ("goal is now 2200 kcal") instead of piling up
// contradictory copies.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

const (
	// VectorDimension is the embedding width; must match the vector(N)
	// column in the memories table.
	VectorDimension = 768

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 10 * time.Second
)

// Record is one stored memory.
type Record struct {
	ID        uuid.UUID
	OwnerID   string
	MemoryID  string
	Content   string
	Context   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists memories and searches them by embedding similarity.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a memory store.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// embed turns text into a fixed-width vector.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned no embeddings")
	}

	embedding := resp.Embeddings[0].Embedding
	if len(embedding) != VectorDimension {
		return pgvector.Vector{}, fmt.Errorf("embedding dimension %d, want %d", len(embedding), VectorDimension)
	}
	return pgvector.NewVector(embedding), nil
}

// Upsert stores a memory for the owner and returns its memory ID.
// An empty memoryID creates a new memory under a fresh ID; a known one
// revises the existing memory, re-embedding the new content.
func (s *Store) Upsert(ctx context.Context, ownerID, memoryID, content, memoryContext string) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner ID is required")
	}
	if content == "" {
		return "", errors.New("content is required")
	}
	if memoryID == "" {
		memoryID = uuid.NewString()
	}

	// Embed content together with its context so retrieval sees both.
	text := content
	if memoryContext != "" {
		text = content + "\n" + memoryContext
	}
	embedding, err := s.embed(ctx, text)
	if err != nil {
		return "", err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO memories (owner_id, memory_id, content, context, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, memory_id) DO UPDATE SET
			content = EXCLUDED.content,
			context = EXCLUDED.context,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		ownerID, memoryID, content, memoryContext, embedding,
	); err != nil {
		return "", fmt.Errorf("upserting memory: %w", err)
	}

	s.logger.Debug("upserted memory", "owner_id", ownerID, "memory_id", memoryID)
	return memoryID, nil
}

// Search returns the owner's memories most similar to the query, nearest
// first, at most limit records.
func (s *Store) Search(ctx context.Context, ownerID, query string, limit int) ([]*Record, error) {
	if ownerID == "" {
		return nil, errors.New("owner ID is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, memory_id, content, context, created_at, updated_at
		FROM memories
		WHERE owner_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		ownerID, embedding, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.MemoryID, &r.Content, &r.Context, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading memories: %w", err)
	}
	return records, nil
}
