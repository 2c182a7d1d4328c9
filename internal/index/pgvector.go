package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVector keeps embeddings in a pgvector column next to the relational data.
type PGVector struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPGVector(pool *pgxpool.Pool, embedder Embedder) *PGVector {
	return &PGVector{pool: pool, embedder: embedder}
}

func (p *PGVector) Store(ctx context.Context, text string, meta Metadata) (string, error) {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: embed: %w", ErrIndexUnavailable, err)
	}

	id := uuid.New()
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	topics := meta.Topics
	if topics == nil {
		topics = []string{}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO journal_embeddings (id, owner_id, session_id, text, topics, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)`,
		id, meta.OwnerID, meta.SessionID, text, topics, createdAt, pgVector(vec),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert embedding: %w", ErrIndexUnavailable, err)
	}
	return id.String(), nil
}

func (p *PGVector) Search(ctx context.Context, query string, ownerID int64, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrIndexUnavailable, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id::text, text, session_id, topics, created_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM journal_embeddings
		WHERE owner_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		pgVector(vec), ownerID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h := Hit{Metadata: Metadata{OwnerID: ownerID}}
		if err := rows.Scan(&h.ID, &h.Text, &h.Metadata.SessionID, &h.Metadata.Topics, &h.Metadata.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("%w: scan hit: %w", ErrIndexUnavailable, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate hits: %w", ErrIndexUnavailable, err)
	}
	return hits, nil
}

// pgVector formats a vector as a pgvector literal, e.g. "[0.1,0.2,0.3]".
func pgVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
