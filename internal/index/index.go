package index

import (
	"context"
	"errors"
	"time"
)

var ErrIndexUnavailable = errors.New("retrieval index unavailable")

type Metadata struct {
	OwnerID   int64     `json:"owner_id"`
	SessionID *int64    `json:"session_id,omitempty"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is one search result. Scores rank hits within one backend only; do not
// compare them across backends.
type Hit struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Index stores short texts and searches them by meaning. Every search is
// scoped to a single owner.
type Index interface {
	Store(ctx context.Context, text string, meta Metadata) (string, error)
	Search(ctx context.Context, query string, ownerID int64, topK int) ([]Hit, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const defaultTopK = 5
