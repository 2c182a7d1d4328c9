package index

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Local is a single-node index: rows live in SQLite, normalized vectors are
// held in memory and searched by brute force. Exact results, fine for the
// few thousand entries one deployment accumulates.
type Local struct {
	db       *sql.DB
	embedder Embedder

	mu      sync.RWMutex
	entries map[string]localEntry
}

type localEntry struct {
	ownerID int64
	vec     []float32
}

// OpenLocal opens (or creates) a SQLite-backed index at path. Use ":memory:"
// for an ephemeral index.
func OpenLocal(path string, embedder Embedder) (*Local, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	l := &Local{db: db, embedder: embedder, entries: make(map[string]localEntry)}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("local index migrate: %w", err)
	}
	if err := l.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("local index load: %w", err)
	}
	return l, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			owner_id   INTEGER NOT NULL,
			session_id INTEGER,
			text       TEXT NOT NULL,
			topics     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			dimensions INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS entries_owner ON entries(owner_id);
	`)
	return err
}

func (l *Local) loadAll() error {
	rows, err := l.db.Query("SELECT id, owner_id, embedding, dimensions FROM entries")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var owner int64
		var blob []byte
		var dims int
		if err := rows.Scan(&id, &owner, &blob, &dims); err != nil {
			return err
		}
		l.entries[id] = localEntry{ownerID: owner, vec: blobToFloat32(blob, dims)}
	}
	return rows.Err()
}

func (l *Local) Store(ctx context.Context, text string, meta Metadata) (string, error) {
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: embed: %w", ErrIndexUnavailable, err)
	}
	normalized := normalize(vec)

	topics, err := json.Marshal(nonNil(meta.Topics))
	if err != nil {
		return "", fmt.Errorf("marshal topics: %w", err)
	}
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	id := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO entries (id, owner_id, session_id, text, topics, created_at, embedding, dimensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, meta.OwnerID, meta.SessionID, text, string(topics),
		createdAt.Format(time.RFC3339Nano), float32ToBlob(normalized), len(normalized),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert entry: %w", ErrIndexUnavailable, err)
	}

	l.entries[id] = localEntry{ownerID: meta.OwnerID, vec: normalized}
	return id, nil
}

// Search ranks only the owner's entries; other owners' vectors are never scored.
func (l *Local) Search(ctx context.Context, query string, ownerID int64, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrIndexUnavailable, err)
	}
	q := normalize(vec)

	l.mu.RLock()
	h := &minHeap{}
	for id, e := range l.entries {
		if e.ownerID != ownerID || len(e.vec) != len(q) {
			continue
		}
		score := dotProduct(q, e.vec)
		if h.Len() < topK {
			heap.Push(h, scored{id: id, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scored{id: id, score: score}
			heap.Fix(h, 0)
		}
	}
	l.mu.RUnlock()

	ranked := make([]scored, h.Len())
	for i := len(ranked) - 1; i >= 0; i-- {
		ranked[i] = heap.Pop(h).(scored)
	}

	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		hit, err := l.load(ctx, r.id, ownerID)
		if err != nil {
			return nil, err
		}
		hit.Score = r.score
		hits = append(hits, hit)
	}
	return hits, nil
}

func (l *Local) load(ctx context.Context, id string, ownerID int64) (Hit, error) {
	var (
		h         Hit
		sessionID sql.NullInt64
		topics    string
		createdAt string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, owner_id, session_id, text, topics, created_at
		FROM entries WHERE id = ? AND owner_id = ?`, id, ownerID,
	).Scan(&h.ID, &h.Metadata.OwnerID, &sessionID, &h.Text, &topics, &createdAt)
	if err != nil {
		return Hit{}, fmt.Errorf("%w: load entry %s: %w", ErrIndexUnavailable, id, err)
	}
	if sessionID.Valid {
		sid := sessionID.Int64
		h.Metadata.SessionID = &sid
	}
	_ = json.Unmarshal([]byte(topics), &h.Metadata.Topics)
	h.Metadata.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return h, nil
}

// Count returns the number of stored entries.
func (l *Local) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

type scored struct {
	id    string
	score float64
}

// minHeap keeps the current top-K with the weakest hit at the root.
type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32(b []byte, dims int) []float32 {
	v := make([]float32, dims)
	for i := 0; i < dims && i*4+4 <= len(b); i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
