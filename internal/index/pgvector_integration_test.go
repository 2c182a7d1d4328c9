//go:build integration

package index

import (
	"context"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func setupPGVector(t *testing.T) (*PGVector, *pgxpool.Pool) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPGVector(pool, NewHashEmbedder(128)), pool
}

func TestIntegration_PGVectorOwnerIsolation(t *testing.T) {
	p, pool := setupPGVector(t)
	ctx := context.Background()

	// Owner ids far above any BIGSERIAL value in use.
	alice := int64(1<<40) + rand.Int64N(1<<30)
	bob := alice + 1
	stranger := alice + 2
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM journal_embeddings WHERE owner_id = ANY($1)`, []int64{alice, bob})
	})

	aliceIDs := map[string]bool{}
	bobIDs := map[string]bool{}
	for _, text := range []string{"felt anxious about the exam", "work deadlines kept me up"} {
		id, err := p.Store(ctx, text, Metadata{OwnerID: alice, Topics: []string{"exam"}})
		if err != nil {
			t.Fatalf("Store alice: %v", err)
		}
		aliceIDs[id] = true
		id, err = p.Store(ctx, text, Metadata{OwnerID: bob})
		if err != nil {
			t.Fatalf("Store bob: %v", err)
		}
		bobIDs[id] = true
	}

	for _, query := range []string{"anxious exam", "work deadlines"} {
		hits, err := p.Search(ctx, query, alice, 10)
		if err != nil {
			t.Fatalf("Search alice: %v", err)
		}
		if len(hits) != 2 {
			t.Errorf("expected 2 hits for alice, got %d", len(hits))
		}
		for _, h := range hits {
			if !aliceIDs[h.ID] || h.Metadata.OwnerID != alice {
				t.Errorf("alice search returned foreign entry %s (%q)", h.ID, h.Text)
			}
		}

		hits, err = p.Search(ctx, query, bob, 10)
		if err != nil {
			t.Fatalf("Search bob: %v", err)
		}
		if len(hits) != 2 {
			t.Errorf("expected 2 hits for bob, got %d", len(hits))
		}
		for _, h := range hits {
			if !bobIDs[h.ID] || h.Metadata.OwnerID != bob {
				t.Errorf("bob search returned foreign entry %s (%q)", h.ID, h.Text)
			}
		}
	}

	hits, err := p.Search(ctx, "anxious exam", stranger, 10)
	if err != nil {
		t.Fatalf("Search stranger: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("owner with no entries got %d hits", len(hits))
	}
}
