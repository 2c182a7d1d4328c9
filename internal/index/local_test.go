package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T, path string) *Local {
	t.Helper()
	l, err := OpenLocal(path, NewHashEmbedder(128))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLocal_StoreAndSearch(t *testing.T) {
	l := openTestIndex(t, ":memory:")
	ctx := context.Background()

	sid := int64(7)
	workID, err := l.Store(ctx, "work deadlines made me stressed and tired", Metadata{OwnerID: 1, SessionID: &sid, Topics: []string{"work"}})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := l.Store(ctx, "a quiet walk by the sea with my dog", Metadata{OwnerID: 1}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hits, err := l.Search(ctx, "stressed about work deadlines", 1, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != workID {
		t.Errorf("expected work entry first, got %q", hits[0].Text)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted: %f < %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Metadata.SessionID == nil || *hits[0].Metadata.SessionID != 7 {
		t.Errorf("expected session id 7, got %v", hits[0].Metadata.SessionID)
	}
	if len(hits[0].Metadata.Topics) != 1 || hits[0].Metadata.Topics[0] != "work" {
		t.Errorf("unexpected topics %v", hits[0].Metadata.Topics)
	}
}

func TestLocal_OwnerIsolation(t *testing.T) {
	l := openTestIndex(t, ":memory:")
	ctx := context.Background()

	aliceID, _ := l.Store(ctx, "felt anxious about the exam", Metadata{OwnerID: 1})
	bobID, _ := l.Store(ctx, "felt anxious about the exam", Metadata{OwnerID: 2})

	for i := 0; i < 2; i++ {
		alice, err := l.Search(ctx, "anxious exam", 1, 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		bob, err := l.Search(ctx, "anxious exam", 2, 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(alice) != 1 || alice[0].ID != aliceID {
			t.Errorf("owner 1 got %+v", alice)
		}
		if len(bob) != 1 || bob[0].ID != bobID {
			t.Errorf("owner 2 got %+v", bob)
		}
	}

	none, err := l.Search(ctx, "anxious exam", 3, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no hits for unknown owner, got %d", len(none))
	}
}

func TestLocal_ReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	first, err := OpenLocal(path, NewHashEmbedder(64))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	id, err := first.Store(ctx, "slept well after yoga", Metadata{OwnerID: 4})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	first.Close()

	second := openTestIndex(t, path)
	if second.Count() != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", second.Count())
	}
	hits, err := second.Search(ctx, "yoga", 4, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != id {
		t.Errorf("expected reloaded entry, got %+v", hits)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestLocal_EmbedFailureIsUnavailable(t *testing.T) {
	l, err := OpenLocal(":memory:", failingEmbedder{})
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	defer l.Close()

	if _, err := l.Store(context.Background(), "x", Metadata{OwnerID: 1}); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable from Store, got %v", err)
	}
	if _, err := l.Search(context.Background(), "x", 1, 3); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable from Search, got %v", err)
	}
}

func TestPGVectorLiteral(t *testing.T) {
	if got := pgVector([]float32{0.5, -1, 0}); got != "[0.5,-1,0]" {
		t.Errorf("unexpected literal %q", got)
	}
}
