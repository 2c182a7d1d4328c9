//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func createTestOwner(t *testing.T, s *Store) *domain.Owner {
	t.Helper()
	o, err := s.CreateOwner(context.Background(), "+1555"+uuid.New().String()[:8], "UTC")
	if err != nil {
		t.Fatalf("CreateOwner failed: %v", err)
	}
	return o
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := createTestOwner(t, s)

	sess := &domain.Session{
		OwnerID:   owner.ID,
		StartedAt: time.Now().UTC(),
		Status:    domain.StatusActive,
		Transcript: []domain.Turn{
			{Role: domain.RoleAssistant, Content: "How was today?", Timestamp: time.Now().UTC()},
		},
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.ID == 0 {
		t.Fatal("expected session id")
	}

	active, err := s.ActiveSessionForOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ActiveSessionForOwner failed: %v", err)
	}
	if active.ID != sess.ID || len(active.Transcript) != 1 {
		t.Errorf("unexpected active session: %+v", active)
	}

	sess.Transcript = append(sess.Transcript, domain.Turn{Role: domain.RoleUser, Content: "Long.", Timestamp: time.Now().UTC()})
	now := time.Now().UTC()
	dur := 12
	sess.EndedAt = &now
	sess.DurationSeconds = &dur
	sess.Status = domain.StatusCompleted
	if err := s.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	if _, err := s.ActiveSessionForOwner(ctx, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after completion, got %v", err)
	}

	got, err := s.GetSession(ctx, owner.ID, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != domain.StatusCompleted || len(got.Transcript) != 2 || got.Transcript[1].Content != "Long." {
		t.Errorf("unexpected persisted session: %+v", got)
	}
}

func TestIntegration_JournalQueries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	owner := createTestOwner(t, s)
	other := createTestOwner(t, s)

	j := &domain.Journal{
		OwnerID:         owner.ID,
		DurationSeconds: 90,
		Topics:          domain.Topics{"work", "stress"},
		Emotions:        domain.EmotionsFromMap(map[string]float64{"stress": 0.8}),
		SummaryText:     "I had a long day at work.",
		ArtifactPath:    "/tmp/journal.md",
	}
	if err := s.CreateJournal(ctx, j); err != nil {
		t.Fatalf("CreateJournal failed: %v", err)
	}

	if _, err := s.GetJournal(ctx, other.ID, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound across owners, got %v", err)
	}

	byTopic, err := s.JournalsByTopic(ctx, owner.ID, "Work", 10)
	if err != nil {
		t.Fatalf("JournalsByTopic failed: %v", err)
	}
	if len(byTopic) != 1 || byTopic[0].ID != j.ID {
		t.Errorf("unexpected topic results: %+v", byTopic)
	}

	avg, n, err := s.EmotionAverages(ctx, owner.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("EmotionAverages failed: %v", err)
	}
	if n != 1 || avg.Stress != 0.8 {
		t.Errorf("unexpected averages: n=%d %+v", n, avg)
	}

	if err := s.ReplaceTopics(ctx, owner.ID, j.ID, domain.Topics{"sleep"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}
	if err := s.SetRetrievalRef(ctx, owner.ID, j.ID, uuid.NewString()); err != nil {
		t.Fatalf("SetRetrievalRef failed: %v", err)
	}
	got, err := s.GetJournal(ctx, owner.ID, j.ID)
	if err != nil {
		t.Fatalf("GetJournal failed: %v", err)
	}
	if len(got.Topics) != 1 || got.Topics[0] != "sleep" || got.RetrievalRef == nil {
		t.Errorf("corrective updates not applied: %+v", got)
	}

	freq, err := s.TopicFrequency(ctx, owner.ID, 5)
	if err != nil {
		t.Fatalf("TopicFrequency failed: %v", err)
	}
	if len(freq) != 1 || freq[0].Topic != "sleep" || freq[0].Count != 1 {
		t.Errorf("unexpected topic frequency: %+v", freq)
	}
}
