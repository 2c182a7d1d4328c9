package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
)

// JournalStore persists synthesized journals.
type JournalStore interface {
	CreateJournal(ctx context.Context, j *domain.Journal) error
}

// Outcome records how one synthesis step ended. Degraded steps fell back to
// a default value; they never fail the journal.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

type Step struct {
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

func ok() Step                { return Step{Outcome: OutcomeOK} }
func degraded(err error) Step { return Step{Outcome: OutcomeDegraded, Err: err} }

type Report struct {
	Summary  Step `json:"summary"`
	Topics   Step `json:"topics"`
	Emotions Step `json:"emotions"`
	Index    Step `json:"index"`
}

func (r Report) Degraded() bool {
	for _, s := range []Step{r.Summary, r.Topics, r.Emotions, r.Index} {
		if s.Outcome == OutcomeDegraded {
			return true
		}
	}
	return false
}

type Result struct {
	Journal  *domain.Journal
	Artifact string
	Report   Report
}

type Synthesizer struct {
	llm       *llm.Gateway
	index     index.Index
	artifacts ArtifactStore
	store     JournalStore
	logger    *slog.Logger
	now       func() time.Time
}

func New(gw *llm.Gateway, idx index.Index, artifacts ArtifactStore, store JournalStore, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		llm:       gw,
		index:     idx,
		artifacts: artifacts,
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Synthesize turns a finished session into a persisted journal. Model and
// index failures degrade individual fields; only artifact or journal
// persistence failures are returned as errors.
func (s *Synthesizer) Synthesize(ctx context.Context, sess domain.Session) (*Result, error) {
	transcript := RenderTranscript(sess.Transcript)
	createdAt := s.now()
	var report Report

	s.logger.Info("synthesizing journal",
		"owner_id", sess.OwnerID,
		"session_id", sess.ID,
		"turns", len(sess.Transcript),
		"transcript_len", len(transcript),
	)

	var (
		summary  string
		topics   domain.Topics
		emotions domain.Emotions
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		summary, err = s.Summarize(ctx, transcript)
		if err != nil {
			s.logger.Warn("summary degraded to user turns", "session_id", sess.ID, "error", err)
			summary = fallbackSummary(sess.Transcript)
			report.Summary = degraded(err)
		} else {
			report.Summary = ok()
		}

		topics, err = s.ExtractTopics(ctx, summary)
		if err != nil {
			s.logger.Warn("topic extraction degraded", "session_id", sess.ID, "error", err)
			topics = domain.Topics{}
			report.Topics = degraded(err)
		} else {
			report.Topics = ok()
		}
		return nil
	})
	g.Go(func() error {
		var err error
		emotions, err = s.AnalyzeEmotions(ctx, transcript)
		if err != nil {
			s.logger.Warn("emotion analysis degraded", "session_id", sess.ID, "error", err)
			emotions = domain.Emotions{}
			report.Emotions = degraded(err)
		} else {
			report.Emotions = ok()
		}
		return nil
	})
	_ = g.Wait()

	duration := sessionDuration(sess)
	artifact := RenderArtifact(createdAt, summary, topics, emotions, duration)
	path, err := s.artifacts.Save(ctx, sess.OwnerID, createdAt, artifact)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	sessionID := sess.ID
	var retrievalRef *string
	if s.index == nil {
		report.Index = degraded(index.ErrIndexUnavailable)
	} else {
		ref, err := s.index.Store(ctx, summary, index.Metadata{
			OwnerID:   sess.OwnerID,
			SessionID: &sessionID,
			Topics:    topics,
			CreatedAt: createdAt,
		})
		if err != nil {
			s.logger.Warn("indexing degraded, journal saved without retrieval ref", "session_id", sess.ID, "error", err)
			report.Index = degraded(err)
		} else {
			retrievalRef = &ref
			report.Index = ok()
		}
	}

	j := &domain.Journal{
		OwnerID:         sess.OwnerID,
		SessionID:       &sessionID,
		CreatedAt:       createdAt,
		DurationSeconds: duration,
		Topics:          topics,
		Emotions:        emotions,
		SummaryText:     summary,
		ArtifactPath:    path,
		RetrievalRef:    retrievalRef,
	}
	if err := s.store.CreateJournal(ctx, j); err != nil {
		return nil, fmt.Errorf("persist journal: %w", err)
	}

	s.logger.Info("journal created",
		"owner_id", j.OwnerID,
		"journal_id", j.ID,
		"topics", len(j.Topics),
		"degraded", report.Degraded(),
	)
	return &Result{Journal: j, Artifact: artifact, Report: report}, nil
}

// Summarize writes the first-person summary for a rendered transcript.
func (s *Synthesizer) Summarize(ctx context.Context, transcript string) (string, error) {
	raw, err := s.llm.Generate(ctx, summarySystem, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(summaryPrompt, transcript)},
	}, llm.Options{Temperature: 0.7, MaxTokens: 1024})
	if err != nil {
		return "", err
	}
	summary := SanitizeProse(raw)
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return summary, nil
}

// ExtractTopics pulls a normalized topic list out of a summary.
func (s *Synthesizer) ExtractTopics(ctx context.Context, summary string) (domain.Topics, error) {
	var raw []string
	if err := s.llm.ExtractStructured(ctx, fmt.Sprintf(topicsPrompt, summary), topicsSchema, &raw); err != nil {
		return nil, err
	}
	return domain.NormalizeTopics(raw), nil
}

// AnalyzeEmotions scores the eight canonical emotions. Keys the model leaves
// out default to zero.
func (s *Synthesizer) AnalyzeEmotions(ctx context.Context, transcript string) (domain.Emotions, error) {
	var raw map[string]float64
	if err := s.llm.ExtractStructured(ctx, fmt.Sprintf(emotionsPrompt, transcript), emotionsSchema, &raw); err != nil {
		return domain.Emotions{}, err
	}
	return domain.EmotionsFromMap(raw), nil
}

func fallbackSummary(turns []domain.Turn) string {
	var parts []string
	for _, t := range turns {
		if t.Role == domain.RoleUser && strings.TrimSpace(t.Content) != "" {
			parts = append(parts, strings.TrimSpace(t.Content))
		}
	}
	if len(parts) == 0 {
		return "I checked in today."
	}
	return strings.Join(parts, " ")
}

func sessionDuration(sess domain.Session) int {
	if sess.DurationSeconds != nil {
		return *sess.DurationSeconds
	}
	if sess.EndedAt != nil {
		return int(sess.EndedAt.Sub(sess.StartedAt).Seconds())
	}
	return 0
}
