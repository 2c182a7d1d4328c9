package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/events"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/journal"
)

// ErrNoTranscript is returned when a journal's session (and so its
// transcript) no longer exists.
var ErrNoTranscript = errors.New("journal has no session transcript")

// Store is the persistence the maintainer reads and corrects.
type Store interface {
	GetJournal(ctx context.Context, ownerID, id int64) (*domain.Journal, error)
	GetSession(ctx context.Context, ownerID, id int64) (*domain.Session, error)
	JournalsMissingRetrieval(ctx context.Context, limit int) ([]domain.Journal, error)
	UpdateEmotions(ctx context.Context, ownerID, id int64, e domain.Emotions) error
	ReplaceTopics(ctx context.Context, ownerID, id int64, topics domain.Topics) error
	SetRetrievalRef(ctx context.Context, ownerID, id int64, ref string) error
}

// Analyzer re-runs individual synthesis steps. *journal.Synthesizer satisfies it.
type Analyzer interface {
	ExtractTopics(ctx context.Context, summary string) (domain.Topics, error)
	AnalyzeEmotions(ctx context.Context, transcript string) (domain.Emotions, error)
}

// Maintainer applies corrective updates to stored journals. Conversations
// never go through it.
type Maintainer struct {
	store    Store
	analyzer Analyzer
	index    index.Index
	logger   *slog.Logger
}

func New(st Store, analyzer Analyzer, idx index.Index, logger *slog.Logger) *Maintainer {
	return &Maintainer{store: st, analyzer: analyzer, index: idx, logger: logger}
}

// Rescore re-runs emotion analysis over the journal's session transcript.
func (m *Maintainer) Rescore(ctx context.Context, ownerID, journalID int64) (domain.Emotions, error) {
	j, err := m.store.GetJournal(ctx, ownerID, journalID)
	if err != nil {
		return domain.Emotions{}, fmt.Errorf("load journal: %w", err)
	}
	if j.SessionID == nil {
		return domain.Emotions{}, ErrNoTranscript
	}
	sess, err := m.store.GetSession(ctx, ownerID, *j.SessionID)
	if err != nil {
		return domain.Emotions{}, fmt.Errorf("load session: %w: %w", ErrNoTranscript, err)
	}

	emotions, err := m.analyzer.AnalyzeEmotions(ctx, journal.RenderTranscript(sess.Transcript))
	if err != nil {
		return domain.Emotions{}, fmt.Errorf("analyze emotions: %w", err)
	}
	if err := m.store.UpdateEmotions(ctx, ownerID, journalID, emotions); err != nil {
		return domain.Emotions{}, fmt.Errorf("update emotions: %w", err)
	}

	m.logger.Info("journal rescored", "owner_id", ownerID, "journal_id", journalID)
	return emotions, nil
}

// Retag re-runs topic extraction over the stored summary.
func (m *Maintainer) Retag(ctx context.Context, ownerID, journalID int64) (domain.Topics, error) {
	j, err := m.store.GetJournal(ctx, ownerID, journalID)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	topics, err := m.analyzer.ExtractTopics(ctx, j.SummaryText)
	if err != nil {
		return nil, fmt.Errorf("extract topics: %w", err)
	}
	if err := m.store.ReplaceTopics(ctx, ownerID, journalID, topics); err != nil {
		return nil, fmt.Errorf("replace topics: %w", err)
	}

	m.logger.Info("journal retagged", "owner_id", ownerID, "journal_id", journalID, "topics", len(topics))
	return topics, nil
}

// RepairResult counts the outcome of a Repair pass.
type RepairResult struct {
	Scanned  int `json:"scanned"`
	Indexed  int `json:"indexed"`
	Failures int `json:"failures"`
}

// Repair indexes journals saved without a retrieval reference. A journal
// that still cannot be indexed is counted and skipped.
func (m *Maintainer) Repair(ctx context.Context, limit int) (RepairResult, error) {
	var res RepairResult
	if m.index == nil {
		return res, index.ErrIndexUnavailable
	}
	if limit <= 0 {
		limit = 100
	}

	journals, err := m.store.JournalsMissingRetrieval(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list unindexed journals: %w", err)
	}
	res.Scanned = len(journals)

	for _, j := range journals {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ref, err := m.index.Store(ctx, j.SummaryText, index.Metadata{
			OwnerID:   j.OwnerID,
			SessionID: j.SessionID,
			Topics:    j.Topics,
			CreatedAt: j.CreatedAt,
		})
		if err != nil {
			m.logger.Warn("reindex failed", "journal_id", j.ID, "error", err)
			res.Failures++
			continue
		}
		if err := m.store.SetRetrievalRef(ctx, j.OwnerID, j.ID, ref); err != nil {
			m.logger.Warn("record retrieval ref failed", "journal_id", j.ID, "error", err)
			res.Failures++
			continue
		}
		res.Indexed++
	}

	m.logger.Info("repair pass complete", "scanned", res.Scanned, "indexed", res.Indexed, "failures", res.Failures)
	return res, nil
}

// Apply runs one maintenance request, as delivered on journal.maintenance.request.
func (m *Maintainer) Apply(ctx context.Context, req events.MaintenanceRequest) error {
	var err error
	switch req.Action {
	case events.ActionRescore:
		_, err = m.Rescore(ctx, req.OwnerID, req.JournalID)
	case events.ActionRetag:
		_, err = m.Retag(ctx, req.OwnerID, req.JournalID)
	case events.ActionReindex:
		_, err = m.Repair(ctx, 0)
	default:
		err = fmt.Errorf("%w: unknown action %q", events.ErrInvalidRequest, req.Action)
	}
	return err
}
