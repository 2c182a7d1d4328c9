package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

const journalColumns = `id, owner_id, session_id, created_at, updated_at, duration_seconds,
	topics, emotions, summary_text, artifact_path, retrieval_ref`

type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func scanJournal(row pgx.Row) (*domain.Journal, error) {
	var j domain.Journal
	err := row.Scan(&j.ID, &j.OwnerID, &j.SessionID, &j.CreatedAt, &j.UpdatedAt, &j.DurationSeconds,
		&j.Topics, &j.Emotions, &j.SummaryText, &j.ArtifactPath, &j.RetrievalRef)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJournal inserts the journal and sets its ID and timestamps.
func (s *Store) CreateJournal(ctx context.Context, j *domain.Journal) error {
	topics := j.Topics
	if topics == nil {
		topics = domain.Topics{}
	}
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO journals (owner_id, session_id, created_at, updated_at, duration_seconds,
			topics, emotions, summary_text, artifact_path, retrieval_ref)
		VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		j.OwnerID, j.SessionID, createdAt, j.DurationSeconds,
		topics, j.Emotions, j.SummaryText, j.ArtifactPath, j.RetrievalRef,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}
	return nil
}

func (s *Store) GetJournal(ctx context.Context, ownerID, id int64) (*domain.Journal, error) {
	j, err := scanJournal(s.pool.QueryRow(ctx, `
		SELECT `+journalColumns+` FROM journals WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, notFound(err, "journal")
	}
	return j, nil
}

// ListJournals returns the owner's journals, newest first.
func (s *Store) ListJournals(ctx context.Context, ownerID int64, limit int) ([]domain.Journal, error) {
	return s.queryJournals(ctx, `
		SELECT `+journalColumns+` FROM journals
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
}

func (s *Store) JournalsByTopic(ctx context.Context, ownerID int64, topic string, limit int) ([]domain.Journal, error) {
	return s.queryJournals(ctx, `
		SELECT `+journalColumns+` FROM journals
		WHERE owner_id = $1 AND topics @> jsonb_build_array($2::text)
		ORDER BY created_at DESC
		LIMIT $3`, ownerID, strings.ToLower(strings.TrimSpace(topic)), limit)
}

// JournalsMissingRetrieval lists journals whose index write failed, oldest first.
func (s *Store) JournalsMissingRetrieval(ctx context.Context, limit int) ([]domain.Journal, error) {
	return s.queryJournals(ctx, `
		SELECT `+journalColumns+` FROM journals
		WHERE retrieval_ref IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

func (s *Store) queryJournals(ctx context.Context, sql string, args ...any) ([]domain.Journal, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query journals: %w", err)
	}
	defer rows.Close()

	var out []domain.Journal
	for rows.Next() {
		j, err := scanJournal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// EmotionAverages averages each emotion over the owner's journals created
// since the given time. It also returns how many journals were averaged.
func (s *Store) EmotionAverages(ctx context.Context, ownerID int64, since time.Time) (domain.Emotions, int, error) {
	cols := make([]string, len(domain.EmotionKeys))
	for i, k := range domain.EmotionKeys {
		cols[i] = fmt.Sprintf("COALESCE(AVG((emotions->>'%s')::float8), 0)", k)
	}

	vals := make([]float64, len(domain.EmotionKeys))
	dest := make([]any, 0, len(vals)+1)
	var n int
	dest = append(dest, &n)
	for i := range vals {
		dest = append(dest, &vals[i])
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), `+strings.Join(cols, ", ")+`
		FROM journals WHERE owner_id = $1 AND created_at >= $2`, ownerID, since,
	).Scan(dest...)
	if err != nil {
		return domain.Emotions{}, 0, fmt.Errorf("emotion averages: %w", err)
	}

	m := make(map[string]float64, len(vals))
	for i, k := range domain.EmotionKeys {
		m[k] = vals[i]
	}
	return domain.EmotionsFromMap(m), n, nil
}

func (s *Store) TopicFrequency(ctx context.Context, ownerID int64, limit int) ([]TopicCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.topic, COUNT(*) AS n
		FROM journals j, jsonb_array_elements_text(j.topics) AS t(topic)
		WHERE j.owner_id = $1
		GROUP BY t.topic
		ORDER BY n DESC, t.topic ASC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("topic frequency: %w", err)
	}
	defer rows.Close()

	var out []TopicCount
	for rows.Next() {
		var tc TopicCount
		if err := rows.Scan(&tc.Topic, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan topic count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// UpdateEmotions is a corrective update issued by maintenance only.
func (s *Store) UpdateEmotions(ctx context.Context, ownerID, id int64, e domain.Emotions) error {
	return s.execJournal(ctx, id, `
		UPDATE journals SET emotions = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`, id, ownerID, e)
}

// ReplaceTopics is a corrective update issued by maintenance only.
func (s *Store) ReplaceTopics(ctx context.Context, ownerID, id int64, topics domain.Topics) error {
	if topics == nil {
		topics = domain.Topics{}
	}
	return s.execJournal(ctx, id, `
		UPDATE journals SET topics = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`, id, ownerID, topics)
}

func (s *Store) SetRetrievalRef(ctx context.Context, ownerID, id int64, ref string) error {
	return s.execJournal(ctx, id, `
		UPDATE journals SET retrieval_ref = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`, id, ownerID, ref)
}

func (s *Store) execJournal(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update journal %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update journal %d: %w", id, ErrNotFound)
	}
	return nil
}
