package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

const sessionColumns = `id, owner_id, call_ref, started_at, ended_at, duration_seconds, status, transcript`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	var status string
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.CallRef, &sess.StartedAt,
		&sess.EndedAt, &sess.DurationSeconds, &status, &sess.Transcript)
	if err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	return &sess, nil
}

// CreateSession inserts the session and sets its ID.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	transcript := sess.Transcript
	if transcript == nil {
		transcript = []domain.Turn{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (owner_id, call_ref, started_at, status, transcript)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		sess.OwnerID, sess.CallRef, sess.StartedAt, string(sess.Status), transcript,
	).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession writes the full mutable state of a session: status, end
// time, duration and transcript snapshot.
func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $3, ended_at = $4, duration_seconds = $5, transcript = $6
		WHERE id = $1 AND owner_id = $2`,
		sess.ID, sess.OwnerID, string(sess.Status), sess.EndedAt, sess.DurationSeconds, sess.Transcript,
	)
	if err != nil {
		return fmt.Errorf("update session %d: %w", sess.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %d: %w", sess.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, ownerID, id int64) (*domain.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, notFound(err, "session")
	}
	return sess, nil
}

// ActiveSessionForOwner returns the most recent active session or ErrNotFound.
func (s *Store) ActiveSessionForOwner(ctx context.Context, ownerID int64) (*domain.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE owner_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`, ownerID, string(domain.StatusActive)))
	if err != nil {
		return nil, notFound(err, "active session")
	}
	return sess, nil
}

// AbandonStale marks active sessions started before cutoff as abandoned,
// except the sessions in keep, which are still live in this process.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time, keep []int64) (int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, ended_at = NOW()
		WHERE status = $2 AND started_at < $3 AND id <> ALL($4)`,
		string(domain.StatusAbandoned), string(domain.StatusActive), cutoff, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes terminal sessions started before cutoff. Journals
// keep their content; their session reference is nulled by the foreign key.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions WHERE status <> $1 AND started_at < $2`,
		string(domain.StatusActive), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
