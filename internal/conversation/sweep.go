package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

// AbandonStale evicts live sessions that started more than olderThan ago and
// marks every persisted active session older than that as abandoned. Live
// sessions busy with a turn are left alone, in memory and in the database,
// until the next sweep.
func (c *Controller) AbandonStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := c.now()
	cutoff := now.Add(-olderThan)

	c.mu.Lock()
	stale := make(map[int64]*liveSession)
	keep := []int64{}
	for owner, ls := range c.live {
		select {
		case ls.lock <- struct{}{}:
			if !ls.closed && ls.session.ID != 0 && ls.session.StartedAt.Before(cutoff) {
				stale[owner] = ls
				continue
			}
			ls.release()
		default:
		}
		if id := ls.sessionID(); id != 0 {
			keep = append(keep, id)
		}
	}
	c.mu.Unlock()

	for owner, ls := range stale {
		ls.session.Status = domain.StatusAbandoned
		ls.session.EndedAt = &now
		ls.session.Transcript = ls.transcript.All()
		if err := c.store.UpdateSession(ctx, &ls.session); err != nil {
			c.logger.Warn("persist abandoned session failed", "owner_id", owner, "session_id", ls.session.ID, "error", err)
		}
		c.evict(owner, ls)
		ls.release()
		c.logger.Info("abandoned stale live session", "owner_id", owner, "session_id", ls.session.ID)
	}

	n, err := c.store.AbandonStale(ctx, cutoff, keep)
	if err != nil {
		return int64(len(stale)), fmt.Errorf("abandon stale sessions: %w", err)
	}
	return n + int64(len(stale)), nil
}

// PurgeExpired deletes terminal sessions older than the retention window.
func (c *Controller) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := c.store.DeleteExpired(ctx, c.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	c.logger.Info("purged expired sessions", "count", n, "retention", retention)
	return n, nil
}
