package conversation

import (
	"sync"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

// Transcript is the append-only turn log of one session.
type Transcript struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

func NewTranscript(turns ...domain.Turn) *Transcript {
	return &Transcript{turns: append([]domain.Turn(nil), turns...)}
}

func (t *Transcript) Append(turn domain.Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// All returns a copy of every turn in append order.
func (t *Transcript) All() []domain.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Turn(nil), t.turns...)
}

func (t *Transcript) TurnCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
