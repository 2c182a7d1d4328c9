package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

const (
	SubjectSessionStarted  = "journal.session.started"
	SubjectSessionFinished = "journal.session.finished"
	SubjectSessionReply    = "journal.session.reply"
	SubjectJournalCreated  = "journal.entry.created"

	// SubjectMaintenance carries corrective requests (rescore, retag, reindex).
	SubjectMaintenance = "journal.maintenance.request"
)

// Publisher is the narrow view of Client used by components that only emit events.
type Publisher interface {
	Publish(subject string, data any) error
}

type SessionStarted struct {
	OwnerID   int64     `json:"owner_id"`
	SessionID int64     `json:"session_id"`
	CallRef   string    `json:"call_ref,omitempty"`
	RAGHits   int       `json:"rag_hits"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionFinished struct {
	OwnerID         int64                `json:"owner_id"`
	SessionID       int64                `json:"session_id"`
	Status          domain.SessionStatus `json:"status"`
	TurnCount       int                  `json:"turn_count"`
	DurationSeconds int                  `json:"duration_seconds"`
	JournalID       *int64               `json:"journal_id,omitempty"`
	Timestamp       time.Time            `json:"timestamp"`
}

// AssistantReply is emitted for every completed assistant turn so a speech
// service can voice it back to the caller.
type AssistantReply struct {
	OwnerID   int64     `json:"owner_id"`
	SessionID int64     `json:"session_id"`
	CallRef   string    `json:"call_ref,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type JournalCreated struct {
	OwnerID      int64           `json:"owner_id"`
	JournalID    int64           `json:"journal_id"`
	SessionID    int64           `json:"session_id"`
	Topics       domain.Topics   `json:"topics"`
	Emotions     domain.Emotions `json:"emotions"`
	ArtifactPath string          `json:"artifact_path"`
	Indexed      bool            `json:"indexed"`
	Degraded     bool            `json:"degraded"`
	Timestamp    time.Time       `json:"timestamp"`
}

type MaintenanceAction string

const (
	ActionRescore MaintenanceAction = "rescore"
	ActionRetag   MaintenanceAction = "retag"
	ActionReindex MaintenanceAction = "reindex"
)

type MaintenanceRequest struct {
	Action    MaintenanceAction `json:"action"`
	OwnerID   int64             `json:"owner_id"`
	JournalID int64             `json:"journal_id"`
}

var ErrInvalidRequest = errors.New("invalid maintenance request")

// Validate checks that the action is known and that per-journal actions
// name their journal.
func (r MaintenanceRequest) Validate() error {
	switch r.Action {
	case ActionRescore, ActionRetag:
		if r.OwnerID <= 0 || r.JournalID <= 0 {
			return fmt.Errorf("%w: %s needs owner_id and journal_id", ErrInvalidRequest, r.Action)
		}
	case ActionReindex:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	return nil
}

func DecodeMaintenanceRequest(data []byte) (MaintenanceRequest, error) {
	var req MaintenanceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, req.Validate()
}
