package domain

import "time"

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusAbandoned SessionStatus = "abandoned"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a session. Turns are never edited after they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Owner struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Timezone    string    `json:"timezone"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Session struct {
	ID              int64         `json:"id"`
	OwnerID         int64         `json:"owner_id"`
	CallRef         string        `json:"call_ref,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds *int          `json:"duration_seconds,omitempty"`
	Status          SessionStatus `json:"status"`
	Transcript      []Turn        `json:"transcript"`
}

// Journal is the durable record synthesized from a finished session.
type Journal struct {
	ID              int64     `json:"id"`
	OwnerID         int64     `json:"owner_id"`
	SessionID       *int64    `json:"session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Topics          Topics    `json:"topics"`
	Emotions        Emotions  `json:"emotions"`
	SummaryText     string    `json:"summary_text"`
	ArtifactPath    string    `json:"artifact_path"`
	RetrievalRef    *string   `json:"retrieval_ref,omitempty"`
}
