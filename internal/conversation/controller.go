package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/events"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/journal"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
	"github.com/MikeSquared-Agency/callingjournal/internal/store"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("owner already has an active session")
	ErrUnknownOwner    = errors.New("unknown owner")
)

// Store is the persistence the controller needs.
type Store interface {
	GetOwner(ctx context.Context, id int64) (*domain.Owner, error)
	ActiveSessionForOwner(ctx context.Context, ownerID int64) (*domain.Session, error)
	CreateSession(ctx context.Context, sess *domain.Session) error
	UpdateSession(ctx context.Context, sess *domain.Session) error
	AbandonStale(ctx context.Context, cutoff time.Time, keep []int64) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, sess domain.Session) (*journal.Result, error)
}

type Config struct {
	RAGQuery    string
	RAGTopK     int
	Temperature float64
	MaxTokens   int
	// MinTurnsForJournal: sessions with this many turns or fewer produce no journal.
	MinTurnsForJournal int
}

func DefaultConfig() Config {
	return Config{
		RAGQuery:           "recent feelings and events",
		RAGTopK:            3,
		Temperature:        0.7,
		MaxTokens:          400,
		MinTurnsForJournal: 2,
	}
}

// FinishResult is returned by Finish. A nil JournalID means the conversation
// was too short to journal.
type FinishResult struct {
	SessionID       int64            `json:"session_id"`
	OwnerID         int64            `json:"owner_id"`
	TurnCount       int              `json:"turn_count"`
	DurationSeconds int              `json:"duration_seconds"`
	JournalID       *int64           `json:"journal_id,omitempty"`
	Topics          domain.Topics    `json:"topics,omitempty"`
	Emotions        *domain.Emotions `json:"emotions,omitempty"`
	SummaryText     string           `json:"summary_text,omitempty"`
	ArtifactPath    string           `json:"artifact_path,omitempty"`
	Degraded        bool             `json:"degraded,omitempty"`
}

// liveSession is the in-memory state of one active session. lock is a
// one-slot semaphore serializing every mutation of the session.
type liveSession struct {
	lock       chan struct{}
	session    domain.Session
	transcript *Transcript
	ragContext string
	opening    string
	closed     bool

	// id mirrors session.ID so it can be read without holding lock.
	id atomic.Int64
}

func newLiveSession() *liveSession {
	return &liveSession{lock: make(chan struct{}, 1), transcript: NewTranscript()}
}

func (ls *liveSession) release() { <-ls.lock }

func (ls *liveSession) sessionID() int64 { return ls.id.Load() }

// Controller drives the conversation state machine for every owner.
type Controller struct {
	store  Store
	llm    *llm.Gateway
	index  index.Index
	synth  Synthesizer
	events events.Publisher
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu   sync.Mutex
	live map[int64]*liveSession
}

// New builds a controller. idx and pub may be nil.
func New(st Store, gw *llm.Gateway, idx index.Index, synth Synthesizer, pub events.Publisher, cfg Config, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.RAGQuery == "" {
		cfg.RAGQuery = def.RAGQuery
	}
	if cfg.RAGTopK <= 0 {
		cfg.RAGTopK = def.RAGTopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MinTurnsForJournal <= 0 {
		cfg.MinTurnsForJournal = def.MinTurnsForJournal
	}
	return &Controller{
		store:  st,
		llm:    gw,
		index:  idx,
		synth:  synth,
		events: pub,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		live:   make(map[int64]*liveSession),
	}
}

// Start opens a session for the owner and returns the assistant's opening
// line. A second Start while the owner's session is live fails with
// ErrSessionActive.
func (c *Controller) Start(ctx context.Context, ownerID int64, callRef string) (string, error) {
	if _, err := c.store.GetOwner(ctx, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("owner %d: %w", ownerID, ErrUnknownOwner)
		}
		return "", fmt.Errorf("resolve owner: %w", err)
	}

	ls := newLiveSession()
	ls.lock <- struct{}{}
	c.mu.Lock()
	if _, exists := c.live[ownerID]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("owner %d: %w", ownerID, ErrSessionActive)
	}
	c.live[ownerID] = ls
	c.mu.Unlock()

	started := false
	defer func() {
		if !started {
			c.evict(ownerID, ls)
		}
		ls.release()
	}()

	c.abandonOrphan(ctx, ownerID)

	var hits []index.Hit
	ls.ragContext, hits = c.recall(ctx, ownerID)

	opening, err := c.llm.Generate(ctx, openingSystem, []llm.Message{
		{Role: "user", Content: openingPrompt(ls.ragContext)},
	}, llm.Options{Temperature: c.cfg.Temperature, MaxTokens: c.cfg.MaxTokens})
	if err != nil {
		return "", fmt.Errorf("generate opening: %w", err)
	}
	opening = strings.TrimSpace(opening)
	ls.opening = opening

	now := c.now()
	ls.transcript.Append(domain.Turn{Role: domain.RoleAssistant, Content: opening, Timestamp: now})
	ls.session = domain.Session{
		OwnerID:    ownerID,
		CallRef:    callRef,
		StartedAt:  now,
		Status:     domain.StatusActive,
		Transcript: ls.transcript.All(),
	}
	if err := c.store.CreateSession(ctx, &ls.session); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	ls.id.Store(ls.session.ID)
	started = true

	c.logger.Info("session started",
		"owner_id", ownerID,
		"session_id", ls.session.ID,
		"rag_hits", len(hits),
	)
	c.publish(events.SubjectSessionStarted, events.SessionStarted{
		OwnerID:   ownerID,
		SessionID: ls.session.ID,
		CallRef:   callRef,
		RAGHits:   len(hits),
		Timestamp: now,
	})
	return opening, nil
}

// Advance appends the user's utterance, asks the model for a reply and
// appends that reply. If the model fails the user turn stays recorded.
func (c *Controller) Advance(ctx context.Context, ownerID int64, text string) (string, error) {
	ls, err := c.acquire(ctx, ownerID)
	if err != nil {
		return "", err
	}
	defer ls.release()

	c.appendTurn(ctx, ls, domain.RoleUser, text)

	reply, err := c.llm.Generate(ctx, ls.systemPrompt(), ls.history(), llm.Options{
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		c.logger.Error("generate reply failed", "owner_id", ownerID, "session_id", ls.session.ID, "error", err)
		return "", fmt.Errorf("generate reply: %w", err)
	}

	c.appendTurn(ctx, ls, domain.RoleAssistant, reply)
	c.publishReply(ls, reply)
	return reply, nil
}

// AdvanceStream is Advance with a streamed reply. The user turn is recorded
// before the first fragment is requested. The returned stream holds the
// session lock until it is drained or closed, so callers must Close it.
func (c *Controller) AdvanceStream(ctx context.Context, ownerID int64, text string) (*ReplyStream, error) {
	ls, err := c.acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	c.appendTurn(ctx, ls, domain.RoleUser, text)

	stream, err := c.llm.GenerateStream(ctx, ls.systemPrompt(), ls.history(), llm.Options{
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		ls.release()
		c.logger.Error("open reply stream failed", "owner_id", ownerID, "session_id", ls.session.ID, "error", err)
		return nil, fmt.Errorf("open reply stream: %w", err)
	}
	return &ReplyStream{c: c, ls: ls, ctx: context.WithoutCancel(ctx), stream: stream}, nil
}

// Finish closes the owner's session and, if it is long enough, synthesizes
// its journal. The live session is evicted whatever the outcome.
func (c *Controller) Finish(ctx context.Context, ownerID int64) (*FinishResult, error) {
	ls, err := c.acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		c.evict(ownerID, ls)
		ls.release()
	}()

	now := c.now()
	duration := int(now.Sub(ls.session.StartedAt).Seconds())
	ls.session.EndedAt = &now
	ls.session.DurationSeconds = &duration
	ls.session.Status = domain.StatusCompleted
	ls.session.Transcript = ls.transcript.All()
	turns := len(ls.session.Transcript)

	if err := c.store.UpdateSession(ctx, &ls.session); err != nil {
		c.logger.Error("persist finished session failed", "owner_id", ownerID, "session_id", ls.session.ID, "error", err)
		return nil, fmt.Errorf("persist finished session: %w", err)
	}

	result := &FinishResult{
		SessionID:       ls.session.ID,
		OwnerID:         ownerID,
		TurnCount:       turns,
		DurationSeconds: duration,
	}

	if turns <= c.cfg.MinTurnsForJournal {
		c.logger.Info("session too short to journal", "owner_id", ownerID, "session_id", ls.session.ID, "turns", turns)
		c.publishFinished(ls, result)
		return result, nil
	}

	res, err := c.synth.Synthesize(ctx, ls.session)
	if err != nil {
		ls.session.Status = domain.StatusFailed
		if uerr := c.store.UpdateSession(ctx, &ls.session); uerr != nil {
			c.logger.Error("mark session failed", "session_id", ls.session.ID, "error", uerr)
		}
		c.logger.Error("journal synthesis failed", "owner_id", ownerID, "session_id", ls.session.ID, "error", err)
		c.publishFinished(ls, result)
		return nil, fmt.Errorf("synthesize journal: %w", err)
	}

	j := res.Journal
	result.JournalID = &j.ID
	result.Topics = j.Topics
	result.Emotions = &j.Emotions
	result.SummaryText = j.SummaryText
	result.ArtifactPath = j.ArtifactPath
	result.Degraded = res.Report.Degraded()

	c.publishFinished(ls, result)
	c.publish(events.SubjectJournalCreated, events.JournalCreated{
		OwnerID:      ownerID,
		JournalID:    j.ID,
		SessionID:    ls.session.ID,
		Topics:       j.Topics,
		Emotions:     j.Emotions,
		ArtifactPath: j.ArtifactPath,
		Indexed:      j.RetrievalRef != nil,
		Degraded:     result.Degraded,
		Timestamp:    now,
	})
	return result, nil
}

// Transcript returns a copy of the owner's live transcript.
func (c *Controller) Transcript(ownerID int64) ([]domain.Turn, error) {
	c.mu.Lock()
	ls, ok := c.live[ownerID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return ls.transcript.All(), nil
}

// Active reports whether the owner has a live session.
func (c *Controller) Active(ownerID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live[ownerID]
	return ok
}

// LiveCount returns the number of live sessions.
func (c *Controller) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// acquire looks up the owner's live session and takes its lock.
func (c *Controller) acquire(ctx context.Context, ownerID int64) (*liveSession, error) {
	c.mu.Lock()
	ls, ok := c.live[ownerID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}

	select {
	case ls.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ls.closed {
		ls.release()
		return nil, ErrNoActiveSession
	}
	return ls, nil
}

// evict removes ls from the live table. Must be called with ls locked.
func (c *Controller) evict(ownerID int64, ls *liveSession) {
	ls.closed = true
	c.mu.Lock()
	if c.live[ownerID] == ls {
		delete(c.live, ownerID)
	}
	c.mu.Unlock()
}

// appendTurn records a turn and persists a snapshot. Snapshot failures are
// logged; the final write in Finish is the one that must succeed.
func (c *Controller) appendTurn(ctx context.Context, ls *liveSession, role domain.Role, content string) {
	ls.transcript.Append(domain.Turn{Role: role, Content: content, Timestamp: c.now()})
	ls.session.Transcript = ls.transcript.All()
	if err := c.store.UpdateSession(ctx, &ls.session); err != nil {
		c.logger.Warn("persist transcript snapshot failed",
			"owner_id", ls.session.OwnerID,
			"session_id", ls.session.ID,
			"error", err,
		)
	}
}

// abandonOrphan retires a session left active by a previous process.
func (c *Controller) abandonOrphan(ctx context.Context, ownerID int64) {
	orphan, err := c.store.ActiveSessionForOwner(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.Warn("check for orphaned session failed", "owner_id", ownerID, "error", err)
		return
	}
	now := c.now()
	orphan.Status = domain.StatusAbandoned
	orphan.EndedAt = &now
	if err := c.store.UpdateSession(ctx, orphan); err != nil {
		c.logger.Warn("abandon orphaned session failed", "owner_id", ownerID, "session_id", orphan.ID, "error", err)
		return
	}
	c.logger.Info("abandoned orphaned session", "owner_id", ownerID, "session_id", orphan.ID)
}

// recall fetches prior-journal context. Index failures yield an empty context.
func (c *Controller) recall(ctx context.Context, ownerID int64) (string, []index.Hit) {
	if c.index == nil {
		return "", nil
	}
	hits, err := c.index.Search(ctx, c.cfg.RAGQuery, ownerID, c.cfg.RAGTopK)
	if err != nil {
		c.logger.Warn("rag lookup failed, continuing without context", "owner_id", ownerID, "error", err)
		return "", nil
	}
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Metadata.OwnerID != ownerID {
			continue
		}
		texts = append(texts, h.Text)
	}
	return strings.Join(texts, "\n\n"), hits
}

func (c *Controller) publish(subject string, data any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(subject, data); err != nil {
		c.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

func (c *Controller) publishReply(ls *liveSession, text string) {
	c.publish(events.SubjectSessionReply, events.AssistantReply{
		OwnerID:   ls.session.OwnerID,
		SessionID: ls.session.ID,
		CallRef:   ls.session.CallRef,
		Text:      text,
		Timestamp: c.now(),
	})
}

func (c *Controller) publishFinished(ls *liveSession, r *FinishResult) {
	c.publish(events.SubjectSessionFinished, events.SessionFinished{
		OwnerID:         r.OwnerID,
		SessionID:       r.SessionID,
		Status:          ls.session.Status,
		TurnCount:       r.TurnCount,
		DurationSeconds: r.DurationSeconds,
		JournalID:       r.JournalID,
		Timestamp:       c.now(),
	})
}

func (ls *liveSession) systemPrompt() string {
	rag := ls.ragContext
	if rag == "" {
		rag = noContext
	}
	return fmt.Sprintf(systemPrompt, ls.opening, rag)
}

// history is the model-facing dialogue: every turn after the opening line,
// which lives in the system prompt instead.
func (ls *liveSession) history() []llm.Message {
	turns := ls.transcript.All()
	if len(turns) > 0 {
		turns = turns[1:]
	}
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}

func openingPrompt(ragContext string) string {
	if ragContext == "" {
		return openingFirstTime
	}
	return fmt.Sprintf(openingWithContext, ragContext)
}
