package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/journal"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
	"github.com/MikeSquared-Agency/callingjournal/internal/maintenance"
	"github.com/MikeSquared-Agency/callingjournal/internal/store"
)

// Conversation is the session surface the API drives.
type Conversation interface {
	Start(ctx context.Context, ownerID int64, callRef string) (string, error)
	Advance(ctx context.Context, ownerID int64, text string) (string, error)
	AdvanceStream(ctx context.Context, ownerID int64, text string) (*conversation.ReplyStream, error)
	Finish(ctx context.Context, ownerID int64) (*conversation.FinishResult, error)
	Transcript(ownerID int64) ([]domain.Turn, error)
	LiveCount() int
}

// Journals is the read side of journal storage.
type Journals interface {
	ListJournals(ctx context.Context, ownerID int64, limit int) ([]domain.Journal, error)
	GetJournal(ctx context.Context, ownerID, id int64) (*domain.Journal, error)
	JournalsByTopic(ctx context.Context, ownerID int64, topic string, limit int) ([]domain.Journal, error)
	EmotionAverages(ctx context.Context, ownerID int64, since time.Time) (domain.Emotions, int, error)
	TopicFrequency(ctx context.Context, ownerID int64, limit int) ([]store.TopicCount, error)
}

type Maintenance interface {
	Rescore(ctx context.Context, ownerID, journalID int64) (domain.Emotions, error)
	Retag(ctx context.Context, ownerID, journalID int64) (domain.Topics, error)
	Repair(ctx context.Context, limit int) (maintenance.RepairResult, error)
}

// Deps wires the server to the rest of the service. Only Conversation is
// required; routes whose dependency is nil answer 503.
type Deps struct {
	Conversation Conversation
	Journals     Journals
	Index        index.Index
	Artifacts    journal.ArtifactStore
	Maintenance  Maintenance
	Telephony    http.Handler
	Logger       *slog.Logger
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
	http   *http.Server
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/journal/status", s.status)

	router.Route("/api/v1/owners/{ownerID}", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Post("/messages", s.sendMessage)
			r.Post("/messages/stream", s.streamMessage)
			r.Post("/finish", s.finishSession)
			r.Get("/transcript", s.transcript)
		})
		r.Get("/journals", s.listJournals)
		r.Get("/journals/{journalID}", s.getJournal)
		r.Get("/journals/{journalID}/artifact", s.readArtifact)
		r.Post("/journals/{journalID}/rescore", s.rescore)
		r.Post("/journals/{journalID}/retag", s.retag)
		r.Get("/search", s.search)
		r.Get("/emotions/trends", s.emotionTrends)
		r.Get("/topics", s.topicFrequency)
	})
	router.Post("/api/v1/maintenance/repair", s.repair)

	if deps.Telephony != nil {
		router.Handle("/streams/telephony", deps.Telephony)
	}

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "journald",
		"status":        "ok",
		"live_sessions": s.deps.Conversation.LiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrUnknownOwner), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrSessionActive), errors.Is(err, conversation.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, index.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, maintenance.ErrNoTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeErr(w, code, err.Error())
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
