package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/journal"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
	"github.com/MikeSquared-Agency/callingjournal/internal/maintenance"
	"github.com/MikeSquared-Agency/callingjournal/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type sessionStore struct {
	mu       sync.Mutex
	sessions map[int64]domain.Session
	next     int64
}

func (s *sessionStore) GetOwner(_ context.Context, id int64) (*domain.Owner, error) {
	if id != 1 && id != 2 {
		return nil, store.ErrNotFound
	}
	return &domain.Owner{ID: id}, nil
}

func (s *sessionStore) ActiveSessionForOwner(context.Context, int64) (*domain.Session, error) {
	return nil, store.ErrNotFound
}

func (s *sessionStore) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	sess.ID = s.next
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *sessionStore) UpdateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *sessionStore) AbandonStale(context.Context, time.Time, []int64) (int64, error) {
	return 0, nil
}
func (s *sessionStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type replyModel struct {
	err error
}

func (m *replyModel) Complete(_ context.Context, req llm.Request) (string, error) {
	if strings.Contains(req.System, "starting") {
		return "Good evening. How did today go?", nil
	}
	if m.err != nil {
		return "", m.err
	}
	return "That sounds like a lot.", nil
}

func (m *replyModel) Stream(context.Context, llm.Request) (llm.Stream, error) {
	return llm.NewSliceStream("That ", "sounds ", "heavy."), nil
}

type okSynth struct{}

func (okSynth) Synthesize(ctx context.Context, sess domain.Session) (*journal.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("persist journal: %w", err)
	}
	sid := sess.ID
	return &journal.Result{Journal: &domain.Journal{
		ID: 9, OwnerID: sess.OwnerID, SessionID: &sid,
		Topics:   domain.Topics{"work"},
		Emotions: domain.Emotions{Stress: 0.7},
	}}, nil
}

type journalReader struct {
	journals []domain.Journal
}

func (j *journalReader) ListJournals(_ context.Context, ownerID int64, limit int) ([]domain.Journal, error) {
	var out []domain.Journal
	for _, jr := range j.journals {
		if jr.OwnerID == ownerID && len(out) < limit {
			out = append(out, jr)
		}
	}
	return out, nil
}

func (j *journalReader) GetJournal(_ context.Context, ownerID, id int64) (*domain.Journal, error) {
	for _, jr := range j.journals {
		if jr.ID == id && jr.OwnerID == ownerID {
			cp := jr
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("journal: %w", store.ErrNotFound)
}

func (j *journalReader) JournalsByTopic(_ context.Context, ownerID int64, topic string, limit int) ([]domain.Journal, error) {
	var out []domain.Journal
	for _, jr := range j.journals {
		for _, t := range jr.Topics {
			if jr.OwnerID == ownerID && t == topic {
				out = append(out, jr)
			}
		}
	}
	return out, nil
}

func (j *journalReader) EmotionAverages(_ context.Context, ownerID int64, _ time.Time) (domain.Emotions, int, error) {
	return domain.Emotions{Stress: 0.6, Happiness: 0.2}, 2, nil
}

func (j *journalReader) TopicFrequency(context.Context, int64, int) ([]store.TopicCount, error) {
	return []store.TopicCount{{Topic: "work", Count: 2}, {Topic: "sleep", Count: 1}}, nil
}

type memArtifacts map[string]string

func (m memArtifacts) Save(context.Context, int64, time.Time, string) (string, error) {
	return "", errors.New("read only")
}

func (m memArtifacts) Read(_ context.Context, path string) (string, error) {
	c, ok := m[path]
	if !ok {
		return "", errors.New("missing artifact")
	}
	return c, nil
}

type hitIndex struct{ err error }

func (hitIndex) Store(context.Context, string, index.Metadata) (string, error) { return "", nil }

func (x hitIndex) Search(_ context.Context, q string, ownerID int64, k int) ([]index.Hit, error) {
	if x.err != nil {
		return nil, x.err
	}
	return []index.Hit{{ID: "h1", Score: 0.9, Text: "work stress", Metadata: index.Metadata{OwnerID: ownerID}}}, nil
}

type stubMaintenance struct{}

func (stubMaintenance) Rescore(_ context.Context, _, journalID int64) (domain.Emotions, error) {
	if journalID == 404 {
		return domain.Emotions{}, maintenance.ErrNoTranscript
	}
	return domain.Emotions{Stress: 0.1}, nil
}

func (stubMaintenance) Retag(context.Context, int64, int64) (domain.Topics, error) {
	return domain.Topics{"sleep"}, nil
}

func (stubMaintenance) Repair(context.Context, int) (maintenance.RepairResult, error) {
	return maintenance.RepairResult{Scanned: 3, Indexed: 3}, nil
}

func newTestServer(t *testing.T, model *replyModel) *Server {
	t.Helper()
	gw := llm.NewGateway(model, llm.Config{}, discardLogger())
	ctrl := conversation.New(&sessionStore{sessions: map[int64]domain.Session{}}, gw, hitIndex{}, okSynth{}, nil,
		conversation.DefaultConfig(), discardLogger())

	return NewServer(8760, Deps{
		Conversation: ctrl,
		Journals: &journalReader{journals: []domain.Journal{
			{ID: 1, OwnerID: 1, Topics: domain.Topics{"work"}, ArtifactPath: "a.md"},
			{ID: 2, OwnerID: 1, Topics: domain.Topics{"sleep"}},
			{ID: 3, OwnerID: 2, Topics: domain.Topics{"work"}},
		}},
		Index:       hitIndex{},
		Artifacts:   memArtifacts{"a.md": "# Journal Entry"},
		Maintenance: stubMaintenance{},
		Logger:      discardLogger(),
	})
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	w := do(t, srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["status"] != "ok" {
		t.Error("expected status ok")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &replyModel{})
	do(t, srv, "POST", "/api/v1/owners/1/sessions", "")

	w := do(t, srv, "GET", "/api/v1/journal/status", "")
	body := decode(t, w)
	if body["service"] != "journald" {
		t.Errorf("expected service journald, got %v", body["service"])
	}
	if body["live_sessions"] != float64(1) {
		t.Errorf("expected 1 live session, got %v", body["live_sessions"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	if w := do(t, srv, "GET", "/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	w := do(t, srv, "POST", "/api/v1/owners/1/sessions", `{"call_ref":"CA9"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body)
	}
	if decode(t, w)["opening"] != "Good evening. How did today go?" {
		t.Error("unexpected opening")
	}

	w = do(t, srv, "POST", "/api/v1/owners/1/sessions/messages", `{"text":"Busy day at work."}`)
	if w.Code != http.StatusOK || decode(t, w)["reply"] != "That sounds like a lot." {
		t.Fatalf("message: unexpected %d %s", w.Code, w.Body)
	}

	w = do(t, srv, "GET", "/api/v1/owners/1/sessions/transcript", "")
	if decode(t, w)["turn_count"] != float64(3) {
		t.Error("expected 3 turns")
	}

	w = do(t, srv, "POST", "/api/v1/owners/1/sessions/finish", "")
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body)
	}
	res := decode(t, w)
	if res["journal_id"] != float64(9) {
		t.Errorf("expected journal 9, got %v", res["journal_id"])
	}

	if w := do(t, srv, "POST", "/api/v1/owners/1/sessions/finish", ""); w.Code != http.StatusConflict {
		t.Errorf("second finish: expected 409, got %d", w.Code)
	}
}

func TestFinishSurvivesClientDisconnect(t *testing.T) {
	srv := newTestServer(t, &replyModel{})
	do(t, srv, "POST", "/api/v1/owners/1/sessions", "")
	do(t, srv, "POST", "/api/v1/owners/1/sessions/messages", `{"text":"Busy day at work."}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/v1/owners/1/sessions/finish", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body)
	}
	if res := decode(t, w); res["journal_id"] != float64(9) {
		t.Errorf("expected journal 9, got %v", res["journal_id"])
	}
}

func TestSessionErrors(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"unknown owner", "POST", "/api/v1/owners/77/sessions", "", http.StatusNotFound},
		{"bad owner id", "POST", "/api/v1/owners/abc/sessions", "", http.StatusBadRequest},
		{"no session", "POST", "/api/v1/owners/2/sessions/messages", `{"text":"hi"}`, http.StatusConflict},
		{"empty text", "POST", "/api/v1/owners/2/sessions/messages", `{"text":"  "}`, http.StatusBadRequest},
		{"bad json", "POST", "/api/v1/owners/2/sessions/messages", `{`, http.StatusBadRequest},
		{"no transcript", "GET", "/api/v1/owners/2/sessions/transcript", "", http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, srv, tc.method, tc.path, tc.body); w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body)
			}
		})
	}

	do(t, srv, "POST", "/api/v1/owners/1/sessions", "")
	if w := do(t, srv, "POST", "/api/v1/owners/1/sessions", ""); w.Code != http.StatusConflict {
		t.Errorf("duplicate start: expected 409, got %d", w.Code)
	}
}

func TestProviderErrorsMapToGateway(t *testing.T) {
	model := &replyModel{}
	srv := newTestServer(t, model)
	do(t, srv, "POST", "/api/v1/owners/1/sessions", "")

	model.err = llm.ErrProvider
	if w := do(t, srv, "POST", "/api/v1/owners/1/sessions/messages", `{"text":"hello"}`); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", llm.ErrRateLimited):          http.StatusTooManyRequests,
		fmt.Errorf("x: %w", index.ErrIndexUnavailable):   http.StatusServiceUnavailable,
		fmt.Errorf("x: %w", maintenance.ErrNoTranscript): http.StatusUnprocessableEntity,
		errors.New("boom"):                               http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestStreamMessage(t *testing.T) {
	srv := newTestServer(t, &replyModel{})
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/owners/1/sessions", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/api/v1/owners/1/sessions/messages/stream", "application/json",
		strings.NewReader(`{"text":"Long day."}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var frags []string
	sawDone := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "event: done" {
			sawDone = true
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && !sawDone {
			var ev map[string]string
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("bad event %q: %v", data, err)
			}
			frags = append(frags, ev["text"])
		}
	}
	if !sawDone || strings.Join(frags, "") != "That sounds heavy." {
		t.Fatalf("unexpected stream: done=%v frags=%v", sawDone, frags)
	}

	w := do(t, srv, "GET", "/api/v1/owners/1/sessions/transcript", "")
	if decode(t, w)["turn_count"] != float64(3) {
		t.Error("drained stream should record the assistant turn")
	}
}

func TestJournalQueries(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	w := do(t, srv, "GET", "/api/v1/owners/1/journals", "")
	if decode(t, w)["count"] != float64(2) {
		t.Error("expected owner 1's two journals")
	}

	w = do(t, srv, "GET", "/api/v1/owners/1/journals?topic=Work", "")
	if decode(t, w)["count"] != float64(1) {
		t.Error("expected one work journal")
	}

	if w := do(t, srv, "GET", "/api/v1/owners/1/journals/3", ""); w.Code != http.StatusNotFound {
		t.Errorf("other owner's journal: expected 404, got %d", w.Code)
	}

	w = do(t, srv, "GET", "/api/v1/owners/1/journals/1/artifact", "")
	if w.Code != http.StatusOK || w.Body.String() != "# Journal Entry" {
		t.Errorf("unexpected artifact response %d %q", w.Code, w.Body)
	}

	w = do(t, srv, "GET", "/api/v1/owners/1/emotions/trends?days=30", "")
	trends := decode(t, w)
	if trends["days"] != float64(30) || trends["journals"] != float64(2) {
		t.Errorf("unexpected trends %v", trends)
	}
	dominant := trends["dominant"].([]any)
	if len(dominant) != 2 || dominant[0].(map[string]any)["name"] != "stress" {
		t.Errorf("unexpected dominant emotions %v", dominant)
	}

	w = do(t, srv, "GET", "/api/v1/owners/1/topics", "")
	if topics := decode(t, w)["topics"].([]any); len(topics) != 2 {
		t.Errorf("unexpected topics %v", topics)
	}
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	if w := do(t, srv, "GET", "/api/v1/owners/1/search", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: expected 400, got %d", w.Code)
	}
	w := do(t, srv, "GET", "/api/v1/owners/1/search?q=work&k=2", "")
	if hits := decode(t, w)["hits"].([]any); len(hits) != 1 {
		t.Errorf("unexpected hits %v", hits)
	}

	srv.deps.Index = hitIndex{err: index.ErrIndexUnavailable}
	if w := do(t, srv, "GET", "/api/v1/owners/1/search?q=work", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("index down: expected 503, got %d", w.Code)
	}
}

func TestMaintenanceRoutes(t *testing.T) {
	srv := newTestServer(t, &replyModel{})

	if w := do(t, srv, "POST", "/api/v1/owners/1/journals/1/rescore", ""); w.Code != http.StatusOK {
		t.Errorf("rescore: expected 200, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/owners/1/journals/404/rescore", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("rescore without transcript: expected 422, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/owners/1/journals/1/retag", ""); w.Code != http.StatusOK {
		t.Errorf("retag: expected 200, got %d", w.Code)
	}
	w := do(t, srv, "POST", "/api/v1/maintenance/repair", "")
	if decode(t, w)["indexed"] != float64(3) {
		t.Error("expected repair result")
	}

	srv.deps.Maintenance = nil
	if w := do(t, srv, "POST", "/api/v1/maintenance/repair", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without maintenance, got %d", w.Code)
	}
}
