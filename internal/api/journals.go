package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeErr(w, http.StatusServiceUnavailable, what+" not configured")
}

// listJournals handles GET /api/v1/owners/{ownerID}/journals[?topic=&limit=]
func (s *Server) listJournals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journals == nil {
		s.unavailable(w, "journal store")
		return
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := queryInt(r, "limit", defaultListLimit, maxListLimit)

	var journals []domain.Journal
	if topic := strings.TrimSpace(r.URL.Query().Get("topic")); topic != "" {
		journals, err = s.deps.Journals.JournalsByTopic(r.Context(), ownerID, strings.ToLower(topic), limit)
	} else {
		journals, err = s.deps.Journals.ListJournals(r.Context(), ownerID, limit)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if journals == nil {
		journals = []domain.Journal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": journals, "count": len(journals)})
}

// getJournal handles GET /api/v1/owners/{ownerID}/journals/{journalID}
func (s *Server) getJournal(w http.ResponseWriter, r *http.Request) {
	j, ok := s.loadJournal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// readArtifact handles GET /api/v1/owners/{ownerID}/journals/{journalID}/artifact
func (s *Server) readArtifact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Artifacts == nil {
		s.unavailable(w, "artifact store")
		return
	}
	j, ok := s.loadJournal(w, r)
	if !ok {
		return
	}
	content, err := s.deps.Artifacts.Read(r.Context(), j.ArtifactPath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

func (s *Server) loadJournal(w http.ResponseWriter, r *http.Request) (*domain.Journal, bool) {
	if s.deps.Journals == nil {
		s.unavailable(w, "journal store")
		return nil, false
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	journalID, err := pathID(r, "journalID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	j, err := s.deps.Journals.GetJournal(r.Context(), ownerID, journalID)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return j, true
}

// search handles GET /api/v1/owners/{ownerID}/search?q=&k=
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		s.unavailable(w, "retrieval index")
		return
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, "q is required")
		return
	}

	hits, err := s.deps.Index.Search(r.Context(), q, ownerID, queryInt(r, "k", 5, 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": hits})
}

// emotionTrends handles GET /api/v1/owners/{ownerID}/emotions/trends?days=
func (s *Server) emotionTrends(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journals == nil {
		s.unavailable(w, "journal store")
		return
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	days := queryInt(r, "days", 7, 365)
	since := time.Now().UTC().AddDate(0, 0, -days)

	avg, n, err := s.deps.Journals.EmotionAverages(r.Context(), ownerID, since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"journals": n,
		"averages": avg,
		"dominant": avg.Top(3),
	})
}

// topicFrequency handles GET /api/v1/owners/{ownerID}/topics?limit=
func (s *Server) topicFrequency(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journals == nil {
		s.unavailable(w, "journal store")
		return
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	topics, err := s.deps.Journals.TopicFrequency(r.Context(), ownerID, queryInt(r, "limit", 10, 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// rescore handles POST /api/v1/owners/{ownerID}/journals/{journalID}/rescore
func (s *Server) rescore(w http.ResponseWriter, r *http.Request) {
	ownerID, journalID, ok := s.maintenanceTarget(w, r)
	if !ok {
		return
	}
	emotions, err := s.deps.Maintenance.Rescore(r.Context(), ownerID, journalID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journal_id": journalID, "emotions": emotions})
}

// retag handles POST /api/v1/owners/{ownerID}/journals/{journalID}/retag
func (s *Server) retag(w http.ResponseWriter, r *http.Request) {
	ownerID, journalID, ok := s.maintenanceTarget(w, r)
	if !ok {
		return
	}
	topics, err := s.deps.Maintenance.Retag(r.Context(), ownerID, journalID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journal_id": journalID, "topics": topics})
}

// repair handles POST /api/v1/maintenance/repair?limit=
func (s *Server) repair(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		s.unavailable(w, "maintenance")
		return
	}
	res, err := s.deps.Maintenance.Repair(r.Context(), queryInt(r, "limit", 100, 1000))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) maintenanceTarget(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	if s.deps.Maintenance == nil {
		s.unavailable(w, "maintenance")
		return 0, 0, false
	}
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	journalID, err := pathID(r, "journalID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return ownerID, journalID, true
}
