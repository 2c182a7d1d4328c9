package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// finishTimeout bounds journal synthesis once it is detached from the request.
const finishTimeout = 2 * time.Minute

type startRequest struct {
	CallRef string `json:"call_ref"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func decodeMessage(r *http.Request) (string, error) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", errors.New("text is required")
	}
	return text, nil
}

// startSession handles POST /api/v1/owners/{ownerID}/sessions
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	opening, err := s.deps.Conversation.Start(r.Context(), ownerID, req.CallRef)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"owner_id": ownerID, "opening": opening})
}

// sendMessage handles POST /api/v1/owners/{ownerID}/sessions/messages
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := decodeMessage(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.deps.Conversation.Advance(r.Context(), ownerID, text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// streamMessage handles POST /api/v1/owners/{ownerID}/sessions/messages/stream
// as server-sent events: one "data" event per fragment, then "done". A
// client that disconnects mid-reply cancels it.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := decodeMessage(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := s.deps.Conversation.AdvanceStream(r.Context(), ownerID, text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		if r.Context().Err() != nil {
			return
		}
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprint(w, "event: done\ndata: {}\n\n")
			flusher.Flush()
			return
		}
		if err != nil {
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			return
		}
		payload, _ := json.Marshal(map[string]string{"text": frag})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// finishSession handles POST /api/v1/owners/{ownerID}/sessions/finish. The
// journal is written even if the client goes away mid-request.
func (s *Server) finishSession(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finishTimeout)
	defer cancel()
	res, err := s.deps.Conversation.Finish(ctx, ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// transcript handles GET /api/v1/owners/{ownerID}/sessions/transcript
func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "ownerID")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := s.deps.Conversation.Transcript(ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns, "turn_count": len(turns)})
}
