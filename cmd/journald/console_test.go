package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

func TestPrintFinish_ShortSession(t *testing.T) {
	var buf bytes.Buffer
	printFinish(&buf, &conversation.FinishResult{SessionID: 3, TurnCount: 2, DurationSeconds: 40})

	out := buf.String()
	if !strings.Contains(out, "session 3 finished after 2 turns (40s)") {
		t.Errorf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "too short") {
		t.Errorf("expected short-session note, got %q", out)
	}
}

func TestPrintFinish_WithJournal(t *testing.T) {
	id := int64(12)
	emotions := domain.EmotionsFromMap(map[string]float64{"stress": 0.8, "relief": 0.1})
	var buf bytes.Buffer
	printFinish(&buf, &conversation.FinishResult{
		SessionID:    3,
		TurnCount:    6,
		JournalID:    &id,
		Topics:       domain.Topics{"work", "sleep"},
		Emotions:     &emotions,
		ArtifactPath: "journals/2026-10-19/journal_owner1_200000_abcd1234.md",
		Degraded:     true,
	})

	out := buf.String()
	for _, want := range []string{"journal 12 saved", "topics: work, sleep", "stress", "see logs"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
