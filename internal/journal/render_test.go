package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

func TestRenderTranscript(t *testing.T) {
	got := RenderTranscript([]domain.Turn{
		{Role: domain.RoleAssistant, Content: "Hi"},
		{Role: domain.RoleUser, Content: "Hello"},
	})
	if got != "ASSISTANT: Hi\nUSER: Hello" {
		t.Errorf("unexpected rendering %q", got)
	}
}

func TestSanitizeProse(t *testing.T) {
	in := "# My Day\n\n```\ncode\n```\n- I went for a **long** walk.\n* It helped.\n> Quote"
	got := SanitizeProse(in)
	for _, bad := range []string{"#", "```", "**", "- ", "* ", "> "} {
		if strings.Contains(got, bad) {
			t.Errorf("sanitized text still contains %q: %q", bad, got)
		}
	}
	if !strings.Contains(got, "I went for a long walk.") {
		t.Errorf("lost prose content: %q", got)
	}
}

func TestRenderArtifact_SectionOrder(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	doc := RenderArtifact(at, "I rested.", domain.Topics{"work", "stress"},
		domain.EmotionsFromMap(map[string]float64{"stress": 0.5}), 42)

	sections := []string{
		"# Journal Entry - January 02, 2026, 03:04 PM",
		"## Session Summary",
		"I rested.",
		"## Topics Discussed",
		"work, stress",
		"## Emotional State",
		"Stress (50%)",
		"*Duration: 42 seconds*",
	}
	last := -1
	for _, s := range sections {
		i := strings.Index(doc, s)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", s, doc)
		}
		if i <= last {
			t.Errorf("%q out of order", s)
		}
		last = i
	}
}

func TestFileArtifacts_CollisionFree(t *testing.T) {
	root := t.TempDir()
	fa := NewFileArtifacts(root)
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		path, err := fa.Save(context.Background(), 3, at, "entry")
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if seen[path] {
			t.Fatalf("duplicate artifact path %s", path)
		}
		seen[path] = true
		if filepath.Dir(path) != filepath.Join(root, "2026-05-06") {
			t.Errorf("unexpected directory for %s", path)
		}
		if !strings.Contains(filepath.Base(path), "journal_owner3_") {
			t.Errorf("path not namespaced by owner: %s", path)
		}
	}

	body, err := fa.Read(context.Background(), func() string {
		for p := range seen {
			return p
		}
		return ""
	}())
	if err != nil || body != "entry" {
		t.Errorf("Read returned %q, %v", body, err)
	}
}
