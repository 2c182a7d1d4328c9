package journal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

// RenderTranscript formats turns as "ROLE: content" lines in dialogue order.
// The same text feeds both the summary and the emotion prompts.
func RenderTranscript(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// SanitizeProse removes markup the model was told not to produce: fenced
// code lines, heading/list/quote markers and emphasis asterisks.
func SanitizeProse(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		for {
			stripped := strings.TrimLeft(trimmed, "#*->")
			stripped = strings.TrimSpace(stripped)
			if stripped == trimmed {
				break
			}
			trimmed = stripped
		}
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		trimmed = strings.ReplaceAll(trimmed, "__", "")
		out = append(out, trimmed)
	}
	text := strings.Join(out, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// RenderArtifact produces the human-readable journal document. Section
// order is fixed: header, summary, topics, emotional state, duration footer.
func RenderArtifact(at time.Time, summary string, topics domain.Topics, emotions domain.Emotions, durationSeconds int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Journal Entry - %s\n\n", at.Format("January 02, 2006, 03:04 PM"))

	b.WriteString("## Session Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n")

	b.WriteString("## Topics Discussed\n\n")
	if len(topics) == 0 {
		b.WriteString("General reflection")
	} else {
		b.WriteString(topics.String())
	}
	b.WriteString("\n\n")

	b.WriteString("## Emotional State\n\n")
	b.WriteString(emotionLine(emotions))
	b.WriteString("\n\n")

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*Duration: %d seconds*\n", durationSeconds)
	return b.String()
}

func emotionLine(e domain.Emotions) string {
	top := e.Top(3)
	if len(top) == 0 {
		return "Neutral"
	}
	parts := make([]string, len(top))
	for i, s := range top {
		parts[i] = fmt.Sprintf("%s (%d%%)", capitalize(s.Name), int(math.Round(s.Score*100)))
	}
	return strings.Join(parts, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
