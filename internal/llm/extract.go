package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const extractionTemperature = 0.3

const extractionSystem = `You return only valid JSON. Do not include any prose, explanation or markdown around the JSON value.`

var (
	openFence  = regexp.MustCompile("^```(?:json|JSON)?[ \t]*\n?")
	closeFence = regexp.MustCompile("\n?```\\s*$")
)

// StripCodeFence removes a surrounding ``` or ```json fence, if present.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ExtractStructured asks the model for JSON matching schemaHint and decodes it
// into out. Unparseable output yields ErrExtractionFailed; provider failures
// are returned as from Generate.
func (g *Gateway) ExtractStructured(ctx context.Context, prompt, schemaHint string, out any) error {
	content := prompt
	if schemaHint != "" {
		content += "\n\nReturn ONLY JSON of this shape: " + schemaHint
	}

	raw, err := g.Generate(ctx, extractionSystem, []Message{{Role: "user", Content: content}}, Options{
		Temperature: extractionTemperature,
		MaxTokens:   512,
	})
	if err != nil {
		return err
	}

	cleaned := StripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		g.logger.Warn("failed to parse structured output", "error", err, "raw", raw)
		return fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return nil
}
