package ai

import (
	"encoding/json"
	"strings"

	"docuchat/pkg/domain"
)

// FallbackAnalysis is the fixed structure substituted when the model
// output cannot be parsed. Availability over correctness: the document
// stays usable for chat even when structured analysis fails.
func FallbackAnalysis() domain.Analysis {
	return domain.Analysis{
		Summary:   "Document analysis could not be completed automatically.",
		KeyPoints: []string{"The document was processed but structured analysis is unavailable."},
		Sentiment: "neutral",
		Keywords:  []string{},
		Entities:  []string{},
	}
}

// ParseAnalysis extracts the analysis JSON object from completion text.
// The object may be wrapped in a ```json fence, an unmarked fence, or be
// the whole text. Parse failures never propagate; the fixed fallback is
// returned instead, with ok=false so callers can log the miss.
func ParseAnalysis(text string) (domain.Analysis, bool) {
	candidate := extractJSON(text)
	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(candidate), &analysis); err != nil {
		return FallbackAnalysis(), false
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return FallbackAnalysis(), false
	}
	if analysis.KeyPoints == nil {
		analysis.KeyPoints = []string{}
	}
	if analysis.Keywords == nil {
		analysis.Keywords = []string{}
	}
	if analysis.Entities == nil {
		analysis.Entities = []string{}
	}
	if strings.TrimSpace(analysis.Sentiment) == "" {
		analysis.Sentiment = "neutral"
	}
	return analysis, true
}

// extractJSON returns the interior of a fenced code block when present,
// otherwise the trimmed input.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return text
}
