package usecase

import (
	"strings"

	"relay-ai/internal/domain"
)

// ComplexityClassifier buckets an inbound message into simple/medium/complex
// for selection weighting. Pure function over the text; swappable behind the
// interface for a learned classifier later.
type ComplexityClassifier interface {
	Classify(text string) domain.Complexity
}

// HeuristicClassifier classifies on length and complexity markers.
type HeuristicClassifier struct{}

var complexMarkers = []string{
	"analyze", "compare", "explain in detail", "step by step", "integrate",
	"migrate", "architecture", "debug", "reproduce", "stack trace",
	"comprehensive", "deep dive", "investigate",
}

var mediumMarkers = []string{
	"how do i", "why does", "what happens", "configure", "difference between",
	"troubleshoot", "error",
}

// Classify buckets the message. Short messages with no markers are simple;
// explicit reasoning or multi-part asks are complex.
func (HeuristicClassifier) Classify(text string) domain.Complexity {
	lower := strings.ToLower(text)

	for _, m := range complexMarkers {
		if strings.Contains(lower, m) {
			return domain.ComplexityComplex
		}
	}
	if len(text) > 600 || strings.Count(text, "?") >= 3 {
		return domain.ComplexityComplex
	}

	for _, m := range mediumMarkers {
		if strings.Contains(lower, m) {
			return domain.ComplexityMedium
		}
	}
	if len(text) > 200 {
		return domain.ComplexityMedium
	}

	return domain.ComplexitySimple
}
