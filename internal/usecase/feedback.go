package usecase

import (
	"strings"

	"relay-ai/internal/domain"
)

// TurnScorer computes post-hoc feedback for a completed turn. Explainable
// heuristics, not a learned model; behind an interface so one can replace it.
type TurnScorer interface {
	Score(userMessage, response string, conversationLength int) domain.TurnScore
}

// HeuristicScorer scores on response shape, uncertainty markers, and the
// customer's tone.
type HeuristicScorer struct {
	Sentiment SentimentScorer
}

var uncertaintyMarkers = []string{
	"i'm not sure", "i am not sure", "i cannot", "i can't help",
	"i don't know", "unable to", "as an ai",
}

// Score returns quality and escalation risk, both in [0, 1].
func (h HeuristicScorer) Score(userMessage, response string, conversationLength int) domain.TurnScore {
	lower := strings.ToLower(response)

	quality := 0.8
	switch {
	case len(response) < 20:
		quality -= 0.3 // suspiciously curt
	case len(response) > 2500:
		quality -= 0.1 // rambling
	}
	for _, m := range uncertaintyMarkers {
		if strings.Contains(lower, m) {
			quality -= 0.2
			break
		}
	}
	if strings.Contains(lower, "sorry") || strings.Contains(lower, "apolog") {
		quality -= 0.1
	}

	risk := 0.1
	if h.Sentiment != nil {
		if s := h.Sentiment.Score(userMessage); s < 0 {
			risk += -s * 0.5
		}
	}
	for _, m := range uncertaintyMarkers {
		if strings.Contains(lower, m) {
			risk += 0.2
			break
		}
	}
	// Long conversations that still need answers trend toward escalation.
	if conversationLength > 20 {
		risk += 0.2
	} else if conversationLength > 10 {
		risk += 0.1
	}

	return domain.TurnScore{
		QualityScore:   clamp01(quality),
		EscalationRisk: clamp01(risk),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
