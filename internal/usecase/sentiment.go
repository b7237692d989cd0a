package usecase

import "strings"

// SentimentScorer scores text in [-1, 1]; negative means upset. Kept behind
// an interface so a learned model can replace the keyword heuristic without
// touching the state machine.
type SentimentScorer interface {
	Score(text string) float64
}

// KeywordSentiment is a pure keyword-counting sentiment proxy.
type KeywordSentiment struct{}

var negativeWords = []string{
	"angry", "furious", "terrible", "awful", "horrible", "useless",
	"ridiculous", "unacceptable", "worst", "hate", "frustrated",
	"disappointed", "waste of time", "not working", "broken", "scam",
	"cancel my", "refund",
}

var positiveWords = []string{
	"thanks", "thank you", "great", "perfect", "awesome", "helpful",
	"love", "excellent", "works", "solved", "appreciate",
}

// Score counts positive and negative markers and normalizes the balance.
func (KeywordSentiment) Score(text string) float64 {
	lower := strings.ToLower(text)

	var pos, neg int
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}

	// Shouting and stacked punctuation read as agitation.
	if strings.Contains(text, "!!") || strings.Contains(lower, "??") {
		neg++
	}

	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
