package provider

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackBytesPerToken approximates English chat text when no encoding is
// available.
const fallbackBytesPerToken = 4

// TiktokenEstimator counts tokens with a BPE encoding, falling back to a
// bytes/4 heuristic when the encoding cannot be loaded (offline hosts).
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator for the given model. An unknown
// model falls back to cl100k_base, then to the byte heuristic.
func NewTiktokenEstimator(model string, logger *slog.Logger) *TiktokenEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("token encoding unavailable, using byte heuristic", "model", model, "error", err)
		return &TiktokenEstimator{}
	}
	return &TiktokenEstimator{enc: enc}
}

// Estimate returns the approximate token count of text.
func (e *TiktokenEstimator) Estimate(text string) int {
	if e.enc == nil {
		return len(text) / fallbackBytesPerToken
	}
	return len(e.enc.Encode(text, nil, nil))
}
