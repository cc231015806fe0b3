package conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/operantlabs/operant/pkg/models"
)

// Estimator approximates token counts for window sizing. It uses the
// cl100k_base BPE when the dictionary is available and falls back to a
// bytes/4 heuristic when it is not (offline environments).
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates a lazy estimator; the encoding loads on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the approximate token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})

	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// recordOverheadTokens covers role and message framing per record.
const recordOverheadTokens = 4

// CountRecords sums the token estimate across a history, including a small
// per-record envelope overhead.
func (e *Estimator) CountRecords(records []models.ConversationRecord) int {
	total := 0
	for _, rec := range records {
		total += e.Count(rec.Content) + recordOverheadTokens
	}
	return total
}

// heuristicTokens approximates one token per four bytes of text.
func heuristicTokens(text string) int {
	return (len(text) + 3) / 4
}
