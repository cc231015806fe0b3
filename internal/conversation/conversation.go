// Package conversation owns the message history an executor sends to the
// model: windowing, summarization, ephemeral context, cache hints, and the
// agent's learnings notepad.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/operantlabs/operant/pkg/models"
)

// TruncationMarker is inserted where older history was evicted.
const TruncationMarker = "[Some conversation history has been truncated for brevity]"

// SummaryPrefix tags records whose content was rewritten by the summarizer.
const SummaryPrefix = "[SUMMARY] "

// DefaultMaxLearnings caps the learnings notepad.
const DefaultMaxLearnings = 50

// CacheHintCount is how many trailing records get a prompt-cache hint.
const CacheHintCount = 4

// TrimTokenBudget is the estimated token footprint a history may keep
// after a trim. It leaves headroom inside a 200k model context.
const TrimTokenBudget = 120000

// Summarizer condenses one record's content. Implemented by a model call
// in the executor; injected here so the store stays transport-free.
type Summarizer func(ctx context.Context, content string) (string, error)

// Store holds one agent's conversation state. It is safe for concurrent
// use; reads return deep copies.
type Store struct {
	mu           sync.RWMutex
	records      []models.ConversationRecord
	learnings    []string
	maxLearnings int
	estimator    *Estimator
}

// NewStore creates an empty store. maxLearnings <= 0 takes the default.
func NewStore(maxLearnings int) *Store {
	if maxLearnings <= 0 {
		maxLearnings = DefaultMaxLearnings
	}
	return &Store{maxLearnings: maxLearnings, estimator: NewEstimator()}
}

// Append adds a record to the history.
func (s *Store) Append(rec models.ConversationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// History returns a deep copy of the current history.
func (s *Store) History() []models.ConversationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneConversation(s.records)
}

// SetHistory replaces the history wholesale.
func (s *Store) SetHistory(records []models.ConversationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = models.CloneConversation(records)
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// First returns the lead record (the system prompt) and whether one exists.
func (s *Store) First() (models.ConversationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return models.ConversationRecord{}, false
	}
	return s.records[0].Clone(), true
}

// Trim evicts older history once it outgrows maxWindow. The first record
// is always kept; a single marker record notes the eviction; the last
// maxWindow/2 records survive. No-op on the record-count rule while
// len(history)-1 <= maxWindow, but a history whose estimated token
// footprint exceeds TrimTokenBudget is trimmed regardless.
func (s *Store) Trim(maxWindow int) {
	if maxWindow <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records)-1 > maxWindow {
		keep := maxWindow / 2
		tail := s.records[len(s.records)-keep:]

		trimmed := make([]models.ConversationRecord, 0, keep+2)
		trimmed = append(trimmed, s.records[0])
		trimmed = append(trimmed, models.NewRecord(models.RoleSystem, TruncationMarker))
		trimmed = append(trimmed, tail...)
		s.records = trimmed
	}

	s.trimTokensLocked()
}

// trimTokensLocked evicts oldest-first after the lead record until the
// estimated token footprint fits TrimTokenBudget. A few short records can
// blow past the count rule when single records are enormous (pasted logs,
// file dumps); this rule catches those.
func (s *Store) trimTokensLocked() {
	tokens := s.estimator.CountRecords(s.records)
	if tokens <= TrimTokenBudget || len(s.records) <= 2 {
		return
	}

	i := 1
	for i < len(s.records)-1 && tokens > TrimTokenBudget {
		tokens -= s.estimator.Count(s.records[i].Content) + recordOverheadTokens
		i++
	}

	trimmed := make([]models.ConversationRecord, 0, len(s.records)-i+2)
	trimmed = append(trimmed, s.records[0])
	trimmed = append(trimmed, models.NewRecord(models.RoleSystem, TruncationMarker))
	trimmed = append(trimmed, s.records[i:]...)
	s.records = trimmed
}

// TokenEstimate returns the approximate token footprint of the history.
func (s *Store) TokenEstimate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimator.CountRecords(s.records)
}

// Summarize rewrites records that have aged out of the detail window.
// The detail window is the last `detail` records; detail == -1 disables
// summarization entirely. Only records flagged should_summarize and not
// yet summarized are rewritten; the system prompt and ephemeral records
// are never touched.
func (s *Store) Summarize(ctx context.Context, detail int, summarize Summarizer) error {
	if detail == -1 || summarize == nil {
		return nil
	}

	s.mu.Lock()
	end := len(s.records) - detail
	if end < 1 {
		s.mu.Unlock()
		return nil
	}
	// Snapshot eligible indices so the model calls happen unlocked.
	type target struct {
		idx     int
		content string
	}
	var targets []target
	for i := 1; i < end; i++ {
		rec := s.records[i]
		if rec.IsSystemPrompt || rec.Ephemeral || rec.Summarized || !rec.ShouldSummarize {
			continue
		}
		targets = append(targets, target{idx: i, content: rec.Content})
	}
	s.mu.Unlock()

	for _, tg := range targets {
		summary, err := summarize(ctx, tg.content)
		if err != nil {
			return fmt.Errorf("failed to summarize record %d: %w", tg.idx, err)
		}

		s.mu.Lock()
		// History may have shifted while unlocked; verify the target.
		if tg.idx < len(s.records) && s.records[tg.idx].Content == tg.content {
			s.records[tg.idx].Content = SummaryPrefix + summary
			s.records[tg.idx].Summarized = true
		}
		s.mu.Unlock()
	}
	return nil
}

// PurgeEphemeral drops all ephemeral records from the history.
func (s *Store) PurgeEphemeral() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, rec := range s.records {
		if !rec.Ephemeral {
			kept = append(kept, rec)
		}
	}
	s.records = kept
}

// AppendEphemeral purges prior ephemeral records and appends content as a
// single ephemeral user record, so exactly one is live at a time.
func (s *Store) AppendEphemeral(content string) {
	s.PurgeEphemeral()

	rec := models.NewRecord(models.RoleUser, content)
	rec.Ephemeral = true

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// cacheEligible reports whether a record may carry a prompt-cache hint.
// System prompts and ephemeral records never do: both are rewritten or
// repositioned between requests.
func cacheEligible(rec models.ConversationRecord) bool {
	return !rec.IsSystemPrompt && !rec.Ephemeral
}

// MarkCacheHints flags the last CacheHintCount eligible records with
// should_cache and clears the flag everywhere else. The flag is a
// per-request annotation, recomputed on every pass, not a persistent
// property of the record.
func (s *Store) MarkCacheHints() {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := &s.records[i]
		if !cacheEligible(*rec) || marked >= CacheHintCount {
			rec.ShouldCache = false
			continue
		}
		rec.ShouldCache = true
		marked++
	}
}

// AddLearning appends to the learnings notepad. Blank and duplicate
// entries are dropped; the notepad is FIFO-capped.
func (s *Store) AddLearning(learning string) {
	learning = strings.TrimSpace(learning)
	if learning == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.learnings {
		if existing == learning {
			return
		}
	}

	s.learnings = append(s.learnings, learning)
	if len(s.learnings) > s.maxLearnings {
		s.learnings = s.learnings[len(s.learnings)-s.maxLearnings:]
	}
}

// Learnings returns a copy of the notepad.
func (s *Store) Learnings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.learnings))
	copy(out, s.learnings)
	return out
}

// SetLearnings replaces the notepad, reapplying the cap.
func (s *Store) SetLearnings(learnings []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(learnings) > s.maxLearnings {
		learnings = learnings[len(learnings)-s.maxLearnings:]
	}
	s.learnings = make([]string, len(learnings))
	copy(s.learnings, learnings)
}
