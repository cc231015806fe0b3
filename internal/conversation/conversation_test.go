package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/operantlabs/operant/pkg/models"
)

func seedStore(t *testing.T, n int) *Store {
	t.Helper()
	store := NewStore(0)
	store.Append(models.NewSystemPrompt("system prompt"))
	for i := 0; i < n; i++ {
		store.Append(models.NewRecord(models.RoleUser, fmt.Sprintf("message %d", i)))
	}
	return store
}

func TestStore_AppendHistoryClones(t *testing.T) {
	store := NewStore(0)
	rec := models.NewRecord(models.RoleUser, "hello")
	rec.Files = []string{"a.txt"}
	store.Append(rec)

	history := store.History()
	history[0].Content = "mutated"
	history[0].Files[0] = "b.txt"

	fresh := store.History()
	if fresh[0].Content != "hello" {
		t.Error("History must return copies, got mutated content")
	}
	if fresh[0].Files[0] != "a.txt" {
		t.Error("History must deep-copy files")
	}
}

func TestStore_TrimKeepsFirstAndTail(t *testing.T) {
	store := seedStore(t, 20)

	store.Trim(10)

	history := store.History()
	// first + marker + last 10/2
	if len(history) != 7 {
		t.Fatalf("len(history) = %d, want 7", len(history))
	}
	if !history[0].IsSystemPrompt {
		t.Error("first record must survive the trim")
	}
	if history[1].Content != TruncationMarker {
		t.Errorf("second record = %q, want truncation marker", history[1].Content)
	}
	if history[len(history)-1].Content != "message 19" {
		t.Errorf("last record = %q, want message 19", history[len(history)-1].Content)
	}
	if history[2].Content != "message 15" {
		t.Errorf("tail start = %q, want message 15", history[2].Content)
	}
}

func TestStore_TrimNoopUnderLimit(t *testing.T) {
	store := seedStore(t, 5)
	store.Trim(10)
	if store.Len() != 6 {
		t.Errorf("Len = %d, want 6 (no trim)", store.Len())
	}
}

func TestStore_TrimEvictsOverTokenBudget(t *testing.T) {
	filler := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 8000)

	store := NewStore(0)
	store.Append(models.NewSystemPrompt("system prompt"))
	store.Append(models.NewRecord(models.RoleUser, "A: "+filler))
	store.Append(models.NewRecord(models.RoleAssistant, "B: "+filler))
	store.Append(models.NewRecord(models.RoleUser, "recent tail"))

	// Four records are far under any count limit; only the token rule
	// can fire.
	store.Trim(50)

	history := store.History()
	if !history[0].IsSystemPrompt {
		t.Error("first record must survive the trim")
	}
	if history[1].Content != TruncationMarker {
		t.Errorf("second record = %q, want truncation marker", history[1].Content)
	}
	if last := history[len(history)-1]; last.Content != "recent tail" {
		t.Errorf("last record = %q, want recent tail", last.Content)
	}
	for _, rec := range history {
		if strings.HasPrefix(rec.Content, "A: ") {
			t.Error("oldest oversized record survived the token trim")
		}
	}
	if got := store.TokenEstimate(); got > TrimTokenBudget {
		t.Errorf("TokenEstimate after trim = %d, want <= %d", got, TrimTokenBudget)
	}
}

func TestStore_Summarize(t *testing.T) {
	store := NewStore(0)
	store.Append(models.NewSystemPrompt("system"))

	old := models.NewRecord(models.RoleAssistant, "long old content")
	old.ShouldSummarize = true
	store.Append(old)

	skipped := models.NewRecord(models.RoleAssistant, "not summarizable")
	store.Append(skipped)

	for i := 0; i < 3; i++ {
		rec := models.NewRecord(models.RoleUser, fmt.Sprintf("recent %d", i))
		rec.ShouldSummarize = true
		store.Append(rec)
	}

	summarize := func(ctx context.Context, content string) (string, error) {
		return "short", nil
	}

	// Detail window of 3 keeps the last 3 records verbatim.
	if err := store.Summarize(context.Background(), 3, summarize); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	history := store.History()
	if history[1].Content != SummaryPrefix+"short" {
		t.Errorf("record 1 = %q, want summarized", history[1].Content)
	}
	if !history[1].Summarized {
		t.Error("record 1 should be flagged summarized")
	}
	if history[2].Content != "not summarizable" {
		t.Error("records without should_summarize must not be rewritten")
	}
	for i := 3; i < 6; i++ {
		if strings.HasPrefix(history[i].Content, SummaryPrefix) {
			t.Errorf("record %d inside detail window was summarized", i)
		}
	}

	// Second pass is a no-op for already summarized records.
	calls := 0
	counting := func(ctx context.Context, content string) (string, error) {
		calls++
		return "again", nil
	}
	if err := store.Summarize(context.Background(), 3, counting); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if calls != 0 {
		t.Errorf("summarizer called %d times on second pass, want 0", calls)
	}
}

func TestStore_SummarizeDisabled(t *testing.T) {
	store := seedStore(t, 10)
	history := store.History()
	for i := range history {
		history[i].ShouldSummarize = true
	}
	store.SetHistory(history)

	called := false
	summarize := func(ctx context.Context, content string) (string, error) {
		called = true
		return "", nil
	}

	if err := store.Summarize(context.Background(), -1, summarize); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if called {
		t.Error("detail=-1 must disable summarization")
	}
}

func TestStore_SummarizeError(t *testing.T) {
	store := NewStore(0)
	store.Append(models.NewSystemPrompt("system"))
	rec := models.NewRecord(models.RoleUser, "content")
	rec.ShouldSummarize = true
	store.Append(rec)
	store.Append(models.NewRecord(models.RoleUser, "tail"))

	summarize := func(ctx context.Context, content string) (string, error) {
		return "", errors.New("model unavailable")
	}

	if err := store.Summarize(context.Background(), 1, summarize); err == nil {
		t.Fatal("expected summarizer error to propagate")
	}

	if store.History()[1].Summarized {
		t.Error("failed summarization must not mark the record")
	}
}

func TestStore_AppendEphemeralKeepsOne(t *testing.T) {
	store := seedStore(t, 3)

	store.AppendEphemeral("hud v1")
	store.AppendEphemeral("hud v2")

	history := store.History()
	ephemeral := 0
	for _, rec := range history {
		if rec.Ephemeral {
			ephemeral++
		}
	}
	if ephemeral != 1 {
		t.Fatalf("ephemeral records = %d, want exactly 1", ephemeral)
	}

	last := history[len(history)-1]
	if !last.Ephemeral || last.Content != "hud v2" {
		t.Errorf("last record = %+v, want current ephemeral hud v2", last)
	}
	if last.Role != models.RoleUser {
		t.Errorf("ephemeral role = %q, want user", last.Role)
	}
}

func TestStore_MarkCacheHints(t *testing.T) {
	store := seedStore(t, 8)
	store.AppendEphemeral("hud")

	store.MarkCacheHints()

	history := store.History()
	var cached []int
	for i, rec := range history {
		if rec.ShouldCache {
			cached = append(cached, i)
		}
	}
	if len(cached) != CacheHintCount {
		t.Fatalf("cached records = %d, want %d", len(cached), CacheHintCount)
	}
	// The ephemeral tail record is skipped; the 4 before it are marked.
	for _, idx := range cached {
		if history[idx].IsSystemPrompt || history[idx].Ephemeral {
			t.Errorf("record %d is not cacheable but was marked", idx)
		}
	}
	if cached[len(cached)-1] != len(history)-2 {
		t.Errorf("latest cached record = %d, want %d", cached[len(cached)-1], len(history)-2)
	}

	// Re-marking after growth moves the window, old hints cleared.
	store.Append(models.NewRecord(models.RoleUser, "newest"))
	store.MarkCacheHints()
	history = store.History()
	count := 0
	for _, rec := range history {
		if rec.ShouldCache {
			count++
		}
	}
	if count != CacheHintCount {
		t.Errorf("cached records after re-mark = %d, want %d", count, CacheHintCount)
	}
}

func TestStore_Learnings(t *testing.T) {
	store := NewStore(3)

	store.AddLearning("first")
	store.AddLearning("first") // duplicate
	store.AddLearning("  ")    // blank
	store.AddLearning("second")

	got := store.Learnings()
	if len(got) != 2 {
		t.Fatalf("learnings = %v, want 2 entries", got)
	}

	store.AddLearning("third")
	store.AddLearning("fourth")

	got = store.Learnings()
	if len(got) != 3 {
		t.Fatalf("learnings = %v, want capped at 3", got)
	}
	if got[0] != "second" {
		t.Errorf("oldest surviving learning = %q, want second (FIFO)", got[0])
	}
}

func TestEstimator_Count(t *testing.T) {
	est := NewEstimator()

	if got := est.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}

	short := est.Count("hi")
	long := est.Count(strings.Repeat("the quick brown fox ", 50))
	if short <= 0 {
		t.Errorf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("longer text should estimate more tokens: %d <= %d", long, short)
	}
}

func TestHeuristicTokens(t *testing.T) {
	if got := heuristicTokens("abcdefgh"); got != 2 {
		t.Errorf("heuristicTokens(8 bytes) = %d, want 2", got)
	}
	if got := heuristicTokens("abc"); got != 1 {
		t.Errorf("heuristicTokens(3 bytes) = %d, want 1", got)
	}
}
