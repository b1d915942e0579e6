package conversation

import (
	"testing"

	"github.com/antoniostano/aria/internal/policy"
)

func TestBeginTurnCreatesPlaceholder(t *testing.T) {
	s := NewState(nil)
	s.BeginTurn("u1", RoleUser, "")

	turns := s.Snapshot()
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Resolved {
		t.Fatal("placeholder should be unresolved")
	}
	if ids := s.PendingIDs(); len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("PendingIDs() = %v, want [u1]", ids)
	}
}

func TestBeginTurnWithTranscriptIsResolved(t *testing.T) {
	s := NewState(nil)
	s.BeginTurn("u1", RoleUser, "hello")

	turns := s.Snapshot()
	if !turns[0].Resolved || turns[0].Text != "hello" {
		t.Fatalf("turn = %+v, want resolved with text", turns[0])
	}
	if len(s.PendingIDs()) != 0 {
		t.Fatal("resolved turn must not be pending")
	}
}

func TestBeginTurnIgnoresDuplicates(t *testing.T) {
	s := NewState(nil)
	s.BeginTurn("u1", RoleUser, "hello")
	s.BeginTurn("u1", RoleUser, "again")
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestBackfillTranscriptResolvesPlaceholder(t *testing.T) {
	s := NewState(nil)
	s.BeginTurn("u1", RoleUser, "")

	if !s.BackfillTranscript("u1", "hola") {
		t.Fatal("backfill should update the placeholder")
	}
	turns := s.Snapshot()
	if turns[0].Text != "hola" || !turns[0].Resolved {
		t.Fatalf("turn = %+v", turns[0])
	}
	if len(s.PendingIDs()) != 0 {
		t.Fatal("pending set should be empty after backfill")
	}
}

func TestBackfillTranscriptUnknownIDIsNoop(t *testing.T) {
	s := NewState(nil)
	if s.BackfillTranscript("ghost", "text") {
		t.Fatal("unknown item id must be a no-op, not an error")
	}
}

func TestBackfillAppliesRedaction(t *testing.T) {
	s := NewState(policy.NewRedactor(true))
	s.BeginTurn("u1", RoleUser, "")
	s.BackfillTranscript("u1", "mail me at a@b.io")

	if got := s.Snapshot()[0].Text; got != "mail me at [REDACTED_EMAIL]" {
		t.Fatalf("text = %q, want redacted", got)
	}
}

func TestCompleteResponseIsIdempotent(t *testing.T) {
	s := NewState(nil)
	if !s.CompleteResponse("r1", 500) {
		t.Fatal("first completion should count")
	}
	if s.CompleteResponse("r1", 500) {
		t.Fatal("replayed response.done must be ignored")
	}
	if got := s.UsageTokens(); got != 500 {
		t.Fatalf("UsageTokens() = %d, want 500", got)
	}
	if got := s.TurnsSinceSummary(); got != 1 {
		t.Fatalf("TurnsSinceSummary() = %d, want 1", got)
	}
}

func TestUsageTokensKeepsHighWaterMark(t *testing.T) {
	s := NewState(nil)
	s.CompleteResponse("r1", 900)
	s.CompleteResponse("r2", 300)
	if got := s.UsageTokens(); got != 900 {
		t.Fatalf("UsageTokens() = %d, want high-water 900", got)
	}
}

func TestApplySummaryReplacesPrefixAndPreservesOrder(t *testing.T) {
	s := NewState(nil)
	for _, id := range []string{"t0", "t1", "t2", "t3", "t4"} {
		s.BeginTurn(id, RoleUser, "text "+id)
	}
	s.CompleteResponse("r1", 5000)

	removed := s.ApplySummary("sum_001", "the gist", 2)
	if len(removed) != 3 {
		t.Fatalf("len(removed) = %d, want 3", len(removed))
	}

	turns := s.Snapshot()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[0].Text != "the gist" || !turns[0].Resolved {
		t.Fatalf("summary turn = %+v", turns[0])
	}
	if turns[1].ID != "t3" || turns[2].ID != "t4" {
		t.Fatalf("kept turns out of order: %v, %v", turns[1].ID, turns[2].ID)
	}
	if s.UsageTokens() != 0 || s.TurnsSinceSummary() != 0 {
		t.Fatal("counters must reset after compaction")
	}
	if s.SummaryCount() != 1 {
		t.Fatalf("SummaryCount() = %d, want 1", s.SummaryCount())
	}
}

func TestSummaryWindowDefersOnUnresolvedTurn(t *testing.T) {
	s := NewState(nil)
	s.BeginTurn("t0", RoleUser, "")
	s.BeginTurn("t1", RoleAssistant, "a")
	s.BeginTurn("t2", RoleUser, "b")
	s.BeginTurn("t3", RoleAssistant, "c")

	window, ok := s.SummaryWindow(2)
	if ok {
		t.Fatal("window with unresolved turn must not be summarizable")
	}
	if len(window) != 2 {
		t.Fatalf("len(window) = %d, want 2", len(window))
	}

	s.BackfillTranscript("t0", "now resolved")
	if _, ok := s.SummaryWindow(2); !ok {
		t.Fatal("window should become eligible once backfilled")
	}
}
