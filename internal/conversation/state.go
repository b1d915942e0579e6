package conversation

import (
	"sync"
	"time"

	"github.com/antoniostano/aria/internal/policy"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one conversational unit. Text stays empty and Resolved false until
// the transcript arrives; summarization never selects unresolved turns.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// State owns the ordered turn history, the pending-transcript set, and the
// usage counters. It is mutated only from the dispatch goroutine; the lock
// exists for read-side snapshots from the diagnostics server.
type State struct {
	mu sync.RWMutex

	turns   []Turn
	pending map[string]struct{}

	latestTokens      int
	peakTokens        int
	turnsSinceSummary int
	summaryCount      int
	summarizing       bool

	completed map[string]struct{}

	redact policy.Redactor
}

func NewState(redact policy.Redactor) *State {
	return &State{
		pending:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		redact:    redact,
	}
}

// BeginTurn records a turn placeholder for a server item. When the creation
// event already carries a transcript the turn is resolved immediately;
// otherwise the item id joins the pending set for backfill. Duplicate item
// ids are ignored.
func (s *State) BeginTurn(itemID string, role Role, transcript string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if itemID == "" || s.indexOfLocked(itemID) >= 0 {
		return
	}
	turn := Turn{ID: itemID, Role: role, CreatedAt: time.Now().UTC()}
	if transcript != "" {
		turn.Text = s.redacted(transcript)
		turn.Resolved = true
	} else {
		s.pending[itemID] = struct{}{}
	}
	s.turns = append(s.turns, turn)
}

// BackfillTranscript resolves a placeholder. Unknown item ids are a no-op,
// not an error: the turn may already have been pruned.
func (s *State) BackfillTranscript(itemID, text string) bool {
	if text == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOfLocked(itemID)
	if i < 0 {
		return false
	}
	s.turns[i].Text = s.redacted(text)
	s.turns[i].Resolved = true
	delete(s.pending, itemID)
	return true
}

// AppendAssistant records a completed assistant turn.
func (s *State) AppendAssistant(itemID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if itemID != "" && s.indexOfLocked(itemID) >= 0 {
		return
	}
	s.turns = append(s.turns, Turn{
		ID:        itemID,
		Role:      RoleAssistant,
		Text:      s.redacted(text),
		Resolved:  text != "",
		CreatedAt: time.Now().UTC(),
	})
}

// CompleteResponse records usage for a finished response and advances the
// summarization debounce counter. Replays of the same response id are
// ignored so usage is never double-counted.
func (s *State) CompleteResponse(responseID string, totalTokens int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if responseID != "" {
		if _, seen := s.completed[responseID]; seen {
			return false
		}
		s.completed[responseID] = struct{}{}
	}
	s.latestTokens = totalTokens
	if totalTokens > s.peakTokens {
		s.peakTokens = totalTokens
	}
	s.turnsSinceSummary++
	return true
}

// IsCompleted reports whether a response id was already finalized.
func (s *State) IsCompleted(responseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[responseID]
	return ok
}

// UsageTokens returns the effective context size: the high-water mark since
// the last compaction, so a response landing mid-summary still counts.
func (s *State) UsageTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.peakTokens > s.latestTokens {
		return s.peakTokens
	}
	return s.latestTokens
}

func (s *State) TurnsSinceSummary() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnsSinceSummary
}

func (s *State) SummaryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryCount
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// SetSummarizing guards against concurrent compactions. It returns false if
// a compaction is already running.
func (s *State) SetSummarizing(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && s.summarizing {
		return false
	}
	s.summarizing = on
	return true
}

func (s *State) Summarizing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summarizing
}

// SummaryWindow returns the turns older than keepLast. ok is false when any
// turn in the window still awaits its transcript; compacting then would
// summarize text we do not have.
func (s *State) SummaryWindow(keepLast int) (window []Turn, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) <= keepLast {
		return nil, false
	}
	boundary := len(s.turns) - keepLast
	window = make([]Turn, boundary)
	copy(window, s.turns[:boundary])
	for _, t := range window {
		if !t.Resolved {
			return window, false
		}
	}
	return window, true
}

// ApplySummary atomically replaces the turns older than keepLast with a
// single resolved system turn in their place, preserving the order of the
// kept turns, and resets the usage and debounce counters. It returns the
// replaced turns so their server-side items can be pruned.
func (s *State) ApplySummary(summaryID, text string, keepLast int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) <= keepLast {
		return nil
	}
	boundary := len(s.turns) - keepLast
	removed := make([]Turn, boundary)
	copy(removed, s.turns[:boundary])

	summary := Turn{
		ID:        summaryID,
		Role:      RoleSystem,
		Text:      text,
		Resolved:  true,
		CreatedAt: time.Now().UTC(),
	}
	kept := make([]Turn, 0, keepLast+1)
	kept = append(kept, summary)
	kept = append(kept, s.turns[boundary:]...)
	s.turns = kept

	for _, t := range removed {
		delete(s.pending, t.ID)
	}
	s.summaryCount++
	s.latestTokens = 0
	s.peakTokens = 0
	s.turnsSinceSummary = 0
	return removed
}

// PendingIDs lists item ids still awaiting transcript backfill.
func (s *State) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pending))
	for _, t := range s.turns {
		if _, ok := s.pending[t.ID]; ok {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Snapshot returns a copy of the turn history in conversational order.
func (s *State) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *State) indexOfLocked(itemID string) int {
	if itemID == "" {
		return -1
	}
	for i := range s.turns {
		if s.turns[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (s *State) redacted(text string) string {
	if s.redact == nil {
		return text
	}
	return s.redact(text)
}
