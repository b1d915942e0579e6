package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/aria/internal/protocol"
)

// ErrTranscriptsPending is returned when the compaction window still holds
// unresolved turns; the caller should retry transcript retrieval instead.
var ErrTranscriptsPending = errors.New("summary window has unresolved transcripts")

// Summarizer produces a compact system-turn text for a slice of turns.
// Implementations must honor the context dead line and return retryable
// errors on timeout or unavailability.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn, language string) (string, error)
}

// Sender is the slice of the transport the compactor needs: submitting the
// summary item and the prune requests. Sends block with a bound rather than
// drop, because correctness depends on these messages.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Policy decides when the conversation gets compacted.
type Policy struct {
	TokenThreshold int
	TurnThreshold  int
	KeepLastTurns  int
	DebounceTurns  int
	// Language is "auto" or a forced two-letter code.
	Language string
}

// ShouldSummarize evaluates the trigger predicate after a completed
// response: token threshold or turn threshold, debounced so a compaction
// cannot immediately re-trigger.
func (p Policy) ShouldSummarize(s *State) bool {
	if s.Summarizing() || s.Len() <= p.KeepLastTurns {
		return false
	}
	if s.SummaryCount() > 0 && s.TurnsSinceSummary() < p.DebounceTurns {
		return false
	}
	if s.UsageTokens() >= p.TokenThreshold {
		return true
	}
	return p.TurnThreshold > 0 && s.TurnsSinceSummary() >= p.TurnThreshold
}

// DetermineLanguage resolves the summary language once, before the
// summarizer call; it is not re-derived afterwards.
func (p Policy) DetermineLanguage(window []Turn) string {
	if p.Language != "" && p.Language != "auto" {
		return p.Language
	}
	return InferLanguage(window)
}

// Compactor replaces old turns with a single system summary, locally and
// server-side, in a fixed order: local state first, then the summary item
// on the wire, then the prune requests for the replaced items.
type Compactor struct {
	state      *State
	policy     Policy
	summarizer Summarizer
	sender     Sender
	timeout    time.Duration
}

func NewCompactor(state *State, policy Policy, summarizer Summarizer, sender Sender, timeout time.Duration) *Compactor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Compactor{
		state:      state,
		policy:     policy,
		summarizer: summarizer,
		sender:     sender,
		timeout:    timeout,
	}
}

// MaybeCompact runs one compaction if the policy triggers. A summarizer
// failure leaves the debounce counter untouched so the next eligible
// trigger retries; deferred windows report ErrTranscriptsPending.
func (c *Compactor) MaybeCompact(ctx context.Context) error {
	if !c.policy.ShouldSummarize(c.state) {
		return nil
	}
	window, ok := c.state.SummaryWindow(c.policy.KeepLastTurns)
	if !ok {
		if len(window) == 0 {
			return nil
		}
		return ErrTranscriptsPending
	}
	if !c.state.SetSummarizing(true) {
		return nil
	}
	defer c.state.SetSummarizing(false)

	language := c.policy.DetermineLanguage(window)

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	text, err := c.summarizer.Summarize(sctx, window, language)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	summaryID := fmt.Sprintf("sum_%03d", c.state.SummaryCount()+1)
	removed := c.state.ApplySummary(summaryID, text, c.policy.KeepLastTurns)

	if err := c.sender.Send(ctx, protocol.NewSummaryItemCreate(summaryID, text)); err != nil {
		return fmt.Errorf("submit summary item: %w", err)
	}
	for _, turn := range removed {
		if turn.ID == "" {
			continue
		}
		if err := c.sender.Send(ctx, protocol.NewItemDelete(turn.ID)); err != nil {
			return fmt.Errorf("prune item %s: %w", turn.ID, err)
		}
	}
	return nil
}
