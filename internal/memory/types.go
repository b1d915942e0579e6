package memory

import (
	"context"
	"time"
)

// TranscriptRecord is one finalized turn persisted for later sessions.
// Text is stored post-redaction; raw transcripts never reach the store.
type TranscriptRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ItemID      string    `json:"item_id"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	IsSummary   bool      `json:"is_summary"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists finalized conversation turns and compaction summaries.
type Store interface {
	SaveTurn(ctx context.Context, record TranscriptRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error)
	Close() error
}
