package ledger

import (
	"context"
	"time"
)

// Direction classifies how an entry moved the user's balance.
type Direction string

const (
	// DirectionConsume records a successful chat turn (one credit spent).
	DirectionConsume Direction = "consume"
	// DirectionGrant records the balance seeded on account creation.
	DirectionGrant Direction = "grant"
	// DirectionRefund records a credit restored after an upstream failure.
	DirectionRefund Direction = "refund"
)

// Entry represents a single usage record written to the local ledger.
type Entry struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Direction        Direction `json:"direction"`
	Memo             string    `json:"memo"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates chat usage for a user.
type Summary struct {
	ConsumedTurns    int64 `json:"consumed_turns"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Store defines persistence behaviour for the usage ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID string) (Summary, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}

// ValidDirection reports whether d is one of the known entry directions.
func ValidDirection(d Direction) bool {
	switch d {
	case DirectionConsume, DirectionGrant, DirectionRefund:
		return true
	}
	return false
}
