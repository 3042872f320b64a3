package credit

import (
	"context"
	"errors"
	"time"
)

// Status gates whether an account may spend credits.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// DefaultGrant is the balance seeded when an account is created on first use.
const DefaultGrant int64 = 10

// Account is the per-user credit record. UserID is an opaque identifier owned
// by the external identity provider.
type Account struct {
	UserID    string    `json:"user_id"`
	Credits   int64     `json:"credits"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates no account exists for the given user id.
	ErrNotFound = errors.New("credit: account not found")
	// ErrInsufficientCredits indicates the account is inactive or its balance
	// is exhausted. The caller must top up before retrying.
	ErrInsufficientCredits = errors.New("credit: insufficient credits")
)

// Store persists credit accounts across SQLite/Postgres backends.
//
// DebitOne and CreditOne must be atomic single-statement updates so that
// concurrent chat turns can never drive a balance negative.
type Store interface {
	// Get returns the account for userID. Fails with ErrNotFound when absent.
	Get(ctx context.Context, userID string) (*Account, error)
	// Ensure creates the account with the given grant if it does not exist.
	// The insert is conditional at the storage layer, so concurrent first-use
	// requests cannot produce duplicate records. Returns the account and
	// whether this call created it.
	Ensure(ctx context.Context, userID string, grant int64) (*Account, bool, error)
	// DebitOne decrements the balance by exactly one for an active account
	// with credits remaining, returning the post-debit balance. Fails with
	// ErrInsufficientCredits when the account is inactive or at zero, and
	// ErrNotFound when it does not exist.
	DebitOne(ctx context.Context, userID string) (int64, error)
	// CreditOne restores one credit, returning the new balance. Used to roll
	// back a debit when the upstream call fails. Applies regardless of the
	// account status.
	CreditOne(ctx context.Context, userID string) (int64, error)
	Close() error
}
