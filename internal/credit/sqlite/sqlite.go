package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/fitpulse/coach-gateway/internal/credit"
)

// Store implements credit.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite credit store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create credits directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// sqlite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY when debits race.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id TEXT PRIMARY KEY,
	credits INTEGER NOT NULL DEFAULT 10 CHECK(credits >= 0),
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','inactive')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the account for userID.
func (s *Store) Get(ctx context.Context, userID string) (*credit.Account, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, credits, status, created_at, updated_at
FROM credit_accounts
WHERE user_id = ?`, userID)

	var acct credit.Account
	var status string
	var createdAt, updatedAt time.Time
	if err := row.Scan(&acct.UserID, &acct.Credits, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credit.ErrNotFound
		}
		return nil, err
	}
	acct.Status = credit.Status(status)
	acct.CreatedAt = createdAt
	acct.UpdatedAt = updatedAt
	return &acct, nil
}

// Ensure inserts the account with the given grant if absent.
func (s *Store) Ensure(ctx context.Context, userID string, grant int64) (*credit.Account, bool, error) {
	if userID == "" {
		return nil, false, errors.New("user id required")
	}
	if grant < 0 {
		return nil, false, fmt.Errorf("invalid grant %d", grant)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO credit_accounts(user_id, credits, status)
VALUES(?, ?, ?)
ON CONFLICT(user_id) DO NOTHING`, userID, grant, string(credit.StatusActive))
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	acct, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return acct, affected > 0, nil
}

// DebitOne performs the atomic conditional decrement.
func (s *Store) DebitOne(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
UPDATE credit_accounts
SET credits = credits - 1, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND status = ? AND credits > 0
RETURNING credits`, userID, string(credit.StatusActive))

	var remaining int64
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, s.debitFailure(ctx, userID)
		}
		return 0, err
	}
	return remaining, nil
}

// debitFailure distinguishes a missing account from an exhausted or inactive one.
func (s *Store) debitFailure(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	return credit.ErrInsufficientCredits
}

// CreditOne restores one credit.
func (s *Store) CreditOne(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
UPDATE credit_accounts
SET credits = credits + 1, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ?
RETURNING credits`, userID)

	var remaining int64
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, credit.ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

// SetStatus flips an account between active and inactive. Exposed for
// administrative tooling; chat traffic never calls it.
func (s *Store) SetStatus(ctx context.Context, userID string, status credit.Status) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_accounts
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ?`, string(status), userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return credit.ErrNotFound
	}
	return nil
}
