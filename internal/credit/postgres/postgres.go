package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register postgres driver
	_ "github.com/lib/pq"

	"github.com/fitpulse/coach-gateway/internal/credit"
)

// Store implements credit.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed credit store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
	}

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
	credits BIGINT NOT NULL DEFAULT 10 CHECK (credits >= 0),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','inactive')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
WHERE user_id = $1`, userID)

	var acct credit.Account
	var status string
	if err := row.Scan(&acct.UserID, &acct.Credits, &status, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credit.ErrNotFound
		}
		return nil, err
	}
	acct.Status = credit.Status(status)
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
VALUES($1, $2, $3)
ON CONFLICT (user_id) DO NOTHING`, userID, grant, string(credit.StatusActive))
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
SET credits = credits - 1, updated_at = now()
WHERE user_id = $1 AND status = $2 AND credits > 0
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
SET credits = credits + 1, updated_at = now()
WHERE user_id = $1
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

// SetStatus flips an account between active and inactive.
func (s *Store) SetStatus(ctx context.Context, userID string, status credit.Status) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_accounts
SET status = $1, updated_at = now()
WHERE user_id = $2`, string(status), userID)
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
