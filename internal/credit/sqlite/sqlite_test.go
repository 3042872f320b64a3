package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fitpulse/coach-gateway/internal/credit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnsureCreatesOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, created, err := store.Ensure(ctx, "u1", credit.DefaultGrant)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatalf("expected first Ensure to create the account")
	}
	if acct.Credits != 10 || acct.Status != credit.StatusActive {
		t.Fatalf("unexpected account %+v", acct)
	}

	acct, created, err = store.Ensure(ctx, "u1", credit.DefaultGrant)
	if err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	if created {
		t.Fatalf("second Ensure must not create")
	}
	if acct.Credits != 10 {
		t.Fatalf("second Ensure must not reset balance, got %d", acct.Credits)
	}
}

func TestGetUnknownUser(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, credit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, _, err := store.Ensure(ctx, "u1", 3); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	for want := int64(2); want >= 0; want-- {
		remaining, err := store.DebitOne(ctx, "u1")
		if err != nil {
			t.Fatalf("DebitOne: %v", err)
		}
		if remaining != want {
			t.Fatalf("expected remaining %d, got %d", want, remaining)
		}
	}

	if _, err := store.DebitOne(ctx, "u1"); !errors.Is(err, credit.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	acct, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Credits != 0 {
		t.Fatalf("balance must stay at zero, got %d", acct.Credits)
	}
}

func TestDebitUnknownUser(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.DebitOne(context.Background(), "missing"); !errors.Is(err, credit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitInactiveAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, _, err := store.Ensure(ctx, "u1", 5); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := store.SetStatus(ctx, "u1", credit.StatusInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, err := store.DebitOne(ctx, "u1"); !errors.Is(err, credit.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	acct, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Credits != 5 {
		t.Fatalf("inactive debit must not change balance, got %d", acct.Credits)
	}
}

func TestCreditOneRefund(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, _, err := store.Ensure(ctx, "u1", 1); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := store.DebitOne(ctx, "u1"); err != nil {
		t.Fatalf("DebitOne: %v", err)
	}
	remaining, err := store.CreditOne(ctx, "u1")
	if err != nil {
		t.Fatalf("CreditOne: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected refund to restore balance to 1, got %d", remaining)
	}

	if _, err := store.CreditOne(ctx, "missing"); !errors.Is(err, credit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentDebits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const balance = 3
	const callers = 10
	if _, _, err := store.Ensure(ctx, "u1", balance); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.DebitOne(ctx, "u1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, credit.ErrInsufficientCredits):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != balance || rejected != callers-balance {
		t.Fatalf("expected %d successes and %d rejections, got %d/%d", balance, callers-balance, succeeded, rejected)
	}

	acct, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Credits != 0 {
		t.Fatalf("final balance must be 0, got %d", acct.Credits)
	}
}
