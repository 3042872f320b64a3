package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fitpulse/coach-gateway/internal/credit"
	"github.com/fitpulse/coach-gateway/internal/ledger"
	"github.com/fitpulse/coach-gateway/internal/openai"
	"github.com/fitpulse/coach-gateway/internal/policy"
)

type memCredits struct {
	mu       sync.Mutex
	accounts map[string]*credit.Account
}

func newMemCredits() *memCredits {
	return &memCredits{accounts: make(map[string]*credit.Account)}
}

func (m *memCredits) Get(_ context.Context, userID string) (*credit.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, credit.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memCredits) Ensure(_ context.Context, userID string, grant int64) (*credit.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[userID]; ok {
		copied := *account
		return &copied, false, nil
	}
	account := &credit.Account{
		UserID:    userID,
		Credits:   grant,
		Status:    credit.StatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.accounts[userID] = account
	copied := *account
	return &copied, true, nil
}

func (m *memCredits) DebitOne(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return 0, credit.ErrNotFound
	}
	if account.Status != credit.StatusActive || account.Credits <= 0 {
		return 0, credit.ErrInsufficientCredits
	}
	account.Credits--
	return account.Credits, nil
}

func (m *memCredits) CreditOne(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return 0, credit.ErrNotFound
	}
	account.Credits++
	return account.Credits, nil
}

func (m *memCredits) Close() error { return nil }

type memLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memLedger) Record(_ context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLedger) Summary(_ context.Context, userID string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s ledger.Summary
	for _, e := range m.entries {
		if e.UserID != userID || e.Direction != ledger.DirectionConsume {
			continue
		}
		s.ConsumedTurns++
		s.PromptTokens += e.PromptTokens
		s.CompletionTokens += e.CompletionTokens
	}
	return s, nil
}

func (m *memLedger) ListRecent(_ context.Context, userID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memLedger) Close() error { return nil }

func (m *memLedger) directions(userID string) []ledger.Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Direction
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e.Direction)
		}
	}
	return out
}

type adapterFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

func (f adapterFunc) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f(ctx, req)
}

func echoAdapter() adapterFunc {
	return func(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		last := req.Messages[len(req.Messages)-1]
		return openai.NewCompletionResponse(req.Model, openai.ChatMessage{
			Role:    "assistant",
			Content: "echo: " + last.Content,
		}, openai.UsageBreakdown{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}), nil
	}
}

func newTestGateway(chat adapterFunc) (*Gateway, *memCredits, *memLedger) {
	credits := newMemCredits()
	usage := &memLedger{}
	g := New(credits, usage, chat, policy.Default())
	return g, credits, usage
}

func TestEnsureAccountSeedsDefaultGrant(t *testing.T) {
	g, _, usage := newTestGateway(echoAdapter())

	account, err := g.EnsureAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if account.Credits != 10 {
		t.Fatalf("expected default grant 10, got %d", account.Credits)
	}
	if dirs := usage.directions("u1"); len(dirs) != 1 || dirs[0] != ledger.DirectionGrant {
		t.Fatalf("expected single grant entry, got %v", dirs)
	}

	// Second call must not re-grant
	if _, err := g.EnsureAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if dirs := usage.directions("u1"); len(dirs) != 1 {
		t.Fatalf("repeat ensure should not add entries, got %v", dirs)
	}
}

func TestConverseDebitsAndJournals(t *testing.T) {
	g, _, usage := newTestGateway(echoAdapter())

	res, err := g.Converse(context.Background(), "u1", "hello coach")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if res.Reply != "echo: hello coach" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	if res.RemainingCredits != 9 {
		t.Fatalf("expected 9 remaining, got %d", res.RemainingCredits)
	}

	if dirs := usage.directions("u1"); len(dirs) != 2 || dirs[0] != ledger.DirectionGrant || dirs[1] != ledger.DirectionConsume {
		t.Fatalf("expected grant then consume entries, got %v", dirs)
	}

	summary, _, err := g.RecentUsage(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("RecentUsage: %v", err)
	}
	if summary.ConsumedTurns != 1 || summary.PromptTokens != 3 || summary.CompletionTokens != 5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestConverseValidatesInput(t *testing.T) {
	g, _, _ := newTestGateway(echoAdapter())

	if _, err := g.Converse(context.Background(), "", "hi"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty user, got %v", err)
	}
	if _, err := g.Converse(context.Background(), "u1", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank message, got %v", err)
	}
}

func TestConverseExhaustsCredits(t *testing.T) {
	g, credits, _ := newTestGateway(echoAdapter())

	if _, err := g.EnsureAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	credits.mu.Lock()
	credits.accounts["u1"].Credits = 1
	credits.mu.Unlock()

	res, err := g.Converse(context.Background(), "u1", "last turn")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if res.RemainingCredits != 0 {
		t.Fatalf("expected 0 remaining, got %d", res.RemainingCredits)
	}

	if _, err := g.Converse(context.Background(), "u1", "one more"); !errors.Is(err, credit.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestConverseRefundsOnUpstreamError(t *testing.T) {
	failing := adapterFunc(func(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, errors.New("boom")
	})
	g, credits, usage := newTestGateway(failing)

	_, err := g.Converse(context.Background(), "u1", "hello")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	account, err := credits.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if account.Credits != 10 {
		t.Fatalf("debit should have been refunded, got %d", account.Credits)
	}

	dirs := usage.directions("u1")
	if len(dirs) != 2 || dirs[0] != ledger.DirectionGrant || dirs[1] != ledger.DirectionRefund {
		t.Fatalf("expected grant then refund, got %v", dirs)
	}
}

func TestConverseRefundsOnEmptyCompletion(t *testing.T) {
	empty := adapterFunc(func(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{Model: req.Model}, nil
	})
	g, credits, _ := newTestGateway(empty)

	_, err := g.Converse(context.Background(), "u1", "hello")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream for empty completion, got %v", err)
	}

	account, err := credits.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if account.Credits != 10 {
		t.Fatalf("debit should have been refunded, got %d", account.Credits)
	}
}

func TestBalanceUnknownUser(t *testing.T) {
	g, _, _ := newTestGateway(echoAdapter())

	if _, err := g.Balance(context.Background(), "ghost"); !errors.Is(err, credit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
