package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/fitpulse/coach-gateway/internal/adapter"
	"github.com/fitpulse/coach-gateway/internal/credit"
	"github.com/fitpulse/coach-gateway/internal/ledger"
	"github.com/fitpulse/coach-gateway/internal/openai"
	"github.com/fitpulse/coach-gateway/internal/policy"
)

var (
	// ErrInvalidInput indicates a missing user id or message.
	ErrInvalidInput = errors.New("user id and message are required")
	// ErrUpstream indicates the completion provider failed after the credit
	// was debited. The debit is rolled back before this is returned.
	ErrUpstream = errors.New("upstream completion failed")
)

// ConverseResult is the outcome of a successful chat turn.
type ConverseResult struct {
	Reply            string
	Model            string
	RemainingCredits int64
}

// Gateway meters chat turns against per-user credit balances. Each turn costs
// one credit; the debit happens before the upstream call and is refunded when
// the upstream call fails.
type Gateway struct {
	credits credit.Store
	usage   ledger.Store
	chat    adapter.ChatAdapter
	policy  policy.Policy
	logger  *log.Logger
}

// New creates a gateway. The usage ledger may be nil, in which case turns are
// metered but not journaled.
func New(credits credit.Store, usage ledger.Store, chat adapter.ChatAdapter, pol policy.Policy) *Gateway {
	return &Gateway{
		credits: credits,
		usage:   usage,
		chat:    chat,
		policy:  pol,
		logger:  log.New(log.Writer(), "[core/gateway] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (g *Gateway) SetLogger(logger *log.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func (g *Gateway) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// EnsureAccount creates the credit account on first use, seeding it with the
// policy's default grant. Existing accounts are returned unchanged.
func (g *Gateway) EnsureAccount(ctx context.Context, userID string) (*credit.Account, error) {
	if strings.TrimSpace(userID) == "" {
		g.logf("ensure_account failed: %v", ErrInvalidInput)
		return nil, ErrInvalidInput
	}
	account, created, err := g.credits.Ensure(ctx, userID, g.policy.DefaultGrant)
	if err != nil {
		g.logf("ensure_account error user_id=%s: %v", userID, err)
		return nil, err
	}
	if created {
		g.logf("ensure_account created user_id=%s credits=%d", userID, account.Credits)
		g.record(ctx, ledger.Entry{
			UserID:    userID,
			Direction: ledger.DirectionGrant,
			Memo:      fmt.Sprintf("initial grant of %d credits", account.Credits),
		})
	}
	return account, nil
}

// Balance returns the account for userID without creating it.
func (g *Gateway) Balance(ctx context.Context, userID string) (*credit.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	account, err := g.credits.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, credit.ErrNotFound) {
			g.logf("balance error user_id=%s: %v", userID, err)
		}
		return nil, err
	}
	return account, nil
}

// Converse runs one metered chat turn: ensure the account exists, debit one
// credit, call the upstream model, and journal the result. A failed upstream
// call refunds the debit so the user is never charged for a turn that
// produced no reply.
func (g *Gateway) Converse(ctx context.Context, userID, message string) (ConverseResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(message) == "" {
		g.logf("converse failed: %v", ErrInvalidInput)
		return ConverseResult{}, ErrInvalidInput
	}

	if _, err := g.EnsureAccount(ctx, userID); err != nil {
		return ConverseResult{}, err
	}

	remaining, err := g.credits.DebitOne(ctx, userID)
	if err != nil {
		g.logf("converse debit error user_id=%s: %v", userID, err)
		return ConverseResult{}, err
	}

	turnID := uuid.NewString()
	g.logf("converse start turn=%s user_id=%s model=%s remaining=%d", turnID, userID, g.policy.Model, remaining)

	resp, err := g.chat.CreateCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.policy.Model,
		Messages: []openai.ChatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		g.refund(ctx, turnID, userID, fmt.Sprintf("refund for failed turn %s", turnID))
		g.logf("converse upstream error turn=%s user_id=%s: %v", turnID, userID, err)
		return ConverseResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	reply, ok := resp.FirstContent()
	if !ok {
		g.refund(ctx, turnID, userID, fmt.Sprintf("refund for empty completion on turn %s", turnID))
		g.logf("converse empty completion turn=%s user_id=%s", turnID, userID)
		return ConverseResult{}, fmt.Errorf("%w: completion had no content", ErrUpstream)
	}

	g.record(ctx, ledger.Entry{
		UserID:           userID,
		Model:            resp.Model,
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
		Direction:        ledger.DirectionConsume,
		Memo:             fmt.Sprintf("turn %s", turnID),
	})
	g.logf("converse success turn=%s user_id=%s remaining=%d", turnID, userID, remaining)

	return ConverseResult{
		Reply:            reply,
		Model:            resp.Model,
		RemainingCredits: remaining,
	}, nil
}

// RecentUsage returns the aggregate summary and the most recent ledger
// entries for a user.
func (g *Gateway) RecentUsage(ctx context.Context, userID string, limit int) (ledger.Summary, []ledger.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return ledger.Summary{}, nil, ErrInvalidInput
	}
	if g.usage == nil {
		return ledger.Summary{}, nil, nil
	}
	summary, err := g.usage.Summary(ctx, userID)
	if err != nil {
		g.logf("recent_usage summary error user_id=%s: %v", userID, err)
		return ledger.Summary{}, nil, err
	}
	entries, err := g.usage.ListRecent(ctx, userID, limit)
	if err != nil {
		g.logf("recent_usage list error user_id=%s: %v", userID, err)
		return ledger.Summary{}, nil, err
	}
	return summary, entries, nil
}

// refund rolls back a debit after an upstream failure. A refund that fails is
// logged and otherwise swallowed; the caller still reports the upstream error.
func (g *Gateway) refund(ctx context.Context, turnID, userID, memo string) {
	if _, err := g.credits.CreditOne(ctx, userID); err != nil {
		g.logf("refund error turn=%s user_id=%s: %v", turnID, userID, err)
		return
	}
	g.record(ctx, ledger.Entry{
		UserID:    userID,
		Direction: ledger.DirectionRefund,
		Memo:      memo,
	})
}

func (g *Gateway) record(ctx context.Context, entry ledger.Entry) {
	if g.usage == nil {
		return
	}
	if err := g.usage.Record(ctx, entry); err != nil {
		g.logf("ledger record error user_id=%s direction=%s: %v", entry.UserID, entry.Direction, err)
	}
}
