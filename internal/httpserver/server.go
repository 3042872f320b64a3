package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fitpulse/coach-gateway/internal/core"
	"github.com/fitpulse/coach-gateway/internal/credit"
	"github.com/fitpulse/coach-gateway/internal/ledger"
	"github.com/fitpulse/coach-gateway/internal/ratelimit"
	"github.com/fitpulse/coach-gateway/internal/version"
)

// msgMissingFields is part of the public wire contract; clients match on the
// exact string.
const msgMissingFields = "ID utilisateur et message requis"

// Error codes exposed to clients. The set is closed; new failure modes must
// map onto one of these.
const (
	codeInvalidRequest      = "invalid_request"
	codeNotFound            = "not_found"
	codeInsufficientCredits = "insufficient_credits"
	codeRateLimited         = "rate_limited"
	codeUpstreamError       = "upstream_error"
	codeInternalError       = "internal_error"
)

const defaultUsageLimit = 20

// GatewayFacade describes the gateway methods required by the HTTP layer.
type GatewayFacade interface {
	EnsureAccount(ctx context.Context, userID string) (*credit.Account, error)
	Balance(ctx context.Context, userID string) (*credit.Account, error)
	Converse(ctx context.Context, userID, message string) (core.ConverseResult, error)
	RecentUsage(ctx context.Context, userID string, limit int) (ledger.Summary, []ledger.Entry, error)
}

// Server exposes the credit-metered chat endpoints.
type Server struct {
	gateway GatewayFacade
	limiter *ratelimit.Limiter
	logger  *log.Logger
}

// New constructs a Server. The limiter may be nil to disable throttling.
func New(gateway GatewayFacade, limiter *ratelimit.Limiter) *Server {
	return &Server{
		gateway: gateway,
		limiter: limiter,
		logger:  log.New(log.Writer(), "[httpserver] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/chatgpt", func(api chi.Router) {
		api.Post("/chat", s.handleChat)
		api.Get("/credits/{userID}", s.handleCredits)
		api.Get("/usage/{userID}", s.handleUsage)
	})
	return r
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, errors.New("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, errors.New(msgMissingFields))
		return
	}

	if s.limiter != nil && !s.limiter.Allow(req.UserID) {
		s.logf("chat throttled user_id=%s", req.UserID)
		s.respondError(w, http.StatusTooManyRequests, codeRateLimited, errors.New("too many requests, retry later"))
		return
	}

	res, err := s.gateway.Converse(r.Context(), req.UserID, req.Message)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"response":         res.Reply,
		"remainingCredits": res.RemainingCredits,
	})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	account, err := s.gateway.Balance(r.Context(), userID)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"credits": account.Credits})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := defaultUsageLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summary, entries, err := s.gateway.RecentUsage(r.Context(), userID, limit)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"entries": entries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Info(),
	})
}

// respondGatewayError maps gateway failures onto the closed error code set.
func (s *Server) respondGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, errors.New(msgMissingFields))
	case errors.Is(err, credit.ErrNotFound):
		s.respondError(w, http.StatusNotFound, codeNotFound, err)
	case errors.Is(err, credit.ErrInsufficientCredits):
		s.respondError(w, http.StatusPaymentRequired, codeInsufficientCredits, err)
	case errors.Is(err, core.ErrUpstream):
		s.respondError(w, http.StatusBadGateway, codeUpstreamError, err)
	default:
		s.logf("internal error: %v", err)
		s.respondError(w, http.StatusInternalServerError, codeInternalError, errors.New("internal error"))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error(), "code": code})
}
