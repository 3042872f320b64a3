package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fitpulse/coach-gateway/internal/adapter"
	"github.com/fitpulse/coach-gateway/internal/adapter/loopback"
	adapteropenai "github.com/fitpulse/coach-gateway/internal/adapter/openai"
	"github.com/fitpulse/coach-gateway/internal/config"
	"github.com/fitpulse/coach-gateway/internal/core"
	"github.com/fitpulse/coach-gateway/internal/credit"
	creditpostgres "github.com/fitpulse/coach-gateway/internal/credit/postgres"
	creditsqlite "github.com/fitpulse/coach-gateway/internal/credit/sqlite"
	"github.com/fitpulse/coach-gateway/internal/httpserver"
	"github.com/fitpulse/coach-gateway/internal/ledger"
	ledgerpostgres "github.com/fitpulse/coach-gateway/internal/ledger/postgres"
	ledgersqlite "github.com/fitpulse/coach-gateway/internal/ledger/sqlite"
	"github.com/fitpulse/coach-gateway/internal/logging"
	"github.com/fitpulse/coach-gateway/internal/policy"
	"github.com/fitpulse/coach-gateway/internal/ratelimit"
	"github.com/fitpulse/coach-gateway/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[coachd] ")
		defer rot.Close()
	}

	log.Printf("coachd %s starting env=%s", version.FullInfo(), cfg.Environment)

	credits, usage, err := openStores(cfg)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer credits.Close()
	defer usage.Close()

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("load policy: %v", err)
	}
	log.Printf("policy loaded model=%s default_grant=%d", pol.Model, pol.DefaultGrant)

	chat := buildAdapter(cfg)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: pol.RateLimit.RequestsPerSecond,
		Burst:             pol.RateLimit.Burst,
	})
	defer limiter.Close()

	gateway := core.New(credits, usage, chat, pol)
	gateway.SetLogger(log.New(log.Writer(), "[coachd/gateway] ", log.LstdFlags|log.Lmicroseconds))

	httpSrv := httpserver.New(gateway, limiter)
	httpSrv.SetLogger(log.New(log.Writer(), "[coachd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("coach gateway listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openStores selects the postgres backends when a database URL is configured
// and falls back to local SQLite files otherwise.
func openStores(cfg config.Config) (credit.Store, ledger.Store, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		log.Printf("using postgres stores")
		credits, err := creditpostgres.New(dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return nil, nil, err
		}
		usage, err := ledgerpostgres.New(dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			_ = credits.Close()
			return nil, nil, err
		}
		return credits, usage, nil
	}

	log.Printf("using sqlite stores credits=%s ledger=%s", cfg.CreditsPath, cfg.LedgerPath)
	credits, err := creditsqlite.New(cfg.CreditsPath)
	if err != nil {
		return nil, nil, err
	}
	usage, err := ledgersqlite.New(cfg.LedgerPath)
	if err != nil {
		_ = credits.Close()
		return nil, nil, err
	}
	return credits, usage, nil
}

// buildAdapter returns the OpenAI adapter when an API key is configured and
// the loopback echo adapter otherwise.
func buildAdapter(cfg config.Config) adapter.ChatAdapter {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("no OpenAI API key configured; using loopback adapter")
		return loopback.New()
	}
	oa, err := adapteropenai.New(adapteropenai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Organization:   cfg.OpenAIOrg,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		log.Printf("openai adapter init failed (%v); using loopback adapter", err)
		return loopback.New()
	}
	log.Printf("openai adapter configured")
	return oa
}
