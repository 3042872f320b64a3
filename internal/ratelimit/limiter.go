package ratelimit

import (
	"sync"
	"time"
)

// Limiter throttles chat traffic per user id with one token bucket per key.
// Buckets live in memory; this suits the single-instance deployment the
// gateway targets.
type Limiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex

	capacity   float64
	refillRate float64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds limiter settings.
type Config struct {
	RequestsPerSecond float64 // sustained rate per user
	Burst             float64 // burst capacity per user
	CleanupInterval   time.Duration
}

// NewLimiter creates a limiter with the given configuration, applying
// defaults for unset values.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		buckets:         make(map[string]*TokenBucket),
		capacity:        cfg.Burst,
		refillRate:      cfg.RequestsPerSecond,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for the given user should proceed.
func (l *Limiter) Allow(userID string) bool {
	return l.bucket(userID).Allow()
}

// Remaining returns the tokens left for the given user.
func (l *Limiter) Remaining(userID string) float64 {
	return l.bucket(userID).Remaining()
}

// Reset restores the user's bucket to full capacity.
func (l *Limiter) Reset(userID string) {
	l.mu.RLock()
	bucket, ok := l.buckets[userID]
	l.mu.RUnlock()
	if ok {
		bucket.Reset()
	}
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
	return nil
}

func (l *Limiter) bucket(userID string) *TokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[userID]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, ok = l.buckets[userID]; ok {
		return bucket
	}
	bucket = NewTokenBucket(l.capacity, l.refillRate)
	l.buckets[userID] = bucket
	return bucket
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that refilled close to capacity (idle users) to keep
// the map from growing without bound.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, bucket := range l.buckets {
		if bucket.Remaining() >= l.capacity*0.95 {
			delete(l.buckets, userID)
		}
	}
}
