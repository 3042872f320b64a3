package ratelimit

import (
	"sync"
	"testing"
)

func TestLimiterPerUserIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 2})
	t.Cleanup(func() { _ = l.Close() })

	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatalf("alice should be allowed a full burst")
	}
	if l.Allow("alice") {
		t.Fatalf("alice should be throttled past the burst")
	}
	if !l.Allow("bob") {
		t.Fatalf("bob uses a separate bucket and should be allowed")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1})
	t.Cleanup(func() { _ = l.Close() })

	if !l.Allow("u1") {
		t.Fatalf("first request should pass")
	}
	if l.Allow("u1") {
		t.Fatalf("second request should be throttled")
	}
	l.Reset("u1")
	if !l.Allow("u1") {
		t.Fatalf("reset should allow again")
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	t.Cleanup(func() { _ = l.Close() })

	if l.capacity != 5 || l.refillRate != 1 {
		t.Fatalf("unexpected defaults capacity=%v rate=%v", l.capacity, l.refillRate)
	}
}

func TestLimiterConcurrentAccess(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1000, Burst: 1000})
	t.Cleanup(func() { _ = l.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Allow("shared")
			}
		}()
	}
	wg.Wait()
}
