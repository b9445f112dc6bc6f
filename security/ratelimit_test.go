package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, 1000, nil)
	defer rl.Stop()

	if rl.rate != 10 {
		t.Errorf("rate = %d, want 10", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, 1000, slog.Default())
	defer rl.Stop()

	identifier := "test-identifier"

	// Requests up to burst should be allowed
	for i := 0; i < 5; i++ {
		if !rl.Allow(identifier) {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow(identifier) {
		t.Error("Allow() should return false when rate limited")
	}
}

func TestRateLimiter_Allow_MultipleIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, 2, 1000, slog.Default())
	defer rl.Stop()

	// Exhaust limit for id1
	for i := 0; i < 2; i++ {
		if !rl.Allow("identifier-1") {
			t.Errorf("Allow(id1) request %d should be allowed", i+1)
		}
	}

	if rl.Allow("identifier-1") {
		t.Error("Allow(id1) should return false when rate limited")
	}

	// id2 has its own bucket
	if !rl.Allow("identifier-2") {
		t.Error("Allow(id2) should be allowed (different identifier)")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(10, 20, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}

	if got := rl.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3 (LRU eviction at capacity)", got)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 20, 1000, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")

	if got := rl.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}

	time.Sleep(10 * time.Millisecond)
	rl.Cleanup(time.Millisecond)

	if got := rl.Size(); got != 0 {
		t.Errorf("Size() after cleanup = %d, want 0", got)
	}
}
