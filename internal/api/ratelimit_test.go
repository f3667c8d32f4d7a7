package api

import (
	"testing"
	"time"
)

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()

	if !rl.Allow("s1") || !rl.Allow("s1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("s1") {
		t.Fatal("expected third request to be throttled")
	}
	if !rl.Allow("s2") {
		t.Fatal("expected other keys to have their own bucket")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Close()

	rl.Allow("s1")
	rl.Allow("s2")
	rl.evict(time.Now().Add(time.Minute))

	if n := rl.len(); n != 0 {
		t.Fatalf("expected all keys evicted, got %d", n)
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.Close()
	rl.Close()
}
