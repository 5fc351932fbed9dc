package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterGrantsUpToCapacity(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 10, RefillRate: 1})

	granted, err := l.Consume(context.Background(), "k", 7)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if granted != 7 {
		t.Fatalf("granted = %d, want 7", granted)
	}

	granted, err = l.Consume(context.Background(), "k", 10)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if granted != 3 {
		t.Fatalf("granted = %d, want 3 (only 3 tokens left)", granted)
	}
}

func TestMemoryLimiterRefillsOverTime(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 10, RefillRate: 5}) // 5 tokens/sec
	fakeNow := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return fakeNow }

	granted, err := l.Consume(context.Background(), "k", 10)
	if err != nil || granted != 10 {
		t.Fatalf("initial consume: granted=%d err=%v", granted, err)
	}

	fakeNow = fakeNow.Add(1 * time.Second) // 5 tokens refilled
	granted, err = l.Consume(context.Background(), "k", 8)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if granted != 5 {
		t.Fatalf("granted = %d, want 5", granted)
	}
}

func TestMemoryLimiterRefillClampsAtCapacity(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 10, RefillRate: 100})
	fakeNow := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return fakeNow }

	l.Consume(context.Background(), "k", 10)
	fakeNow = fakeNow.Add(10 * time.Hour) // would overflow capacity without the clamp

	granted, err := l.Consume(context.Background(), "k", 10)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if granted != 10 {
		t.Fatalf("granted = %d, want 10 (clamped at capacity)", granted)
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	l := NewMemoryLimiter(Config{Capacity: 5, RefillRate: 0})

	l.Consume(context.Background(), "a", 5)
	granted, _ := l.Consume(context.Background(), "b", 5)
	if granted != 5 {
		t.Fatalf("expected key b to have its own untouched bucket, got %d", granted)
	}
}
