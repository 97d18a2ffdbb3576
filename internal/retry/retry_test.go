package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 100 * time.Millisecond,
		3: 400 * time.Millisecond,
		6: 3200 * time.Millisecond,
		9: 3200 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := Backoff(attempt); got != want {
			t.Fatalf("attempt %d: want %v got %v", attempt, want, got)
		}
	}
}

func TestSleepHonoursContext(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled sleep should return promptly")
	}
}
