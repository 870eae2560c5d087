package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayPrefersRetryAfter(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}
	got := p.Delay(3, &RateLimitError{RetryAfter: "2.5", ResetRequests: "1m"})
	if got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %s", got)
	}
}

func TestDelayFallsBackToResetWindow(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}
	cases := map[string]time.Duration{
		"1s":     time.Second,
		"2m30s":  2*time.Minute + 30*time.Second,
		"1h0m5s": time.Hour + 5*time.Second,
		"250ms":  250 * time.Millisecond,
		"1.5s":   1500 * time.Millisecond,
	}
	for header, want := range cases {
		if got := p.Delay(1, &RateLimitError{ResetRequests: header}); got != want {
			t.Fatalf("%s: expected %s, got %s", header, want, got)
		}
	}
}

func TestDelayExponentialWithoutHeaders(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 5: 16 * time.Second} {
		if got := p.Delay(attempt, &RateLimitError{ResetRequests: "0s"}); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestDoRetriesRateLimitsThenGivesUp(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return &RateLimitError{}
	})
	if !IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls != 6 {
		t.Fatalf("expected 1 call plus 5 retries, got %d calls", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait %d: expected %s, got %s", i, want[i], waits[i])
		}
	}
}

func TestDoWaitsExactRetryAfter(t *testing.T) {
	var waited time.Duration
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			waited = d
			return nil
		},
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: "7"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if waited != 7*time.Second {
		t.Fatalf("expected 7s wait, got %s", waited)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Sleep: func(context.Context, time.Duration) error {
			t.Fatalf("unexpected sleep")
			return nil
		},
	}
	calls := 0
	apiErr := &APIError{StatusCode: 500, Body: "boom"}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apiErr
	})
	if !errors.Is(err, apiErr) || calls != 1 {
		t.Fatalf("expected single failed call, got %d calls err=%v", calls, err)
	}
}
