package backoff

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimitPolicyMatchesDocumentedShape(t *testing.T) {
	p := RateLimitPolicy()
	if p.InitialMs != 1500 || p.MaxMs != 40000 || p.Factor != 2 {
		t.Fatalf("unexpected rate limit policy: %+v", p)
	}
}

func TestComputeBackoffMonotonicallyNonDecreasingBoundedByCap(t *testing.T) {
	p := RateLimitPolicy()
	prev := time.Duration(0)
	for attempt := 1; attempt <= DefaultRateLimitAttempts; attempt++ {
		d := ComputeBackoffWithRand(p, attempt, 0)
		if d < prev {
			t.Fatalf("attempt %d backoff %v < previous %v", attempt, d, prev)
		}
		if d > time.Duration(p.MaxMs)*time.Millisecond {
			t.Fatalf("attempt %d backoff %v exceeds cap", attempt, d)
		}
		prev = d
	}
}

func TestRetryAfterDelayParsesSeconds(t *testing.T) {
	now := time.Now()
	d, ok := RetryAfterDelay("5", now)
	if !ok || d != 5*time.Second {
		t.Fatalf("got %v, %v, want 5s, true", d, ok)
	}
}

func TestRetryAfterDelayParsesHTTPDate(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(10 * time.Second)
	header := future.Format(time.RFC1123)
	d, ok := RetryAfterDelay(header, now)
	if !ok {
		t.Fatalf("expected HTTP-date to parse")
	}
	if d < 9*time.Second || d > 11*time.Second {
		t.Fatalf("got %v, want ~10s", d)
	}
}

func TestRetryAfterDelayInvalidHeaderIsNotOK(t *testing.T) {
	if _, ok := RetryAfterDelay("not-a-date-or-number", time.Now()); ok {
		t.Fatalf("expected invalid header to be rejected")
	}
	if _, ok := RetryAfterDelay("", time.Now()); ok {
		t.Fatalf("expected empty header to be rejected")
	}
}

func TestNextRateLimitDelayPrefersRetryAfterHeader(t *testing.T) {
	p := RateLimitPolicy()
	now := time.Now()
	d := NextRateLimitDelay(p, 1, "3", now)
	if d != 3*time.Second {
		t.Fatalf("got %v, want 3s", d)
	}
}

func TestNextRateLimitDelayFallsBackToPolicyWithoutHeader(t *testing.T) {
	p := RateLimitPolicy()
	now := time.Now()
	d := NextRateLimitDelay(p, 1, "", now)
	if d <= 0 {
		t.Fatalf("expected a positive computed backoff, got %v", d)
	}
}

func TestRateLimitedErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := &RateLimitedError{Cause: cause, Attempts: 4}

	rl, ok := AsRateLimited(err)
	if !ok || rl.Attempts != 4 {
		t.Fatalf("expected AsRateLimited to recover the typed error")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through RateLimitedError via Unwrap")
	}
}
