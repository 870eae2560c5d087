package llm

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy retries rate-limited completions with backoff. Any other error
// is returned immediately.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err *RateLimitError)
}

// DefaultRetryPolicy retries five times starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}
}

// Delay computes the wait before retry number attempt (1-based). An explicit
// retry-after wins, then the request reset window, then exponential backoff.
func (p RetryPolicy) Delay(attempt int, rl *RateLimitError) time.Duration {
	if rl != nil {
		if d, ok := parseRetryAfter(rl.RetryAfter); ok {
			return d
		}
		if d, ok := ParseResetDuration(rl.ResetRequests); ok {
			return d
		}
	}
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

var resetComponent = regexp.MustCompile(`(\d+(?:\.\d+)?)(ms|h|m|s)`)

// ParseResetDuration sums a compound duration such as "1m30s" or "250ms".
// Only positive totals are accepted.
func ParseResetDuration(v string) (time.Duration, bool) {
	var total float64
	for _, match := range resetComponent.FindAllStringSubmatch(v, -1) {
		n, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		switch match[2] {
		case "h":
			total += n * float64(time.Hour)
		case "m":
			total += n * float64(time.Minute)
		case "s":
			total += n * float64(time.Second)
		case "ms":
			total += n * float64(time.Millisecond)
		}
	}
	if total <= 0 {
		return 0, false
	}
	return time.Duration(total), true
}

// Do runs fn, retrying it while it fails with a rate limit.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var rl *RateLimitError
		if !errors.As(err, &rl) || attempt > p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt, rl)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, rl)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// Wrap returns a Completer that applies the policy to every call.
func (p RetryPolicy) Wrap(c Completer) Completer {
	return CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
		var resp *Response
		err := p.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.Complete(ctx, req)
			return err
		})
		return resp, err
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
