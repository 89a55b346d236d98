// Package governor enforces inter-request pacing for quota-limited providers
// and classifies provider HTTP failures into retryable vs terminal outcomes.
package governor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Category classifies the outcome of one provider HTTP call.
type Category int

const (
	// CategoryOK is any 2xx response.
	CategoryOK Category = iota
	// CategoryRetryable is a 429; the caller should wait RetryAfter (or its
	// own default backoff) before the next call to that provider.
	CategoryRetryable
	// CategoryAuth is a 401/403; the caller must take the token-refresh
	// branch rather than retrying blindly.
	CategoryAuth
	// CategoryNotFound is a 404, mapped to "no data for this resource"
	// (e.g., a game never played) — an empty success, not an error.
	CategoryNotFound
	// CategoryTerminal is any other non-2xx; the call failed for good.
	CategoryTerminal
)

func (c Category) String() string {
	switch c {
	case CategoryOK:
		return "ok"
	case CategoryRetryable:
		return "retryable"
	case CategoryAuth:
		return "auth"
	case CategoryNotFound:
		return "not_found"
	case CategoryTerminal:
		return "terminal"
	}
	return "unknown"
}

// CallError carries the classification of a failed provider call.
type CallError struct {
	Category   Category
	StatusCode int
	RetryAfter time.Duration // advertised retry delay, 0 when absent
	Message    string
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider returned %d (%s): %s", e.StatusCode, e.Category, e.Message)
	}
	return fmt.Sprintf("provider returned %d (%s)", e.StatusCode, e.Category)
}

// Classify maps a provider HTTP response onto the failure taxonomy. It
// returns nil for 2xx responses. For 429s the advertised retry delay is
// extracted from the Retry-After header or a structured error body.
func Classify(resp *http.Response) *CallError {
	if resp == nil {
		return &CallError{Category: CategoryTerminal, Message: "no response"}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	ce := &CallError{StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		ce.Category = CategoryRetryable
		ce.RetryAfter = ParseRetryDelay(resp)
	case http.StatusUnauthorized, http.StatusForbidden:
		ce.Category = CategoryAuth
	case http.StatusNotFound:
		ce.Category = CategoryNotFound
	default:
		ce.Category = CategoryTerminal
	}
	return ce
}

// Pacer enforces a minimum inter-request interval plus a rolling
// request-count threshold with a forced cooldown once the threshold is hit
// within the window. Both limits apply before every outbound call.
type Pacer struct {
	limiter   *rate.Limiter
	window    time.Duration
	maxCalls  int
	mu        sync.Mutex
	callTimes []time.Time

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer builds a pacer with a minimum interval between requests and a
// hard cap of maxCalls per rolling window.
func NewPacer(minInterval time.Duration, maxCalls int, window time.Duration) *Pacer {
	return &Pacer{
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		window:   window,
		maxCalls: maxCalls,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until the next request is allowed, honoring both the
// inter-request interval and the rolling window cap.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	for {
		p.mu.Lock()
		now := time.Now()
		// Drop calls that have left the rolling window.
		live := p.callTimes[:0]
		for _, t := range p.callTimes {
			if now.Sub(t) < p.window {
				live = append(live, t)
			}
		}
		p.callTimes = live

		if len(p.callTimes) < p.maxCalls {
			p.callTimes = append(p.callTimes, now)
			p.mu.Unlock()
			return nil
		}
		cooldown := p.window - now.Sub(p.callTimes[0])
		p.mu.Unlock()

		if err := p.sleep(ctx, cooldown); err != nil {
			return err
		}
	}
}

// Backoff waits out a retryable failure's advertised delay (or the given
// fallback when the provider did not advertise one).
func (p *Pacer) Backoff(ctx context.Context, ce *CallError, fallback time.Duration) error {
	d := fallback
	if ce != nil && ce.RetryAfter > 0 {
		d = ce.RetryAfter
	}
	return p.sleep(ctx, d)
}
