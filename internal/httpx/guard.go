package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// CheckStatus turns a non-2xx response into a StatusError, draining a short
// prefix of the body for context. The body is closed in that case.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &StatusError{URL: resp.Request.URL.Redacted(), Status: resp.StatusCode, Body: string(snippet)}
}

// Guard wraps upstream calls in a circuit breaker so a failing dependency is
// given time to recover instead of being hammered.
type Guard struct {
	cb *gobreaker.CircuitBreaker
}

// NewGuard returns a breaker that opens after more than five consecutive
// failures and probes again after thirty seconds.
func NewGuard(name string) *Guard {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller cancellation and client-side mistakes say nothing about
			// upstream health.
			if errors.Is(err, context.Canceled) {
				return true
			}
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 && statusErr.Status != http.StatusTooManyRequests {
				return true
			}
			return false
		},
	}
	return &Guard{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. When the breaker is open fn is not called
// and gobreaker.ErrOpenState is returned.
func (g *Guard) Do(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (g *Guard) State() string {
	return g.cb.State().String()
}
