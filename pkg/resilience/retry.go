package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryConfig holds retry and backoff configuration for outbound calls
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration

	// BackoffMultiplier scales the delay on each subsequent retry:
	// delay = BaseDelay * BackoffMultiplier^(retry-1)
	BackoffMultiplier float64

	// RequestTimeout bounds each individual attempt, independent of the
	// backoff delay between attempts
	RequestTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Response is the reduced HTTP response surfaced to callers. The body is
// fully read so the underlying connection is always reusable.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Caller composes a breaker-guarded HTTP call with bounded
// exponential-backoff retry. Client-class errors (4xx other than 429) are
// never retried; network errors and server-class errors (5xx, 429) are
// retried up to MaxRetries. Retries reuse the same breaker, so a failing
// sequence can trip it open mid-retry and abort further attempts.
type Caller struct {
	client   *http.Client
	breakers *Registry
	cfg      RetryConfig
}

// NewCaller creates a retrying caller. The breaker registry is shared with
// other call sites targeting the same downstream endpoints.
func NewCaller(client *http.Client, breakers *Registry, cfg RetryConfig) *Caller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Caller{
		client:   client,
		breakers: breakers,
		cfg:      cfg.withDefaults(),
	}
}

// Do performs the request against url, guarded by the breaker keyed by
// target. Target should be a normalized route template, not the full URL.
func (c *Caller) Do(ctx context.Context, target, method, url string, body []byte, header http.Header) (*Response, error) {
	breaker := c.breakers.Get(target)
	maxAttempts := c.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := breaker.Execute(func() (any, error) {
			return c.attempt(ctx, method, url, body, header)
		})

		if err == nil {
			resp := result.(*Response)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Client-class error: the request itself is wrong, never retried
				return nil, &CallError{
					Kind:       ErrKindHTTPStatus,
					Target:     target,
					Attempts:   attempt,
					StatusCode: resp.StatusCode,
					Err:        fmt.Errorf("client error %d", resp.StatusCode),
				}
			}
			return resp, nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			return nil, &CallError{Kind: ErrKindCircuitOpen, Target: target, Attempts: attempt, Err: err}
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := c.delayFor(attempt)
		slog.Warn("Outbound call failed, retrying",
			"target", target, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			return nil, &CallError{Kind: ErrKindTimeout, Target: target, Attempts: attempt, Err: sleepErr}
		}
	}

	callErr := &CallError{
		Kind:     ErrKindNetwork,
		Target:   target,
		Attempts: maxAttempts,
		Err:      lastErr,
	}
	var statusErr *httpStatusError
	switch {
	case errors.As(lastErr, &statusErr):
		callErr.Kind = ErrKindHTTPStatus
		callErr.StatusCode = statusErr.code
	case isTimeout(lastErr):
		callErr.Kind = ErrKindTimeout
	}
	return nil, callErr
}

// attempt performs one HTTP round trip under the breaker. Network errors and
// server-class statuses return an error so the breaker counts the failure;
// client-class statuses return the response with a nil error since they say
// nothing about the target's health.
func (c *Caller) attempt(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		req.Header[key] = values
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// delayFor computes the backoff delay before the given retry (1-based).
// Delays are deterministic, no jitter is applied.
func (c *Caller) delayFor(retry int) time.Duration {
	factor := math.Pow(c.cfg.BackoffMultiplier, float64(retry-1))
	return time.Duration(float64(c.cfg.BaseDelay) * factor)
}

// sleepWithContext sleeps for the given duration unless the context is
// cancelled first
func sleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
