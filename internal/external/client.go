// Package external wraps outbound calls to third-party services. Every HTTP
// call goes through BaseClient, which applies a circuit breaker, bounded
// retries on 429/5xx and maps failures to AppErrors.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"subwatch/internal/types"
)

// RetryPolicy bounds the retries BaseClient performs for one call.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// BreakerSettings configures the circuit breaker guarding an upstream.
type BreakerSettings struct {
	// TripAfter is the number of consecutive failures that opens the breaker.
	TripAfter uint32
	// OpenFor is how long the breaker stays open before a probe request.
	OpenFor time.Duration
}

func defaultBreakerSettings() BreakerSettings {
	return BreakerSettings{TripAfter: 5, OpenFor: 30 * time.Second}
}

// BaseClient is the shared HTTP client for upstream providers.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	wait      func(ctx context.Context, d time.Duration) error
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithWaitFunc replaces the wait between retries. Tests use it to avoid real
// delays.
func WithWaitFunc(fn func(ctx context.Context, d time.Duration) error) BaseClientOption {
	return func(c *BaseClient) { c.wait = fn }
}

// WithBreakerSettings overrides the default breaker thresholds.
func WithBreakerSettings(name string, s BreakerSettings) BaseClientOption {
	return func(c *BaseClient) { c.breaker = newBreaker(name, s) }
}

func NewBaseClient(httpClient *http.Client, name string, retry RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		breaker:   newBreaker(name, defaultBreakerSettings()),
		retry:     retry,
		userAgent: userAgent,
		wait:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.TripAfter
		},
	})
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

// errRetryableStatus marks a response the breaker should count as a failure.
type errRetryableStatus struct{ code int }

func (e errRetryableStatus) Error() string { return fmt.Sprintf("upstream returned %d", e.code) }

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Do sends req. Responses other than 429 and 5xx are returned to the caller,
// who must close the body. 429/5xx and transport errors are retried up to
// RetryPolicy.MaxRetries times; once retries are exhausted, or while the
// breaker is open, Do returns an upstream_* AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
		body = b
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryableStatus(r.StatusCode) {
				return r, errRetryableStatus{r.StatusCode}
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			resp.Body.Close()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == c.retry.MaxRetries {
			break
		}
		if werr := c.wait(ctx, c.backoff(attempt, retryAfter)); werr != nil {
			lastErr = werr
			break
		}
	}

	return nil, mapUpstreamError(lastStatus, lastErr)
}

// backoff honors a Retry-After header (seconds or HTTP date) and otherwise
// picks a jittered exponential wait, both bounded by the policy.
func (c *BaseClient) backoff(attempt int, retryAfter string) time.Duration {
	clamp := func(d time.Duration) time.Duration {
		if d < c.retry.MinWait {
			return c.retry.MinWait
		}
		if d > c.retry.MaxWait {
			return c.retry.MaxWait
		}
		return d
	}

	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return clamp(time.Duration(secs) * time.Second)
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			return clamp(time.Until(at))
		}
	}

	ceiling := c.retry.MinWait << attempt
	if ceiling <= 0 || ceiling > c.retry.MaxWait {
		ceiling = c.retry.MaxWait
	}
	if ceiling <= c.retry.MinWait {
		return c.retry.MinWait
	}
	return c.retry.MinWait + rand.N(ceiling-c.retry.MinWait)
}

func mapUpstreamError(status int, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
