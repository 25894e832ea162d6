// Package external provides the anti-corruption layer between the SalonPost
// domain logic and the Meta Graph API. All outbound HTTP calls are routed
// through the BaseClient, which enforces consistent resilience patterns:
// circuit breaking, retries with exponential backoff, trace propagation, and
// error mapping.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"salonpost/internal/types"
)

// RetryPolicy bounds how often and how long the BaseClient retries a call.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the retry tuning used for Graph API publishing.
// Two retries keeps a transient 5xx from failing a post while still finishing
// well inside the scheduler's per-publish timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient is the shared HTTP transport for the publish adapters. It layers
// a circuit breaker and bounded retries over an *http.Client so every Graph
// call gets the same resilience behavior regardless of which adapter makes it.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
}

// BaseClientOption configures a BaseClient at construction time.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the inter-retry sleep. Tests use it to capture or
// skip waits.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient builds a BaseClient around httpClient. Each client owns its
// own breaker, named for diagnostics, so Facebook and Instagram trip
// independently.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil
			},
		}),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
	}

	for _, opt := range opts {
		opt(bc)
	}

	return bc
}

// Do sends the request through the breaker with retries on 429 and 5xx,
// honoring Retry-After. The request id from the context and the client's
// User-Agent are stamped onto every attempt. Responses with other status
// codes, 4xx included, come back as-is for the caller to interpret and close.
// When retries are exhausted or the breaker is open, Do returns a
// types.AppError carrying the matching upstream error code.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Buffer the body once so each attempt can replay it.
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body", err)
		}
		req.Body.Close()
	}

	attempts := 1 + c.retryPolicy.MaxRetries
	var finalResp *http.Response
	var finalErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.attempt(req)
		if err == nil {
			return resp, nil
		}
		finalErr = err

		// An open breaker will not recover within our retry horizon.
		if breakerRejected(err) {
			break
		}

		if resp != nil && !retryableStatus(resp.StatusCode) {
			// 4xx other than 429: hand the response back untouched.
			return resp, nil
		}

		last := attempt == attempts-1
		if resp != nil {
			if last {
				finalResp = resp
			} else {
				resp.Body.Close()
			}
		}
		if !last {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	if finalResp != nil {
		finalResp.Body.Close()
	}
	return nil, c.mapError(finalResp, finalErr)
}

// attempt runs one request through the breaker. Rate limits and 5xx count as
// breaker failures so a struggling upstream eventually trips it.
func (c *BaseClient) attempt(req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			return resp, fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return resp, nil
	})
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// computeBackoff picks the wait before the next attempt. A parseable
// Retry-After wins, capped at MaxWait; otherwise exponential backoff with
// full jitter over [MinWait, min(MaxWait, MinWait*2^attempt)].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if wait, ok := c.retryAfter(resp); ok {
		return wait
	}

	ceiling := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	ceiling = math.Min(ceiling, float64(c.retryPolicy.MaxWait))

	floor := float64(c.retryPolicy.MinWait)
	if ceiling <= floor {
		return c.retryPolicy.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

// retryAfter extracts a usable wait from the Retry-After header, which may be
// delay seconds or an HTTP date.
func (c *BaseClient) retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait), true
	}
	if at, err := http.ParseTime(header); err == nil {
		wait := time.Until(at)
		if wait <= 0 {
			return c.retryPolicy.MinWait, true
		}
		return min(wait, c.retryPolicy.MaxWait), true
	}
	return 0, false
}

// mapError translates the terminal failure into a domain AppError.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; upstream service unavailable", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	default:
		// Network error, DNS failure, or timeout without a response.
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"upstream request failed", err)
	}
}
