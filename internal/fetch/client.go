// Package fetch implements the outbound HTTP client used against the
// procurement portal. It owns the retry/backoff policy; callers receive a
// typed result instead of raw transport errors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrAttemptsExhausted is returned once the retry budget for a request has
// been spent on transient failures.
var ErrAttemptsExhausted = errors.New("fetch: retry attempts exhausted")

// Result is the outcome of a single logical fetch. NoContent is set for 204
// responses, which short-circuit before any body handling.
type Result struct {
	StatusCode int
	Body       []byte
	NoContent  bool
	Attempts   int
}

// OK reports whether the response carries a usable 2xx payload.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && !r.NoContent
}

// Client issues GET requests with bounded automatic retries. The underlying
// http.Client pools connections and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	policy     *ExponentialRetryPolicy
	userAgent  string
	logger     *zap.Logger
}

// NewClient constructs a Client. A nil logger is replaced with a no-op.
func NewClient(timeout time.Duration, policy *ExponentialRetryPolicy, userAgent string, logger *zap.Logger) *Client {
	if policy == nil {
		policy = NewExponentialRetryPolicy(5, 1500*time.Millisecond, time.Minute)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Get fetches rawURL with the given query parameters, retrying transient
// failures per the client's policy. Non-retryable statuses (404 included)
// are returned to the caller without error; only an exhausted retry budget
// or a non-transient transport problem produces an error.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (Result, error) {
	target := rawURL
	if len(query) > 0 {
		target = rawURL + "?" + query.Encode()
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			wait := c.policy.Backoff(attempt - 1)
			c.logger.Debug("retrying fetch",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Result{Attempts: attempt}, fmt.Errorf("fetch %s: %w", target, ctx.Err())
			}
		}

		res, status, err := c.doOnce(ctx, target)
		lastStatus, lastErr = status, err
		if err == nil && !isTransientStatus(status) {
			res.Attempts = attempt + 1
			return res, nil
		}
		if !c.policy.ShouldRetry(status, err, attempt+1) {
			if err != nil {
				return Result{Attempts: attempt + 1}, fmt.Errorf("fetch %s: %w", target, err)
			}
			break
		}
	}

	if lastErr != nil {
		return Result{StatusCode: lastStatus, Attempts: c.policy.MaxAttempts()},
			fmt.Errorf("fetch %s after %d attempts: %w: %w", target, c.policy.MaxAttempts(), ErrAttemptsExhausted, lastErr)
	}
	return Result{StatusCode: lastStatus, Attempts: c.policy.MaxAttempts()},
		fmt.Errorf("fetch %s after %d attempts (status %d): %w", target, c.policy.MaxAttempts(), lastStatus, ErrAttemptsExhausted)
}

func (c *Client) doOnce(ctx context.Context, target string) (Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		// Empty result; skip body handling entirely.
		return Result{StatusCode: resp.StatusCode, NoContent: true}, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return Result{StatusCode: resp.StatusCode, Body: body}, resp.StatusCode, nil
}

func isTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}
