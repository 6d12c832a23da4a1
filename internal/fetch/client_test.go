package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) *ExponentialRetryPolicy {
	return NewExponentialRetryPolicy(attempts, time.Millisecond, 5*time.Millisecond)
}

func TestGetRetriesTransientStatusThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, testPolicy(5), "test-agent", nil)
	res, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 3, res.Attempts)
	require.JSONEq(t, `{"ok":true}`, string(res.Body))
	require.EqualValues(t, 3, calls.Load())
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(time.Second, testPolicy(5), "", nil)
	res, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.False(t, res.OK())
	require.EqualValues(t, 1, calls.Load())
}

func TestGetNoContentShortCircuits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(time.Second, testPolicy(5), "", nil)
	res, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.True(t, res.NoContent)
	require.False(t, res.OK())
	require.Empty(t, res.Body)
}

func TestGetExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second, testPolicy(5), "", nil)
	res, err := c.Get(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, 5, res.Attempts)
	require.EqualValues(t, 5, calls.Load())
}

func TestShouldRetryClassification(t *testing.T) {
	t.Parallel()

	p := testPolicy(5)
	require.True(t, p.ShouldRetry(http.StatusRequestTimeout, nil, 1))
	require.True(t, p.ShouldRetry(http.StatusTooManyRequests, nil, 1))
	require.True(t, p.ShouldRetry(http.StatusBadGateway, nil, 1))
	require.False(t, p.ShouldRetry(http.StatusNotFound, nil, 1))
	require.False(t, p.ShouldRetry(http.StatusOK, nil, 1))
	require.False(t, p.ShouldRetry(http.StatusInternalServerError, nil, 5))
	require.False(t, p.ShouldRetry(0, context.Canceled, 1))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
