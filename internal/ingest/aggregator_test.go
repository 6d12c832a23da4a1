package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/licitabr/pncp-mirror/internal/pncp"
)

func TestRunPoolProcessesEveryInput(t *testing.T) {
	t.Parallel()

	inputs := make([]int, 100)
	for i := range inputs {
		inputs[i] = i
	}
	results := runPool(context.Background(), 8, inputs, func(_ context.Context, n int) int {
		return n * 2
	})
	require.Len(t, results, 100)
	sort.Ints(results)
	require.Equal(t, 0, results[0])
	require.Equal(t, 198, results[99])
}

func TestRunPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	gate := make(chan struct{})
	inputs := make([]int, 20)
	done := make(chan []int)
	go func() {
		done <- runPool(context.Background(), 4, inputs, func(_ context.Context, n int) int {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-gate
			inFlight.Add(-1)
			return n
		})
	}()
	close(gate)
	require.Len(t, <-done, 20)
	require.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunPoolEmptyInput(t *testing.T) {
	t.Parallel()

	require.Nil(t, runPool(context.Background(), 4, nil, func(_ context.Context, n int) int {
		return n
	}))
}

func TestFetchWithParseRetrySucceedsFirstTry(t *testing.T) {
	t.Parallel()

	page, attempts, err := fetchWithParseRetry(3, func() (pncp.Page, error) {
		return pncp.Page{Status: 200}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 200, page.Status)
}

func TestFetchWithParseRetryRetriesOnlyMalformedBodies(t *testing.T) {
	t.Parallel()

	var calls int
	_, attempts, err := fetchWithParseRetry(3, func() (pncp.Page, error) {
		calls++
		return pncp.Page{}, fmt.Errorf("decode: %w", pncp.ErrMalformed)
	})
	require.ErrorIs(t, err, pncp.ErrMalformed)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, calls)

	calls = 0
	netErr := errors.New("retry budget exhausted")
	_, attempts, err = fetchWithParseRetry(3, func() (pncp.Page, error) {
		calls++
		return pncp.Page{}, netErr
	})
	require.ErrorIs(t, err, netErr)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestFetchWithParseRetryRecoversMidBudget(t *testing.T) {
	t.Parallel()

	var calls int
	_, attempts, err := fetchWithParseRetry(3, func() (pncp.Page, error) {
		calls++
		if calls < 2 {
			return pncp.Page{}, fmt.Errorf("decode: %w", pncp.ErrMalformed)
		}
		return pncp.Page{Status: 200}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestDedupeByKeyKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	objs := []map[string]any{
		{"k": "a", "n": 1},
		{"k": "b", "n": 2},
		{"k": "a", "n": 3},
		{"k": "", "n": 4},
	}
	out := dedupeByKey(objs, func(o map[string]any) string {
		s, _ := o["k"].(string)
		return s
	})
	require.Len(t, out, 2)
	require.Equal(t, 1, out[0]["n"])
	require.Equal(t, 2, out[1]["n"])
}

func TestCeilDiv(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ceilDiv(0, 50))
	require.Equal(t, 1, ceilDiv(1, 50))
	require.Equal(t, 1, ceilDiv(50, 50))
	require.Equal(t, 2, ceilDiv(51, 50))
	require.Equal(t, 3, ceilDiv(120, 50))
	require.Equal(t, 0, ceilDiv(-5, 50))
	require.Equal(t, 0, ceilDiv(10, 0))
}
