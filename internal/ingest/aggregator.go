package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/licitabr/pncp-mirror/internal/pncp"
)

// runPool executes fn over inputs with a bounded worker pool. Workers report
// results over a channel and the caller aggregates them, so no counter is
// ever shared between goroutines.
func runPool[T, R any](ctx context.Context, workers int, inputs []T, fn func(context.Context, T) R) []R {
	if len(inputs) == 0 {
		return nil
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	in := make(chan T)
	out := make(chan R, len(inputs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range in {
				out <- fn(ctx, item)
			}
		}()
	}

	go func() {
		defer close(in)
		for _, item := range inputs {
			select {
			case in <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]R, 0, len(inputs))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// fetchWithParseRetry re-issues a page fetch when the body was 2xx but
// undecodable. The parse budget is deliberately separate from the network
// retry budget, which the fetch client already spent internally.
func fetchWithParseRetry(parseRetries int, fn func() (pncp.Page, error)) (pncp.Page, int, error) {
	var page pncp.Page
	var err error
	for attempt := 1; attempt <= parseRetries; attempt++ {
		page, err = fn()
		if err == nil {
			return page, attempt, nil
		}
		if !errors.Is(err, pncp.ErrMalformed) {
			return page, attempt, err
		}
	}
	return page, parseRetries, err
}

// dedupeByKey keeps the first occurrence per natural key within one page.
// Upstream occasionally repeats a record inside a single page; writing both
// would make the multi-row upsert statement conflict with itself.
func dedupeByKey(objs []map[string]any, keyOf func(map[string]any) string) []map[string]any {
	seen := make(map[string]struct{}, len(objs))
	out := objs[:0:0]
	for _, obj := range objs {
		key := keyOf(obj)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, obj)
	}
	return out
}

func ceilDiv(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
