package clickup

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn for every key on at most min(workers, ceiling) goroutines.
// Per-key failures are collected rather than cancelling the batch; every
// call still goes through the client's shared limiter.
func FanOut[T any](ctx context.Context, keys []string, workers, ceiling int, fn func(context.Context, string) (T, error)) (map[string]T, map[string]error) {
	if workers <= 0 || (ceiling > 0 && workers > ceiling) {
		workers = ceiling
	}
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	results := make(map[string]T, len(keys))
	errs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, key := range keys {
		if gctx.Err() != nil {
			mu.Lock()
			errs[key] = gctx.Err()
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			v, err := fn(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[key] = err
				return nil
			}
			results[key] = v
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
