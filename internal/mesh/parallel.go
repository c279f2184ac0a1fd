package mesh

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelFor splits [0, n) into at most workers contiguous ranges and calls
// fn for each on its own goroutine. It returns after every range finished,
// with the first error encountered.
func ParallelFor(ctx context.Context, n, workers int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers = max(1, min(workers, n))
	g, gctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}
