package jobs

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn for every index in [0, n) on min(concurrency, n) runners
// pulling from a shared cursor. fn reports sub-task failures through its own
// bookkeeping; a returned error means the batch cannot continue and stops the
// remaining runners.
func FanOut(ctx context.Context, concurrency, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
