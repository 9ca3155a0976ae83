package ddp

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runParallel launches fn on workers goroutines indexed 0..workers-1 and
// waits for all of them. The first non-nil error cancels the shared
// context.
func runParallel(ctx context.Context, workers int, fn func(ctx context.Context, worker int) error) error {
	if workers <= 1 {
		return fn(ctx, 0)
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			return fn(gctx, worker)
		})
	}
	return g.Wait()
}

// parallelFor distributes indices [0, n) across workers via an atomic
// counter, so uneven per-index workloads self-balance.
func parallelFor(ctx context.Context, workers, n int, fn func(worker, index int) error) error {
	var next atomic.Int64
	return runParallel(ctx, workers, func(ctx context.Context, worker int) error {
		for {
			i := int(next.Add(1)) - 1
			if i >= n {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(worker, i); err != nil {
				return err
			}
		}
	})
}
