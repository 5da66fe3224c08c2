package orchestrator

import (
	"context"
	"runtime"
	"sync"

	"github.com/barqly/vault-core/internal/vaulterr"
)

// defaultPoolSize is ParallelEach's default worker count, one per CPU,
// bounding fan-out the way other_examples' chunked S3 encryption reader
// bounds its chunk workers with a `workerPool chan struct{}` semaphore.
// Encrypt uses it for the pass that opens each source file to check it is
// readable; hashing and encryption run sequentially in bundle.Compose.
func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// ParallelEach runs fn(item) for every item, bounded to workers concurrent
// goroutines, returning the first error encountered (others are still
// awaited for cleanup, but discarded) or the context's cancellation error.
func ParallelEach[T any](ctx context.Context, items []T, workers int, fn func(T) error) error {
	if workers <= 0 {
		workers = defaultPoolSize()
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers == 0 {
		return nil
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	errOnce := sync.Once{}
	var firstErr error

	for _, item := range items {
		item := item
		select {
		case <-ctx.Done():
			wg.Wait()
			return vaulterr.Wrap(vaulterr.CodeCancelled, "operation cancelled", ctx.Err())
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(item); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}
