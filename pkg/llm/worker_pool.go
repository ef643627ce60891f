package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the model-call worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent model calls (default: 8)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 8,
	}
}

// WorkerPool runs model calls with bounded parallelism. A semaphore limits
// outstanding requests so relationship batches for many tables do not flood
// the provider.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// MaxConcurrent reports the configured parallelism.
func (p *WorkerPool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and returns the
// results in submission order. A failing item does not stop the others;
// items still waiting for a slot when ctx ends get ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	finish := func(i int, r WorkResult[T]) {
		results[i] = r
		mu.Lock()
		completed++
		n := completed
		if onProgress != nil {
			onProgress(n, len(items))
		}
		mu.Unlock()
		if r.Err != nil {
			pool.logger.Debug("Work item failed", zap.String("id", r.ID), zap.Error(r.Err))
		}
	}

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				finish(i, WorkResult[T]{ID: item.ID, Err: ctx.Err()})
				return
			}

			result, err := item.Execute(ctx)
			finish(i, WorkResult[T]{ID: item.ID, Result: result, Err: err})
		}(i, item)
	}

	wg.Wait()
	return results
}
