// Package jobs runs independent units of pipeline work on a bounded worker
// pool. Files are the resolver's unit, entry points the tracer's; both are
// safe to run concurrently against the store.
package jobs

import (
	"context"
	"sync"

	"tracer/internal/logging"
)

// Task is one unit of work. Run must honor ctx cancellation.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskError pairs a failed task with its error.
type TaskError struct {
	Name string
	Err  error
}

// Result summarises one pool run.
type Result struct {
	Completed int
	Failed    []TaskError
}

// Pool executes tasks with a fixed number of workers. A task failure is
// recorded, not fatal; cancellation stops dispatch between tasks.
type Pool struct {
	workers int
	logger  *logging.Logger
}

// NewPool creates a pool. workers below 1 means a single worker.
func NewPool(workers int, logger *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, logger: logger}
}

// Run executes every task and waits for completion. The returned error is
// only the context's; per-task failures are in the result.
func (p *Pool) Run(ctx context.Context, tasks []Task) (*Result, error) {
	result := &Result{}
	if len(tasks) == 0 {
		return result, nil
	}

	queue := make(chan Task)
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				if ctx.Err() != nil {
					return
				}
				err := task.Run(ctx)

				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, TaskError{Name: task.Name, Err: err})
				} else {
					result.Completed++
				}
				mu.Unlock()

				if err != nil {
					p.logger.Warn("task failed", logging.Fields{
						"task": task.Name, "error": err.Error(),
					})
				}
			}
		}()
	}

dispatch:
	for _, task := range tasks {
		select {
		case queue <- task:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	return result, ctx.Err()
}
