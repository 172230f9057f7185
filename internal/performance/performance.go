// Package performance runs independent backtests concurrently and reports
// process memory usage.
package performance

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
// Tasks must not share mutable state; each backtest run owns its feeds,
// broker and analyzers.
type WorkerPool struct {
	workers    int
	taskQueue  chan func(context.Context)
	wg         sync.WaitGroup
	ctx        context.Context
	running    atomic.Bool
	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
}

// NewWorkerPool creates a pool bound to ctx. If workers is 0 it defaults
// to runtime.NumCPU().
func NewWorkerPool(ctx context.Context, workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(context.Context), workers),
		ctx:       ctx,
	}
}

// Start starts the workers.
func (p *WorkerPool) Start() {
	if p.running.Swap(true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		task(p.ctx)
		p.tasksDone.Add(1)
	}
}

// Submit queues a task, blocking while every worker is busy. It returns
// false if the pool is stopped or its context is done.
func (p *WorkerPool) Submit(task func(context.Context)) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.taskQueue <- task:
		p.tasksTotal.Add(1)
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Wait stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Wait() {
	if !p.running.Swap(false) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Running:    p.running.Load(),
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
}

// Map runs fn over inputs on a pool of workers and returns the outputs in
// input order. The first error wins; tasks not yet started are skipped
// once an error has occurred or ctx is done.
func Map[In, Out any](ctx context.Context, workers int, inputs []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := make([]Out, len(inputs))
	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	pool := NewWorkerPool(ctx, workers)
	pool.Start()
	for i := range inputs {
		i := i
		submitted := pool.Submit(func(ctx context.Context) {
			if ctx.Err() != nil {
				return
			}
			out, err := fn(ctx, inputs[i])
			if err != nil {
				fail(err)
				return
			}
			outputs[i] = out
		})
		if !submitted {
			break
		}
	}
	pool.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// MemoryStats returns current memory statistics.
func MemoryStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// MemStats contains memory statistics.
type MemStats struct {
	Alloc      uint64
	TotalAlloc uint64
	Sys        uint64
	NumGC      uint32
	Goroutines int
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
