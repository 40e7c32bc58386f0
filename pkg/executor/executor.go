// Package executor supplies the engine's scheduling capability:
// execute(task) where task: () -> (). The engine never schedules a
// goroutine directly — every source/back/compute strategy and every async
// publisher dispatch goes through an Executor, so callers can swap in
// whatever scheduling policy they like.
//
// Pool is the one concrete implementation this repository ships: a
// bounded, drop-on-saturation worker pool built on
// golang.org/x/sync/semaphore. singleflight's coalesce-duplicate-calls
// semantics are the wrong fit for an engine whose whole point is to
// prefer the newest caller and drop the rest (see DESIGN.md);
// semaphore.Weighted is the sub-package that actually matches a
// backpressure-by-dropping executor.
//
// © 2025 pathway authors. MIT License.
package executor

import (
	"golang.org/x/sync/semaphore"
)

// Task is a unit of deferred work.
type Task func()

// Executor runs tasks, possibly concurrently, possibly out of order. Pool
// never blocks the caller of Execute; Inline runs the task on the caller's
// goroutine and returns when it finishes.
type Executor interface {
	Execute(task Task)
}

// Inline runs every task synchronously on the calling goroutine. Useful in
// tests and for wiring a Cache's getSource(delayer) strategy without any
// real concurrency.
type Inline struct{}

func (Inline) Execute(task Task) { task() }

// Pool is a bounded worker pool: at most concurrency tasks run at once.
// A task submitted while the pool is saturated is dropped, not queued —
// consistent with the engine's drop-older-keep-newest backpressure policy.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool builds a Pool that runs up to concurrency tasks at a time.
// A concurrency below 1 is treated as 1.
func NewPool(concurrency int64) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{sem: semaphore.NewWeighted(concurrency)}
}

// Execute runs task on a new goroutine if a slot is free, or drops it if
// the pool is saturated.
func (p *Pool) Execute(task Task) {
	if !p.sem.TryAcquire(1) {
		return
	}
	go func() {
		defer p.sem.Release(1)
		task()
	}()
}

