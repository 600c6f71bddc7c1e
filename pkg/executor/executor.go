// Package executor implements the bounded, backpressuring dispatch pool
// described in spec.md §4.2: a fixed width of concurrently-running
// closures, where submission blocks the caller once that width is
// saturated instead of growing an unbounded queue.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// BoundedExecutor runs closures across at most maxConcurrency goroutines
// at a time. The backpressure primitive is a weighted semaphore acquired
// synchronously in Post, in the style of the pack's ezworker pool: no
// unbounded queue ever accumulates behind it (spec.md §9).
type BoundedExecutor struct {
	maxConcurrency int64
	sem            *semaphore.Weighted
	wg             sync.WaitGroup
	stopped        atomic.Bool
}

// NewBoundedExecutor builds an executor accepting up to maxConcurrency
// concurrently-running closures. maxConcurrency must be at least 1;
// construction with 0 is reserved by the outer scheduler to mean "no
// executor needed" and is never expected to reach here (spec.md §4.2).
func NewBoundedExecutor(maxConcurrency uint) *BoundedExecutor {
	if maxConcurrency < 1 {
		panic("executor: maxConcurrency must be >= 1")
	}
	return &BoundedExecutor{
		maxConcurrency: int64(maxConcurrency),
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// NeedDefaultExecutor decides whether the outer scheduler needs a
// dedicated executor for its default concurrency group, per spec.md
// §4.2: no executor is needed when the default group has width 0, or in
// the singleton-default-with-no-other-groups case, where the caller may
// run inline instead.
func NeedDefaultExecutor(maxConcurrencyInDefaultGroup uint, hasOtherConcurrencyGroups bool) bool {
	if maxConcurrencyInDefaultGroup == 0 {
		return false
	}
	return maxConcurrencyInDefaultGroup > 1 || hasOtherConcurrencyGroups
}

// Post schedules fn for execution, blocking the caller until a slot is
// free. Submission order is preserved in dispatch order because
// semaphore.Weighted serves waiters FIFO; work is never dropped.
//
// Calling Post after Stop is a programmer error (spec.md §4.2); it
// panics rather than silently accepting or silently dropping work.
func (e *BoundedExecutor) Post(fn func()) {
	if e.stopped.Load() {
		panic("executor: Post called after Stop")
	}

	// Acquire blocks here, on the caller's own goroutine, which is the
	// entire backpressure contract: the queue behind this pool never
	// grows past maxConcurrency in-flight closures.
	timer := metrics.NewTimer()
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		// context.Background() never cancels; Acquire cannot fail here.
		panic(err)
	}
	timer.ObserveDuration(metrics.ExecutorSubmitWait)

	e.wg.Add(1)
	metrics.ExecutorInFlight.Inc()
	go e.run(fn)
}

func (e *BoundedExecutor) run(fn func()) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer metrics.ExecutorInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			// A closure's panic must not tear down the pool; it is
			// logged and swallowed, freeing the slot (spec.md §4.2,
			// §7 ExecutorSubmittedClosureThrew).
			log.Logger.Error().Interface("panic", r).Msg("executor: submitted closure panicked, recovering")
		}
	}()
	fn()
}

// Stop marks the executor as no longer accepting submissions. It does
// not wait for in-flight closures; call Join for that.
func (e *BoundedExecutor) Stop() {
	e.stopped.Store(true)
}

// Join blocks until every previously-accepted closure has completed.
// Must be called after Stop (spec.md §4.2).
func (e *BoundedExecutor) Join() {
	e.wg.Wait()
}
