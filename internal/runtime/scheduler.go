package runtime

import "sync"

// Scheduler runs independent tasks. A task started through Go is never
// awaited by its starter.
type Scheduler interface {
	Go(task func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func())

func (f SchedulerFunc) Go(task func()) { f(task) }

// GoroutineScheduler runs each task on its own goroutine and lets Close wait
// for the ones still running.
type GoroutineScheduler struct {
	wg sync.WaitGroup
}

func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{}
}

func (s *GoroutineScheduler) Go(task func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task()
	}()
}

// Wait blocks until every started task has returned.
func (s *GoroutineScheduler) Wait() {
	s.wg.Wait()
}

type waiter interface {
	Wait()
}
