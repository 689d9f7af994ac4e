package task

import "time"

// SchedulerBuilderOption is a functional option for configuring a Scheduler.
type SchedulerBuilderOption func(s *scheduler)

// WithWorkers sets the maximum number of pool goroutines.
//
// Parameters:
//   - n: the worker count, at least 1
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithWorkers(n int) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.workers = n
	}
}

// WithQueueSize sets the capacity of the pending task queue. Launch blocks while the queue is full.
//
// Parameters:
//   - n: the queue capacity
//
// Returns:
//   - SchedulerBuilderOption: option function to apply
func WithQueueSize(n int) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.queueSize = n
	}
}

// WithIdleTimeout sets how long an idle worker lives before exiting.
func WithIdleTimeout(d time.Duration) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.idleTimeout = d
	}
}

// WithInline runs every task synchronously inside Launch. Useful for debugging
// and for deterministic single-threaded runs.
func WithInline(inline bool) SchedulerBuilderOption {
	return func(s *scheduler) {
		s.inline = inline
	}
}
