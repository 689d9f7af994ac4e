package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Handle is the completion future of a launched task.
type Handle struct {
	label string
	done  chan struct{}
	err   error
}

// Completed returns a handle that is already done.
//
// Returns:
//   - *Handle: a finished handle without error
func Completed() *Handle {
	h := &Handle{label: "completed", done: make(chan struct{})}
	close(h.done)
	return h
}

// Wait blocks until the task finished and returns its error. A nil handle is done.
func (h *Handle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// Done reports whether the task finished without blocking.
func (h *Handle) Done() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Label returns the label the task was launched with.
func (h *Handle) Label() string {
	if h == nil {
		return ""
	}
	return h.label
}

// Scheduler runs tasks that may depend on previously launched tasks.
//
// Tasks are taken from a FIFO queue. A task waits for its prerequisites on the
// worker that picked it up, so prerequisites must always have been launched
// before the tasks depending on them.
type Scheduler interface {
	// Launch runs fn once every prerequisite finished. Prerequisite errors are
	// not forwarded; they surface at their own handle.
	//
	// Parameters:
	//   - label: a name used in logs and errors
	//   - prerequisites: handles to wait for, nil entries are ignored
	//   - fn: the task body
	//
	// Returns:
	//   - *Handle: the completion handle
	Launch(label string, prerequisites []*Handle, fn func() error) *Handle

	// Workers returns the maximum number of concurrently running tasks, 0 when tasks run inline.
	Workers() int
}

type scheduler struct {
	workers     int
	queueSize   int
	idleTimeout time.Duration
	inline      bool

	pool   worker.DynamicWorkerPool
	nextID atomic.Int64
}

var _ Scheduler = &scheduler{}

// NewScheduler creates a Scheduler backed by a dynamic worker pool.
//
// Parameters:
//   - options: functional options to configure the scheduler
//
// Returns:
//   - Scheduler: the scheduler
func NewScheduler(options ...SchedulerBuilderOption) Scheduler {
	s := &scheduler{
		workers:     4,
		queueSize:   256,
		idleTimeout: 1 * time.Second,
	}
	for _, option := range options {
		option(s)
	}
	if s.inline {
		s.workers = 0
		return s
	}
	if s.workers < 1 {
		panic("task: scheduler needs at least one worker")
	}
	s.pool = worker.NewDynamicWorkerPool(s.workers, s.queueSize, s.idleTimeout)
	return s
}

func (s *scheduler) Launch(label string, prerequisites []*Handle, fn func() error) *Handle {
	h := &Handle{label: label, done: make(chan struct{})}
	run := func() {
		defer close(h.done)
		for _, p := range prerequisites {
			_ = p.Wait()
		}
		h.err = runGuarded(label, fn)
		if h.err != nil {
			logs.WithTag("task", label).Debug(h.err)
		}
	}

	if s.inline {
		run()
		return h
	}

	id := int(s.nextID.Add(1))
	s.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			run()
			return nil, nil
		},
	})
	return h
}

func (s *scheduler) Workers() int {
	return s.workers
}

// runGuarded converts a panic inside fn into an error so that waiters are always released.
func runGuarded(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked").
				WithType(common.ErrTypeInvariant).
				WithTag("task", label).
				WithTag("panic", fmt.Sprint(r))
		}
	}()
	return fn()
}
