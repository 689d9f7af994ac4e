package culling

import (
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
)

// ContextBuilderOption is a functional option for configuring a Context.
type ContextBuilderOption func(c *Context)

// WithScheduler replaces the scheduler built from the configuration.
//
// Parameters:
//   - s: the scheduler to run builder and query tasks on
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithScheduler(s task.Scheduler) ContextBuilderOption {
	return func(c *Context) {
		c.scheduler = s
	}
}

// WithTracker replaces the default primitive tracker, for example to plug in a
// different occupancy cache.
//
// Parameters:
//   - t: the tracker
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithTracker(t primitive_state.Tracker) ContextBuilderOption {
	return func(c *Context) {
		c.primitives = t
	}
}
