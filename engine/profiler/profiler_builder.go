package profiler

import "time"

// ProfilerBuilderOption is a functional option for configuring a Profiler.
type ProfilerBuilderOption func(p *Profiler)

// WithUpdateInterval sets how often the summary is logged.
//
// Parameters:
//   - interval: the time between two summaries
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithUpdateInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.updateInterval = interval
	}
}

// WithLabel sets the scene tag of the summaries.
func WithLabel(label string) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.label = label
	}
}
