package common

// Error types attached to culling errors with errors.WithType. Callers match
// them with errors.IsType.
const (
	// ErrTypeConfig marks a configuration that cannot be represented (coordinate
	// range, id space). Construction must abort.
	ErrTypeConfig = "culling.config"

	// ErrTypeCapacityExceeded marks an allocation beyond a packed id or offset
	// width. The current frame's update fails.
	ErrTypeCapacityExceeded = "culling.capacity_exceeded"

	// ErrTypeInvariant marks a violated internal invariant.
	ErrTypeInvariant = "culling.invariant"
)
