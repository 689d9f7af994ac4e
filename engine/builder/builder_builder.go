package builder

// BuilderBuilderOption is a functional option for configuring a Builder.
type BuilderBuilderOption func(b *builder)

// WithPreUpdateHook sets a function run on the builder task after the
// previous frame's readers finished and before any mutation.
//
// Parameters:
//   - fn: the hook
//
// Returns:
//   - BuilderBuilderOption: option function to apply
func WithPreUpdateHook(fn func()) BuilderBuilderOption {
	return func(b *builder) {
		b.preUpdate = fn
	}
}

// WithPostUpdateHook adds a function run by EndUpdate once the builder task
// joined. Hooks run in the order they were added.
//
// Parameters:
//   - fn: the hook, typically the GPU mirror sync
//
// Returns:
//   - BuilderBuilderOption: option function to apply
func WithPostUpdateHook(fn func() error) BuilderBuilderOption {
	return func(b *builder) {
		b.postUpdate = append(b.postUpdate, fn)
	}
}
