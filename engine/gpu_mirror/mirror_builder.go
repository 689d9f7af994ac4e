package gpu_mirror

// MirrorBuilderOption is a functional option for configuring a Mirror.
type MirrorBuilderOption func(m *mirror)

// WithFullUploadRatio sets the share of dirty rows above which a buffer is
// uploaded whole instead of in runs. The default is 0.5.
//
// Parameters:
//   - ratio: a value between 0 and 1, values outside are clamped
//
// Returns:
//   - MirrorBuilderOption: option function to apply
func WithFullUploadRatio(ratio float64) MirrorBuilderOption {
	return func(m *mirror) {
		m.fullUploadRatio = min(max(ratio, 0), 1)
	}
}
