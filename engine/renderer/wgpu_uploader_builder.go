package renderer

import "github.com/cogentcore/webgpu/wgpu"

// WGPUUploaderBuilderOption is a functional option applied to a WGPUUploader during construction via NewWGPUUploader.
type WGPUUploaderBuilderOption func(*WGPUUploader)

// WithLabel sets the debug label prefix of the created GPU objects.
//
// Parameters:
//   - label: the label prefix, "culling" by default
//
// Returns:
//   - WGPUUploaderBuilderOption: a function that applies the label option to an uploader
func WithLabel(label string) WGPUUploaderBuilderOption {
	return func(u *WGPUUploader) {
		u.label = label
	}
}

// WithExtraBufferUsage adds usage flags to every created buffer, e.g.
// wgpu.BufferUsageCopySrc to read the mirror back for debugging.
//
// Parameters:
//   - usage: the additional usage flags
//
// Returns:
//   - WGPUUploaderBuilderOption: a function that applies the usage option to an uploader
func WithExtraBufferUsage(usage wgpu.BufferUsage) WGPUUploaderBuilderOption {
	return func(u *WGPUUploader) {
		u.extraUsage |= usage
	}
}

// WithVisibility sets the shader stages the bind group layout exposes the buffers to.
//
// Parameters:
//   - stages: the shader stage flags, compute by default
//
// Returns:
//   - WGPUUploaderBuilderOption: a function that applies the visibility option to an uploader
func WithVisibility(stages wgpu.ShaderStage) WGPUUploaderBuilderOption {
	return func(u *WGPUUploader) {
		u.visibility = stages
	}
}
