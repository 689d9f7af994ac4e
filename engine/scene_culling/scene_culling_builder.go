package scene_culling

import (
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
)

// SceneCullingBuilderOption is a functional option for configuring a SceneCulling.
type SceneCullingBuilderOption func(s *sceneCulling)

// WithConfig replaces the default culling configuration.
//
// Parameters:
//   - config: the configuration, validated by NewSceneCulling
//
// Returns:
//   - SceneCullingBuilderOption: option function to apply
func WithConfig(config culling.Config) SceneCullingBuilderOption {
	return func(s *sceneCulling) {
		s.config = config
	}
}

// WithLabel sets the scene name used in logs and as the metrics label.
//
// Parameters:
//   - label: the scene name
//
// Returns:
//   - SceneCullingBuilderOption: option function to apply
func WithLabel(label string) SceneCullingBuilderOption {
	return func(s *sceneCulling) {
		s.label = label
	}
}

// WithMirrorOptions passes options through to the GPU mirror.
func WithMirrorOptions(options ...gpu_mirror.MirrorBuilderOption) SceneCullingBuilderOption {
	return func(s *sceneCulling) {
		s.mirrorOptions = append(s.mirrorOptions, options...)
	}
}
