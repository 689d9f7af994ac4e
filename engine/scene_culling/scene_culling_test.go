package scene_culling

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func init() {
	logs.SetLogger(func(e logs.Entry) {})
}

// gathered reads one sample from the default registry.
func gathered(t *testing.T, name string, labels prometheus.Labels) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if v, ok := labels[l.GetName()]; ok && v != l.GetValue() {
					continue metrics
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestFrameLifecycle(t *testing.T) {
	host := gpu_mirror.NewHostUploader()
	s, err := NewSceneCulling(host, WithLabel("lifecycle"))
	require.NoError(t, err)
	defer s.Close()

	s.BeginUpdate(builder.ChangeSet{Added: []builder.PrimitiveChange{
		{ID: 1, NumInstances: 1, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{0.5, 0.5, 0.5})},
		{ID: 2, InstanceOffset: 1, NumInstances: 4, Bounds: common.Box{}},
	}})
	require.NoError(t, s.EndUpdate())

	state, ok := s.State(1)
	require.True(t, ok)
	require.Equal(t, primitive_state.StateSingleCell, state)
	state, _ = s.State(2)
	require.Equal(t, primitive_state.StateUnCullable, state)
	_, ok = s.State(3)
	require.False(t, ok)

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.Frame)
	require.Equal(t, 2, stats.NumPrimitives)
	require.Equal(t, 1, stats.PrimitivesByState[primitive_state.StateSingleCell])
	require.Equal(t, 2, stats.NumChunks)
	require.Equal(t, 5, stats.NumItems)
	require.Equal(t, int(gpu_mirror.NumBuffers), stats.Sync.FullUploads)
	require.NotEmpty(t, host.Bytes(gpu_mirror.BufferCellHeaders))

	q := s.NewQuery()
	q.Add(0, 1, 1, query.CullingVolume{Sphere: common.Sphere{Radius: 10}, HasSphere: true})
	res, err := q.GetResult()
	require.NoError(t, err)
	require.Len(t, res.ChunkDraws, 1)
	require.Equal(t, uint32(1), res.UncullableDraws[0].NumChunks)

	require.Equal(t, float64(2), gathered(t, "culling_chunks", prometheus.Labels{sceneLabel: "lifecycle"}))
	require.Equal(t, float64(1), gathered(t, "culling_uncullable_total", prometheus.Labels{sceneLabel: "lifecycle", reasonLabel: builder.ReasonDegenerateBounds}))
}

func TestCapacityErrorIsCounted(t *testing.T) {
	cfg := culling.DefaultConfig()
	cfg.MaxChunks = 1
	s, err := NewSceneCulling(gpu_mirror.NewHostUploader(), WithConfig(cfg), WithLabel("capacity"))
	require.NoError(t, err)
	defer s.Close()

	s.BeginUpdate(builder.ChangeSet{Added: []builder.PrimitiveChange{
		{ID: 1, NumInstances: chunk_allocator.ChunkCapacity * 2, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1})},
	}})
	err = s.EndUpdate()
	require.True(t, errors.IsType(err, common.ErrTypeCapacityExceeded))
	require.Equal(t, float64(1), gathered(t, "culling_update_errors", prometheus.Labels{
		sceneLabel:   "capacity",
		errTypeLabel: common.ErrTypeCapacityExceeded,
	}))
}

func TestFailedFrameIsNotPublished(t *testing.T) {
	cfg := culling.DefaultConfig()
	cfg.MaxChunks = 2
	cfg.Synchronous = true
	host := gpu_mirror.NewHostUploader()
	s, err := NewSceneCulling(host, WithConfig(cfg), WithLabel("failed_frame"))
	require.NoError(t, err)
	defer s.Close()

	s.BeginUpdate(builder.ChangeSet{Added: []builder.PrimitiveChange{
		{ID: 1, NumInstances: 1, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{0.5, 0.5, 0.5})},
	}})
	require.NoError(t, s.EndUpdate())
	writes := host.Stats().Writes

	s.BeginUpdate(builder.ChangeSet{
		Removed: []uint32{1},
		Added: []builder.PrimitiveChange{
			{ID: 2, InstanceOffset: 1, NumInstances: chunk_allocator.ChunkCapacity * 2, Bounds: common.NewBox(mgl32.Vec3{100, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5})},
		},
	})
	err = s.EndUpdate()
	require.True(t, errors.IsType(err, common.ErrTypeCapacityExceeded))
	require.Equal(t, writes, host.Stats().Writes)

	_, ok := s.State(2)
	require.False(t, ok)
	stats := s.Stats()
	require.Zero(t, stats.NumChunks)
	require.Zero(t, stats.NumItems)
	require.Zero(t, s.Context().Hash().NumBlocks())

	q := s.NewQuery()
	q.Add(0, 1, 1, query.CullingVolume{Sphere: common.Sphere{Radius: 10}, HasSphere: true})
	_, err = q.GetResult()
	require.True(t, errors.IsType(err, common.ErrTypeCapacityExceeded))

	s.BeginUpdate(builder.ChangeSet{Removed: []uint32{2}})
	require.NoError(t, s.EndUpdate())
	require.Greater(t, host.Stats().Writes, writes)
	require.Zero(t, s.Stats().NumPrimitives)

	q = s.NewQuery()
	q.Add(0, 1, 1, query.CullingVolume{Sphere: common.Sphere{Radius: 10}, HasSphere: true})
	res, err := q.GetResult()
	require.NoError(t, err)
	require.Empty(t, res.ChunkDraws)
}

func TestInvalidConfig(t *testing.T) {
	cfg := culling.DefaultConfig()
	cfg.BaseCellSize = -1
	_, err := NewSceneCulling(gpu_mirror.NewHostUploader(), WithConfig(cfg))
	require.True(t, errors.IsType(err, common.ErrTypeConfig))

	require.Panics(t, func() {
		_, _ = NewSceneCulling(nil)
	})
}

func TestUpdateAfterClosePanics(t *testing.T) {
	s, err := NewSceneCulling(gpu_mirror.NewHostUploader())
	require.NoError(t, err)
	s.Close()
	s.Close()
	require.Panics(t, func() {
		s.BeginUpdate(builder.ChangeSet{})
	})
}
