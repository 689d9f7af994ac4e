package engine

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/Carmen-Shannon/oxy-cull/engine/scene_culling"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func init() {
	logs.SetLogger(func(e logs.Entry) {})
}

func newTestCulling(t *testing.T, synchronous bool) scene_culling.SceneCulling {
	cfg := culling.DefaultConfig()
	cfg.Synchronous = synchronous
	cfg.Workers = 2
	s, err := scene_culling.NewSceneCulling(gpu_mirror.NewHostUploader(), scene_culling.WithConfig(cfg), scene_culling.WithLabel("engine_test"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRunDeliversPreviousFrameResults(t *testing.T) {
	for _, synchronous := range []bool{true, false} {
		t.Run(map[bool]string{true: "synchronous", false: "async"}[synchronous], func(t *testing.T) {
			s := newTestCulling(t, synchronous)
			e := NewEngine(s, WithMaxFrames(3))

			frame := 0
			e.SetTickCallback(func(dt float32) builder.ChangeSet {
				frame++
				if frame == 2 {
					return builder.ChangeSet{Added: []builder.PrimitiveChange{
						{ID: 1, NumInstances: 1, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{0.5, 0.5, 0.5})},
					}}
				}
				return builder.ChangeSet{}
			})
			e.SetViewCallback(func(q query.Query) {
				q.Add(0, 1, 1, query.CullingVolume{Sphere: common.Sphere{Radius: 10}, HasSphere: true})
			})
			var draws []int
			e.SetResultCallback(func(res *query.Result) {
				draws = append(draws, len(res.ChunkDraws))
			})

			require.NoError(t, e.Run(context.Background()))
			require.Equal(t, 3, frame)
			require.Equal(t, []int{0, 1, 1}, draws)
		})
	}
}

func TestRunStopsOnUpdateError(t *testing.T) {
	cfg := culling.DefaultConfig()
	cfg.MaxChunks = 1
	cfg.Synchronous = true
	s, err := scene_culling.NewSceneCulling(gpu_mirror.NewHostUploader(), scene_culling.WithConfig(cfg), scene_culling.WithLabel("engine_error"))
	require.NoError(t, err)
	defer s.Close()

	e := NewEngine(s)
	e.SetTickCallback(func(dt float32) builder.ChangeSet {
		return builder.ChangeSet{Added: []builder.PrimitiveChange{
			{ID: 1, NumInstances: 200, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1})},
		}}
	})
	require.Error(t, e.Run(context.Background()))
}

func TestQuitAndCancel(t *testing.T) {
	s := newTestCulling(t, true)

	e := NewEngine(s)
	e.Quit()
	e.Quit()
	require.NoError(t, e.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, NewEngine(s).Run(ctx))

	require.Panics(t, func() { NewEngine(nil) })
}
