package main

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/Carmen-Shannon/oxy-cull/engine/scene_culling"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/stretchr/testify/require"
)

func testSceneConfig() sceneConfig {
	return sceneConfig{
		Primitives:   200,
		Instances:    8,
		WorldSize:    512,
		DynamicRatio: 0.25,
		Churn:        5,
		Probes:       3,
		ProbeRadius:  16,
		Seed:         7,
	}
}

func TestBenchSceneTick(t *testing.T) {
	s := newBenchScene(testSceneConfig())

	first := s.Tick(0.016)
	require.Len(t, first.Added, 200)
	require.Empty(t, first.Updated)
	require.Empty(t, first.Removed)

	for range 10 {
		cs := s.Tick(0.016)
		require.LessOrEqual(t, len(cs.Removed), 5)
		require.Len(t, cs.Added, len(cs.Removed))

		removed := make(map[uint32]bool)
		for _, id := range cs.Removed {
			require.False(t, removed[id])
			removed[id] = true
		}
		for _, c := range cs.Updated {
			require.False(t, removed[c.ID])
		}
	}
}

func TestBenchSceneRunsThroughCulling(t *testing.T) {
	logs.SetLogger(func(e logs.Entry) {})

	cfg := culling.DefaultConfig()
	cfg.Workers = 2
	sc, err := scene_culling.NewSceneCulling(gpu_mirror.NewHostUploader(), scene_culling.WithConfig(cfg), scene_culling.WithLabel("cullbench_test"))
	require.NoError(t, err)
	defer sc.Close()

	s := newBenchScene(testSceneConfig())
	for range 5 {
		cs := s.Tick(0.016)
		sc.BeginUpdate(cs)
		require.NoError(t, sc.EndUpdate())

		q := sc.NewQuery()
		s.Views(q)
		res, err := q.GetResult()
		require.NoError(t, err)
		require.Len(t, res.UncullableDraws, 1+1+3)
		require.Len(t, res.ViewGroups, 1+1+3)
	}
	require.Equal(t, 200, sc.Stats().NumPrimitives)
}

func TestResultTotals(t *testing.T) {
	var totals resultTotals
	totals.add(&query.Result{
		ChunkDraws:            make([]query.ChunkDraw, 3),
		BroadViewGroups:       []uint32{0},
		MaxOccludedChunkDraws: 10,
	})
	require.Equal(t, 1, totals.queries)
	require.Equal(t, 3, totals.chunkDraws)
	require.Equal(t, 1, totals.broadGroups)
	require.Equal(t, 10, totals.maxOccluded)
}
