package builder

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func init() {
	logs.SetLogger(func(e logs.Entry) {})
}

func newTestContext(t *testing.T, mutate func(c *culling.Config)) *culling.Context {
	cfg := culling.DefaultConfig()
	cfg.BaseCellSize = 1
	cfg.MaxLevel = 10
	cfg.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	ctx, err := culling.NewContext(cfg)
	require.NoError(t, err)
	return ctx
}

func cube(center mgl32.Vec3, half float32) common.Box {
	return common.NewBox(center, mgl32.Vec3{half, half, half})
}

func runUpdate(t *testing.T, b Builder, cs ChangeSet) {
	b.BeginUpdate(cs)
	require.NoError(t, b.EndUpdate())
}

func TestSingleCellPrimitiveUsesNoCacheSlot(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := NewBuilder(ctx)

	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{
		{ID: 1, InstanceOffset: 0, NumInstances: 3, Bounds: cube(mgl32.Vec3{}, 0.5)},
	}})

	p, ok := ctx.Primitives().Get(1)
	require.True(t, ok)
	require.Equal(t, primitive_state.StateSingleCell, p.State())
	require.Equal(t, primitive_state.NoCacheSlot, p.Placement().CacheSlot)
	require.Zero(t, ctx.Primitives().Cache().NumAllocated())
	require.Equal(t, 1, ctx.Chunks().NumAllocatedChunks())
	require.Equal(t, 3, ctx.Chunks().NumItems())
	require.True(t, ctx.Hash().IsCellOccupied(p.Placement().CellIndex))

	runUpdate(t, b, ChangeSet{Removed: []uint32{1}})
	require.Zero(t, ctx.Primitives().Cache().NumAllocated())
	require.Zero(t, ctx.Chunks().NumAllocatedChunks())
	require.Zero(t, ctx.Hash().NumBlocks())
	require.Zero(t, ctx.Primitives().Len())
}

func TestPlacementRoutesToUncullable(t *testing.T) {
	ctx := newTestContext(t, func(c *culling.Config) {
		c.MaxLevel = 4
		c.MaxCellsPerPrimitive = 2
	})
	b := NewBuilder(ctx)

	nan := float32(math.NaN())
	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{
		{ID: 1, NumInstances: 1, InstanceOffset: 0, Bounds: common.Box{Min: mgl32.Vec3{nan, 0, 0}, Max: mgl32.Vec3{1, 1, 1}}},
		{ID: 2, NumInstances: 1, InstanceOffset: 1, Bounds: common.Box{}},
		{ID: 3, NumInstances: 1, InstanceOffset: 2, Bounds: cube(mgl32.Vec3{}, 100)},
		{ID: 4, NumInstances: 3, InstanceOffset: 3, Bounds: cube(mgl32.Vec3{}, 20), InstanceBounds: []common.Box{
			cube(mgl32.Vec3{-10, 0, 0}, 0.25),
			cube(mgl32.Vec3{0, 0, 0}, 0.25),
			cube(mgl32.Vec3{10, 0, 0}, 0.25),
		}},
	}})

	for id := uint32(1); id <= 4; id++ {
		p, ok := ctx.Primitives().Get(id)
		require.True(t, ok)
		require.Equal(t, primitive_state.StateUnCullable, p.State(), "primitive %d", id)
	}
	stats := b.LastStats()
	require.Equal(t, 2, stats.Uncullable[ReasonDegenerateBounds])
	require.Equal(t, 1, stats.Uncullable[ReasonTooLarge])
	require.Equal(t, 1, stats.Uncullable[ReasonTooManyCells])
	require.Zero(t, ctx.Hash().NumBlocks())

	span, ok := ctx.Chunks().CellChunkSpan(culling.UncullableCellIndex)
	require.True(t, ok)
	require.Equal(t, uint32(1), span.NumStatic)
	require.Equal(t, 6, ctx.Chunks().NumItems())

	// Degenerate bounds are replaced so chunk bounds stay finite.
	id, _, _ := chunk_allocator.UnpackChunkRef(ctx.Chunks().PackedCellChunkRefs()[span.Offset])
	bounds, _ := ctx.Chunks().ChunkBounds(id)
	require.False(t, bounds.IsDegenerate())
}

func TestMultiCellPrimitiveRecordsRuns(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := NewBuilder(ctx)

	left := cube(mgl32.Vec3{-20.5, 0.5, 0.5}, 0.25)
	right := cube(mgl32.Vec3{20.5, 0.5, 0.5}, 0.25)
	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{{
		ID:             7,
		InstanceOffset: 100,
		NumInstances:   4,
		Bounds:         cube(mgl32.Vec3{}, 21),
		InstanceBounds: []common.Box{left, right, left, right},
	}}})

	p, _ := ctx.Primitives().Get(7)
	require.Equal(t, primitive_state.StateCached, p.State())
	cache := ctx.Primitives().Cache()
	require.Equal(t, 1, cache.NumAllocated())

	var counts []uint32
	cache.ForEach(p.Placement().CacheSlot, func(cell, count uint32) bool {
		counts = append(counts, count)
		return true
	})
	// Instances are sorted by cell, so each cell is one run.
	require.Equal(t, []uint32{2, 2}, counts)
	require.Equal(t, 4, cache.Len(p.Placement().CacheSlot))
	require.Equal(t, 2, ctx.Chunks().NumCells())

	runUpdate(t, b, ChangeSet{Removed: []uint32{7}})
	require.Zero(t, cache.NumAllocated())
	require.Zero(t, ctx.Chunks().NumCells())
	require.Zero(t, ctx.Hash().NumBlocks())
}

func TestPrecomputedGroups(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := NewBuilder(ctx)

	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{{
		ID:             2,
		InstanceOffset: 10,
		NumInstances:   5,
		Bounds:         cube(mgl32.Vec3{}, 30),
		PrecomputedGroups: []PrecomputedGroup{
			{FirstInstance: 0, NumInstances: 2, Bounds: cube(mgl32.Vec3{-25, 0, 0}, 1)},
			{FirstInstance: 2, NumInstances: 2, Bounds: cube(mgl32.Vec3{25, 0, 0}, 1)},
		},
	}}})

	p, _ := ctx.Primitives().Get(2)
	require.Equal(t, primitive_state.StatePrecomputed, p.State())
	require.Equal(t, 3, ctx.Chunks().NumCells())
	require.Equal(t, 5, ctx.Chunks().NumItems())

	runUpdate(t, b, ChangeSet{Removed: []uint32{2}})
	require.Zero(t, ctx.Chunks().NumItems())
	require.Zero(t, ctx.Primitives().Cache().NumAllocated())
}

func TestMovedPrimitiveIsPromotedToDynamic(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := NewBuilder(ctx)

	change := PrimitiveChange{ID: 5, InstanceOffset: 0, NumInstances: 1, Bounds: cube(mgl32.Vec3{0.5, 0.5, 0.5}, 0.25)}
	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{change}})
	p, _ := ctx.Primitives().Get(5)
	require.Equal(t, primitive_state.StateSingleCell, p.State())

	change.Bounds = cube(mgl32.Vec3{40.5, 0.5, 0.5}, 0.25)
	runUpdate(t, b, ChangeSet{Updated: []PrimitiveChange{change}})
	require.True(t, p.Dynamic)
	require.Equal(t, primitive_state.StateDynamic, p.State())
	require.Equal(t, 1, b.LastStats().Promoted)
	require.Equal(t, 1, ctx.Primitives().Cache().NumAllocated())
	require.Equal(t, 1, ctx.Chunks().NumCells())

	var dynamicRefs int
	ctx.Chunks().ForEachCell(func(cell uint32, chunks chunk_allocator.CellChunks) bool {
		dynamicRefs += int(chunks.NumDynamic)
		require.Zero(t, chunks.NumStatic)
		return true
	})
	require.Equal(t, 1, dynamicRefs)

	// Promotion is permanent, even when the primitive stops moving.
	runUpdate(t, b, ChangeSet{Updated: []PrimitiveChange{change}})
	require.Equal(t, primitive_state.StateDynamic, p.State())
	require.Equal(t, 0, b.LastStats().Promoted)
}

func TestNoLeakRoundTrip(t *testing.T) {
	ctx := newTestContext(t, func(c *culling.Config) {
		c.MaxLevel = 6
	})
	b := NewBuilder(ctx)
	rng := rand.New(rand.NewSource(42))

	randomChange := func(id, offset uint32) PrimitiveChange {
		n := uint32(1 + rng.Intn(90))
		center := mgl32.Vec3{rng.Float32()*200 - 100, rng.Float32()*200 - 100, rng.Float32()*200 - 100}
		c := PrimitiveChange{
			ID:             id,
			InstanceOffset: offset,
			NumInstances:   n,
			Bounds:         cube(center, rng.Float32()*120),
			IsDynamic:      rng.Intn(5) == 0,
		}
		if rng.Intn(2) == 0 {
			c.InstanceBounds = make([]common.Box, n)
			for i := range c.InstanceBounds {
				c.InstanceBounds[i] = cube(center.Add(mgl32.Vec3{rng.Float32() * 30, rng.Float32() * 30, 0}), rng.Float32()*2)
			}
		}
		return c
	}

	live := map[uint32]PrimitiveChange{}
	nextOffset := uint32(0)
	for frame := range 30 {
		var cs ChangeSet
		for id, c := range live {
			switch rng.Intn(4) {
			case 0:
				cs.Removed = append(cs.Removed, id)
				delete(live, id)
			case 1:
				moved := randomChange(id, c.InstanceOffset)
				moved.NumInstances = c.NumInstances
				if moved.InstanceBounds != nil {
					moved.InstanceBounds = moved.InstanceBounds[:0]
					for range c.NumInstances {
						moved.InstanceBounds = append(moved.InstanceBounds, cube(moved.Bounds.Center(), 0.5))
					}
				}
				cs.Updated = append(cs.Updated, moved)
				live[id] = moved
			}
		}
		for i := range 20 {
			id := uint32(frame*100 + i)
			c := randomChange(id, nextOffset)
			nextOffset += c.NumInstances
			cs.Added = append(cs.Added, c)
			live[id] = c
		}
		runUpdate(t, b, cs)

		total := 0
		for _, c := range live {
			total += int(c.NumInstances)
		}
		require.Equal(t, total, ctx.Chunks().NumItems(), "frame %d", frame)
		require.Equal(t, len(live), ctx.Primitives().Len())
	}

	var cs ChangeSet
	for id := range live {
		cs.Removed = append(cs.Removed, id)
	}
	runUpdate(t, b, cs)

	require.Zero(t, ctx.Chunks().NumAllocatedChunks())
	require.Zero(t, ctx.Chunks().NumItems())
	require.Zero(t, ctx.Chunks().NumCells())
	require.Zero(t, ctx.Chunks().UsedChunkMask().Count())
	require.Zero(t, ctx.Hash().NumBlocks())
	require.Zero(t, ctx.Primitives().Cache().NumAllocated())
	require.Zero(t, ctx.Primitives().Len())
}

func TestEndUpdateRunsPostUpdateHooks(t *testing.T) {
	ctx := newTestContext(t, nil)

	calls := 0
	b := NewBuilder(ctx,
		WithPostUpdateHook(func() error {
			calls++
			return nil
		}),
		WithPostUpdateHook(func() error {
			return errors.New("upload failed")
		}),
	)

	b.BeginUpdate(ChangeSet{})
	require.Error(t, b.EndUpdate())
	require.Equal(t, 1, calls)
}

func TestCapacityErrorSurfacesAtEndUpdate(t *testing.T) {
	ctx := newTestContext(t, func(c *culling.Config) {
		c.MaxChunks = 1
	})
	synced := 0
	b := NewBuilder(ctx, WithPostUpdateHook(func() error {
		synced++
		return nil
	}))

	b.BeginUpdate(ChangeSet{Added: []PrimitiveChange{
		{ID: 1, NumInstances: chunk_allocator.ChunkCapacity + 1, Bounds: cube(mgl32.Vec3{}, 0.5)},
	}})
	err := b.EndUpdate()
	require.Error(t, err)
	require.True(t, errors.IsType(err, common.ErrTypeCapacityExceeded))
	require.Zero(t, synced)

	// The partial insertion is undone.
	_, ok := ctx.Primitives().Get(1)
	require.False(t, ok)
	require.Zero(t, ctx.Chunks().NumAllocatedChunks())
	require.Zero(t, ctx.Chunks().NumItems())
	require.Zero(t, ctx.Hash().NumBlocks())

	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{
		{ID: 1, NumInstances: 1, Bounds: cube(mgl32.Vec3{}, 0.5)},
	}})
	require.Equal(t, 1, synced)
	require.Equal(t, 1, ctx.Chunks().NumAllocatedChunks())
}

func TestFailedUpdateLeavesPrimitiveRemovable(t *testing.T) {
	ctx := newTestContext(t, func(c *culling.Config) {
		c.MaxChunks = 2
	})
	b := NewBuilder(ctx)

	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{
		{ID: 1, NumInstances: 1, Bounds: cube(mgl32.Vec3{}, 0.5)},
		{ID: 2, InstanceOffset: 1, NumInstances: 1, Bounds: cube(mgl32.Vec3{50, 0, 0}, 0.5)},
	}})

	// Two full chunks do not fit next to the chunk of primitive 2.
	b.BeginUpdate(ChangeSet{Updated: []PrimitiveChange{
		{ID: 1, NumInstances: chunk_allocator.ChunkCapacity * 2, Bounds: cube(mgl32.Vec3{}, 0.5)},
	}})
	require.True(t, errors.IsType(b.EndUpdate(), common.ErrTypeCapacityExceeded))

	p, ok := ctx.Primitives().Get(1)
	require.True(t, ok)
	require.Equal(t, primitive_state.StateUnknown, p.State())
	require.Equal(t, 1, ctx.Chunks().NumAllocatedChunks())
	require.Equal(t, 1, ctx.Chunks().NumItems())

	runUpdate(t, b, ChangeSet{Removed: []uint32{1, 2}})
	require.Zero(t, ctx.Primitives().Len())
	require.Zero(t, ctx.Chunks().NumAllocatedChunks())
	require.Zero(t, ctx.Hash().NumBlocks())
}

func TestZeroInstancePrimitiveStaysUnknown(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := NewBuilder(ctx)

	runUpdate(t, b, ChangeSet{Added: []PrimitiveChange{{ID: 9, Bounds: cube(mgl32.Vec3{}, 1)}}})
	p, ok := ctx.Primitives().Get(9)
	require.True(t, ok)
	require.Equal(t, primitive_state.StateUnknown, p.State())

	runUpdate(t, b, ChangeSet{Removed: []uint32{9}})
	require.Zero(t, ctx.Primitives().Len())
}

func TestNewBuilderPanicsWithoutContext(t *testing.T) {
	require.Panics(t, func() {
		NewBuilder(nil)
	})
}
