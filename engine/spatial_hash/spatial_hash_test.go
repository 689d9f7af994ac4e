package spatial_hash

import (
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func newTestHash(t *testing.T, options ...SpatialHashBuilderOption) SpatialHash {
	h, err := NewSpatialHash(options...)
	require.NoError(t, err)
	return h
}

func TestNewSpatialHashConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		options []SpatialHashBuilderOption
	}{
		{"zero cell size", []SpatialHashBuilderOption{WithBaseCellSize(0)}},
		{"block dim too large", []SpatialHashBuilderOption{WithBlockDimLog2(6)}},
		{"max level too large", []SpatialHashBuilderOption{WithMaxLevel(31)}},
		{"extent overflows coordinates", []SpatialHashBuilderOption{WithBaseCellSize(1), WithWorldExtent(4 << 30)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h, err := NewSpatialHash(c.options...)
			require.Nil(t, h)
			require.Error(t, err)
			require.True(t, errors.IsType(err, common.ErrTypeConfig))
		})
	}
}

func TestLevelForFootprint(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(1), WithMaxLevel(4))

	cases := []struct {
		footprint float32
		level     int
		ok        bool
	}{
		{0.25, 0, true},
		{1, 0, true},
		{1.5, 1, true},
		{2, 1, true},
		{2.01, 2, true},
		{16, 4, true},
		{16.5, 0, false},
	}
	for _, c := range cases {
		level, ok := h.LevelForFootprint(c.footprint)
		require.Equal(t, c.ok, ok, "footprint %v", c.footprint)
		if ok {
			require.Equal(t, c.level, level, "footprint %v", c.footprint)
			require.GreaterOrEqual(t, h.CellSize(level), c.footprint)
		}
	}
}

func TestLocateNegativeCoordinates(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(1), WithBlockDimLog2(3))

	addr, ok := h.Locate(common.NewBox(mgl32.Vec3{-0.5, 0.5, 8.5}, mgl32.Vec3{0.25, 0.25, 0.25}))
	require.True(t, ok)
	require.Equal(t, BlockLocation{Coord: [3]int32{-1, 0, 1}, Level: 0}, addr.Block)
	// cell (-1, 0, 8) -> local (7, 0, 0)
	require.Equal(t, uint32(7), addr.Local)
}

func TestLocateRejectsOutsideWorld(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(1), WithWorldExtent(100))

	_, ok := h.Locate(common.NewBox(mgl32.Vec3{150, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5}))
	require.False(t, ok)
}

func TestCellBoundsContainPlacedItems(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(2), WithMaxLevel(8))
	rng := rand.New(rand.NewSource(7))

	for range 2000 {
		center := mgl32.Vec3{
			rng.Float32()*2000 - 1000,
			rng.Float32()*2000 - 1000,
			rng.Float32()*2000 - 1000,
		}
		half := mgl32.Vec3{rng.Float32() * 40, rng.Float32() * 4, rng.Float32() * 20}
		box := common.NewBox(center, half)

		addr, ok := h.Locate(box)
		require.True(t, ok)
		cell, err := h.AddCell(addr)
		require.NoError(t, err)
		require.True(t, h.CellBounds(cell).Contains(box), "box %v cell %d", box, cell)
		require.Equal(t, int(addr.Block.Level), h.CellLevel(cell))
		index, _ := h.BlockIndex(addr.Block)
		require.True(t, h.BlockLooseBounds(index).Contains(h.CellBounds(cell)))
	}
}

func TestAddRemoveCellReleasesBlocks(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(1))

	a, _ := h.Locate(common.NewBox(mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{0.25, 0.25, 0.25}))
	b, _ := h.Locate(common.NewBox(mgl32.Vec3{1.5, 0.5, 0.5}, mgl32.Vec3{0.25, 0.25, 0.25}))
	require.Equal(t, a.Block, b.Block)

	ca, err := h.AddCell(a)
	require.NoError(t, err)
	cb, err := h.AddCell(b)
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)
	require.Equal(t, 1, h.NumBlocks())
	require.Equal(t, 1, h.BlocksAtLevel(0))
	require.Equal(t, []int32{0}, h.DirtyBlocks())
	h.ClearDirty()

	h.RemoveCell(ca)
	require.False(t, h.IsCellOccupied(ca))
	require.True(t, h.IsCellOccupied(cb))
	require.Equal(t, 1, h.NumBlocks())

	h.RemoveCell(cb)
	require.Equal(t, 0, h.NumBlocks())
	require.Equal(t, 0, h.BlocksAtLevel(0))
	require.Equal(t, []int32{0}, h.DirtyBlocks())
	_, ok := h.BlockIndex(a.Block)
	require.False(t, ok)

	// The freed slot is reused.
	far, _ := h.Locate(common.NewBox(mgl32.Vec3{500, 500, 500}, mgl32.Vec3{0.25, 0.25, 0.25}))
	c, err := h.AddCell(far)
	require.NoError(t, err)
	require.Equal(t, uint32(0), c>>h.CellsPerBlockLog2())
	require.Equal(t, 1, h.BlockCapacity())
}

func TestForEachBlockInBoxMatchesScan(t *testing.T) {
	h := newTestHash(t, WithBaseCellSize(1), WithMaxLevel(2))
	rng := rand.New(rand.NewSource(3))
	for range 300 {
		center := mgl32.Vec3{rng.Float32()*400 - 200, rng.Float32()*400 - 200, rng.Float32()*400 - 200}
		addr, ok := h.Locate(common.NewBox(center, mgl32.Vec3{0.3, 0.3, 0.3}))
		require.True(t, ok)
		_, err := h.AddCell(addr)
		require.NoError(t, err)
	}

	for _, box := range []common.Box{
		common.NewBox(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{30, 30, 30}),
		common.NewBox(mgl32.Vec3{-100, 51, 3}, mgl32.Vec3{10, 10, 10}),
		common.NewBox(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1000, 1000, 1000}),
	} {
		got := map[int32]bool{}
		h.ForEachBlockInBox(0, box, func(index int32, b *Block) bool {
			got[index] = true
			return true
		})

		want := map[int32]bool{}
		h.ForEachBlock(func(index int32, b *Block) bool {
			if b.Location.Level == 0 && h.BlockLooseBounds(index).Expand(-0.5).IntersectsBox(box) {
				want[index] = true
			}
			return true
		})

		for index := range want {
			require.True(t, got[index], "block %d missing for box %v", index, box)
		}
	}
}

func TestBlockMapGrowAndRemove(t *testing.T) {
	m := newBlockMap(4)
	for i := range 1000 {
		m.put(BlockLocation{Coord: [3]int32{int32(i), int32(-i), int32(i * 7)}, Level: int32(i % 5)}, int32(i))
	}
	require.Equal(t, 1000, m.len())

	for i := 0; i < 1000; i += 2 {
		require.True(t, m.remove(BlockLocation{Coord: [3]int32{int32(i), int32(-i), int32(i * 7)}, Level: int32(i % 5)}))
	}
	require.Equal(t, 500, m.len())

	for i := range 1000 {
		v, ok := m.get(BlockLocation{Coord: [3]int32{int32(i), int32(-i), int32(i * 7)}, Level: int32(i % 5)})
		if i%2 == 0 {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, int32(i), v)
		}
	}
}

func TestGPUCellBlockDataMarshal(t *testing.T) {
	g := GPUCellBlockData{WorldPos: [3]float32{1, 2, 3}, CellSize: 4}
	buf := make([]byte, g.Size())
	g.MarshalTo(buf)
	require.Len(t, buf, 16)
	require.Equal(t, []byte{0, 0, 0x80, 0x40}, buf[12:16])
}
