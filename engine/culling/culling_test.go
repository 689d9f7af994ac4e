package culling

import (
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCellHeaderPackUnpackLossless(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	edges := []CellHeader{
		{},
		{NumItemChunks: MaxCellHeaderChunks - 1, ItemChunksOffset: MaxCellHeaderOffset - 1,
			NumStaticChunks: MaxCellSectionChunks - 1, NumDynamicChunks: MaxCellSectionChunks - 1,
			Flags: 127, IsValid: true},
		{NumItemChunks: 1, IsValid: true},
	}
	for _, h := range edges {
		require.Equal(t, h, UnpackCellHeader(PackCellHeader(h)))
	}

	for range 10000 {
		h := CellHeader{
			NumItemChunks:    uint32(rng.Intn(MaxCellHeaderChunks)),
			ItemChunksOffset: uint32(rng.Intn(MaxCellHeaderOffset)),
			NumStaticChunks:  uint32(rng.Intn(MaxCellSectionChunks)),
			NumDynamicChunks: uint32(rng.Intn(MaxCellSectionChunks)),
			Flags:            uint8(rng.Intn(128)),
			IsValid:          rng.Intn(2) == 0,
		}
		require.Equal(t, h, UnpackCellHeader(PackCellHeader(h)))
	}
}

func TestCellHeaderBitLayout(t *testing.T) {
	g := PackCellHeader(CellHeader{
		NumItemChunks:    3,
		ItemChunksOffset: 5,
		NumStaticChunks:  2,
		NumDynamicChunks: 1,
		IsValid:          true,
	})
	require.Equal(t, uint32(1<<31|3), g.Word0)
	require.Equal(t, uint64(5|2<<22|1<<43), g.Word1)

	buf := make([]byte, g.Size())
	g.MarshalTo(buf)
	require.Equal(t, []byte{
		3, 0, 0, 0x80,
		5, 0, 0x80, 0,
		0, 0x08, 0, 0,
		0, 0, 0, 0,
	}, buf)
}

func TestCellHeaderFromChunks(t *testing.T) {
	h := CellHeaderFromChunks(chunk_allocator.CellChunks{Offset: 9, NumStatic: 2, NumDynamic: 3}, true)
	require.True(t, h.IsValid)
	require.Equal(t, uint32(5), h.NumItemChunks)
	require.Equal(t, uint32(9), h.ItemChunksOffset)

	require.False(t, CellHeaderFromChunks(chunk_allocator.CellChunks{}, false).IsValid)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.MaxCellsPerPrimitive = 0
	require.True(t, errors.IsType(c.Validate(), common.ErrTypeConfig))

	c = DefaultConfig()
	c.Workers = 0
	require.Error(t, c.Validate())
	c.Synchronous = true
	require.NoError(t, c.Validate())
}

func TestNewContextPropagatesConfigErrors(t *testing.T) {
	c := DefaultConfig()
	c.BaseCellSize = 0.001
	c.WorldExtent = 1e9
	_, err := NewContext(c)
	require.True(t, errors.IsType(err, common.ErrTypeConfig))

	c = DefaultConfig()
	c.MaxChunks = chunk_allocator.MaxChunkID * 2
	_, err = NewContext(c)
	require.True(t, errors.IsType(err, common.ErrTypeConfig))
}

func TestBeginWriteTakesReaders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synchronous = true
	ctx, err := NewContext(cfg)
	require.NoError(t, err)

	reader := task.Completed()
	ctx.AddReader(reader)

	var seen []*task.Handle
	h, frame := ctx.BeginWrite(func(readers []*task.Handle, frame uint64) *task.Handle {
		seen = readers
		return ctx.Scheduler().Launch("update", readers, func() error { return nil })
	})
	require.Equal(t, uint64(1), frame)
	require.Same(t, h, ctx.UpdateHandle())
	require.Len(t, seen, 2)
	require.Same(t, reader, seen[0])

	_, frame = ctx.BeginWrite(func(readers []*task.Handle, frame uint64) *task.Handle {
		seen = readers
		return task.Completed()
	})
	require.Equal(t, uint64(2), frame)
	require.Len(t, seen, 1)
	require.Same(t, h, seen[0])
}
