package gpu_mirror

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func init() {
	logs.SetLogger(func(e logs.Entry) {})
}

func newMirroredBuilder(t *testing.T, options ...MirrorBuilderOption) (*culling.Context, builder.Builder, Mirror, *HostUploader) {
	cfg := culling.DefaultConfig()
	cfg.BaseCellSize = 1
	cfg.MaxLevel = 8
	cfg.Synchronous = true
	ctx, err := culling.NewContext(cfg)
	require.NoError(t, err)

	host := NewHostUploader()
	m := NewMirror(ctx, host, options...)
	b := builder.NewBuilder(ctx, builder.WithPostUpdateHook(m.Sync))
	return ctx, b, m, host
}

func apply(t *testing.T, b builder.Builder, cs builder.ChangeSet) {
	b.BeginUpdate(cs)
	require.NoError(t, b.EndUpdate())
}

func TestSyncUploadsCurrentState(t *testing.T) {
	ctx, b, m, host := newMirroredBuilder(t)

	apply(t, b, builder.ChangeSet{Added: []builder.PrimitiveChange{
		{ID: 1, NumInstances: 70, Bounds: common.NewBox(mgl32.Vec3{}, mgl32.Vec3{0.25, 0.25, 0.25})},
		{ID: 2, InstanceOffset: 70, NumInstances: 1, Bounds: common.NewBox(mgl32.Vec3{30, 0, 0}, mgl32.Vec3{3, 3, 3})},
	}})
	require.Equal(t, int(NumBuffers), m.LastStats().FullUploads)

	chunks := ctx.Chunks()
	headers := host.Bytes(BufferCellHeaders)
	chunks.ForEachCell(func(cell uint32, span chunk_allocator.CellChunks) bool {
		var g culling.GPUCellHeader
		g.Word0 = binary.LittleEndian.Uint32(headers[cell*16:])
		g.Word1 = uint64(binary.LittleEndian.Uint32(headers[cell*16+4:])) | uint64(binary.LittleEndian.Uint32(headers[cell*16+8:]))<<32
		require.Equal(t, culling.CellHeaderFromChunks(span, true), culling.UnpackCellHeader(g))
		return true
	})

	refs := host.Bytes(BufferCellChunkRefs)
	for i, ref := range chunks.PackedCellChunkRefs() {
		require.Equal(t, ref, binary.LittleEndian.Uint32(refs[i*4:]))
	}

	ids := host.Bytes(BufferChunkInstanceIDs)
	for id := range chunks.MaxChunkIndex() {
		if !chunks.UsedChunkMask().Test(id) {
			continue
		}
		for i, instance := range chunks.ChunkItems(uint32(id)) {
			require.Equal(t, instance, binary.LittleEndian.Uint32(ids[id*chunkIDsSize+i*4:]))
		}
	}

	mask := host.Bytes(BufferUsedChunkMask)
	require.Equal(t, chunks.UsedChunkMask().Words()[0], binary.LittleEndian.Uint32(mask))
	require.Equal(t, uint32(0b111), binary.LittleEndian.Uint32(mask))

	require.Empty(t, chunks.DirtyChunks())
	require.Empty(t, chunks.DirtyCells())
	require.Empty(t, ctx.Hash().DirtyBlocks())
}

func TestSyncWritesOnlyDirtyRows(t *testing.T) {
	_, b, m, host := newMirroredBuilder(t, WithFullUploadRatio(1))

	var cs builder.ChangeSet
	for i := range uint32(50) {
		cs.Added = append(cs.Added, builder.PrimitiveChange{
			ID:             i,
			InstanceOffset: i,
			NumInstances:   1,
			Bounds:         common.NewBox(mgl32.Vec3{float32(i) * 3, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5}),
		})
	}
	apply(t, b, cs)
	first := m.LastStats()

	apply(t, b, builder.ChangeSet{})
	require.Zero(t, m.LastStats().Writes)

	before := host.Stats()
	apply(t, b, builder.ChangeSet{Removed: []uint32{7}})
	stats := m.LastStats()
	require.Zero(t, stats.FullUploads)
	require.NotZero(t, stats.Writes)
	require.Less(t, stats.BytesWritten, first.BytesWritten)
	require.Equal(t, before.Writes+stats.Writes, host.Stats().Writes)
}

func TestIncrementalSyncMatchesFullUpload(t *testing.T) {
	ctx, b, m, host := newMirroredBuilder(t, WithFullUploadRatio(1))
	rng := rand.New(rand.NewSource(11))

	live := map[uint32]uint32{}
	nextID, nextOffset := uint32(0), uint32(0)
	for frame := range 25 {
		var cs builder.ChangeSet
		for id := range live {
			if rng.Intn(3) == 0 {
				cs.Removed = append(cs.Removed, id)
				delete(live, id)
			}
		}
		for range 15 {
			n := uint32(1 + rng.Intn(150))
			center := mgl32.Vec3{rng.Float32()*100 - 50, rng.Float32()*100 - 50, rng.Float32()*100 - 50}
			half := rng.Float32() * 4
			cs.Added = append(cs.Added, builder.PrimitiveChange{
				ID:             nextID,
				InstanceOffset: nextOffset,
				NumInstances:   n,
				Bounds:         common.NewBox(center, mgl32.Vec3{half, half, half}),
				IsDynamic:      rng.Intn(4) == 0,
			})
			live[nextID] = n
			nextID++
			nextOffset += n
		}
		apply(t, b, cs)

		fresh := NewHostUploader()
		require.NoError(t, NewMirror(ctx, fresh).Sync())
		sizes := m.LastStats().Sizes
		for id := range NumBuffers {
			want := fresh.Bytes(id)[:sizes[id]]
			got := host.Bytes(id)[:sizes[id]]
			require.Equal(t, want, got, "frame %d buffer %s", frame, id)
		}
	}
}

func TestUncullableBoundsOutsideTheWorld(t *testing.T) {
	ctx, b, m, host := newMirroredBuilder(t)
	far := common.NewBox(mgl32.Vec3{3e6, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5})

	apply(t, b, builder.ChangeSet{Added: []builder.PrimitiveChange{
		{ID: 1, NumInstances: 1, Bounds: far},
	}})
	p, ok := ctx.Primitives().Get(1)
	require.True(t, ok)
	require.Equal(t, primitive_state.StateUnCullable, p.State())
	require.True(t, m.UncullableReference().Contains(far))

	span, ok := ctx.Chunks().CellChunkSpan(culling.UncullableCellIndex)
	require.True(t, ok)
	id, _, _ := chunk_allocator.UnpackChunkRef(ctx.Chunks().PackedCellChunkRefs()[span.Offset])

	row := host.Bytes(BufferChunkBounds)[int(id)*chunkBoundsSize:]
	g := chunk_allocator.GPUChunkBounds{PackedBounds: [2]uint32{
		binary.LittleEndian.Uint32(row[0:4]),
		binary.LittleEndian.Uint32(row[4:8]),
	}}
	require.True(t, g.Dequantize(m.UncullableReference()).Expand(1).Contains(far))

	// Back to the world cube once the far primitive is gone.
	apply(t, b, builder.ChangeSet{Removed: []uint32{1}})
	e := ctx.Config().WorldExtent
	require.Equal(t, common.NewBox(mgl32.Vec3{}, mgl32.Vec3{e, e, e}), m.UncullableReference())
}

func TestHostUploaderRejectsOutOfRangeWrites(t *testing.T) {
	host := NewHostUploader()
	recreated, err := host.EnsureBuffer(BufferBlockData, 32)
	require.NoError(t, err)
	require.True(t, recreated)

	recreated, err = host.EnsureBuffer(BufferBlockData, 16)
	require.NoError(t, err)
	require.False(t, recreated)

	require.Error(t, host.Write(BufferBlockData, len(host.Bytes(BufferBlockData))-4, make([]byte, 8)))
	require.NoError(t, host.Write(BufferBlockData, 0, []byte{1, 2, 3, 4}))
	require.Equal(t, HostUploaderStats{Creates: 1, Writes: 1, BytesWritten: 4}, host.Stats())

	_, err = host.EnsureBuffer(NumBuffers, 4)
	require.Error(t, err)

	host.Release()
	require.Nil(t, host.Bytes(BufferBlockData))
}

func TestNewMirrorPanicsOnMissingCollaborators(t *testing.T) {
	ctx, err := culling.NewContext(culling.DefaultConfig())
	require.NoError(t, err)
	require.Panics(t, func() { NewMirror(nil, NewHostUploader()) })
	require.Panics(t, func() { NewMirror(ctx, nil) })
}
