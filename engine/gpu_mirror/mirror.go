package gpu_mirror

import (
	"encoding/binary"
	"slices"
	"time"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl32"
)

// Row sizes of the mirrored arrays in bytes.
const (
	cellHeaderSize  = 16
	chunkRefSize    = 4
	chunkIDsSize    = chunk_allocator.ChunkCapacity * 4
	blockDataSize   = 16
	maskWordSize    = 4
	chunkBoundsSize = 16

	// minBufferSize keeps empty arrays bindable.
	minBufferSize = 16
)

// SyncStats describes the most recent Sync.
type SyncStats struct {
	// FullUploads counts the buffers uploaded whole because they were new or grew.
	FullUploads  int
	Writes       int
	BytesWritten int
	// Sizes holds the byte size each buffer needs for the current state.
	Sizes    [NumBuffers]int
	Duration time.Duration
}

// Mirror keeps the device copies of the culling structure current.
type Mirror interface {
	// Sync uploads everything that changed since the previous Sync and clears
	// the dirty state of the structure. It must run once per frame, after the
	// builder task joined.
	//
	// Returns:
	//   - error: an uploader error
	Sync() error

	// LastStats returns the statistics of the most recent Sync.
	LastStats() SyncStats

	// Uploader returns the uploader the mirror writes through.
	Uploader() Uploader

	// UncullableReference returns the box the bounds of uncullable chunks are
	// quantized against: the world cube grown to cover every uncullable chunk.
	// It only changes in Sync, which then rewrites the bounds of every
	// uncullable chunk.
	//
	// Returns:
	//   - common.Box: the decode reference of uncullable chunk bounds
	UncullableReference() common.Box
}

type mirror struct {
	ctx      *culling.Context
	uploader Uploader

	// fullUploadRatio is the dirty row share above which a buffer is uploaded whole.
	fullUploadRatio float64

	synced     [NumBuffers]bool
	uncullable common.Box
	scratch    []byte
	rows    []int
	stats   SyncStats
}

var _ Mirror = &mirror{}

// NewMirror creates a Mirror of the context's structure.
//
// Parameters:
//   - ctx: the culling context, must not be nil
//   - uploader: the device side, must not be nil
//   - options: functional options to configure the mirror
//
// Returns:
//   - Mirror: the mirror
func NewMirror(ctx *culling.Context, uploader Uploader, options ...MirrorBuilderOption) Mirror {
	if ctx == nil {
		panic("gpu_mirror: context must not be nil")
	}
	if uploader == nil {
		panic("gpu_mirror: uploader must not be nil")
	}
	m := &mirror{
		ctx:             ctx,
		uploader:        uploader,
		fullUploadRatio: 0.5,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *mirror) Uploader() Uploader {
	return m.uploader
}

func (m *mirror) LastStats() SyncStats {
	return m.stats
}

func (m *mirror) UncullableReference() common.Box {
	return m.uncullable
}

func (m *mirror) Sync() error {
	start := time.Now()
	m.stats = SyncStats{}

	hash := m.ctx.Hash()
	chunks := m.ctx.Chunks()

	numCells := int(hash.MaxCellIndex())
	numChunks := chunks.MaxChunkIndex()
	refs := chunks.PackedCellChunkRefs()
	mask := chunks.UsedChunkMask().Words()

	// Headers of every cell of a dirty block change with it.
	cellsPerBlock := 1 << hash.CellsPerBlockLog2()
	dirtyBlocks := hash.DirtyBlocks()
	m.rows = m.rows[:0]
	for _, cell := range chunks.DirtyCells() {
		if cell != culling.UncullableCellIndex && int(cell) < numCells {
			m.rows = append(m.rows, int(cell))
		}
	}
	for _, b := range dirtyBlocks {
		for local := range cellsPerBlock {
			m.rows = append(m.rows, int(b)*cellsPerBlock+local)
		}
	}
	slices.Sort(m.rows)
	cellRows := slices.Compact(m.rows)

	var header culling.GPUCellHeader
	err := m.syncRows(BufferCellHeaders, numCells, cellHeaderSize, cellRows, func(row int, dst []byte) {
		span, ok := chunks.CellChunkSpan(uint32(row))
		header = culling.PackCellHeader(culling.CellHeaderFromChunks(span, ok))
		header.MarshalTo(dst)
	})
	if err != nil {
		return err
	}

	var refRows []int
	for _, s := range chunks.DirtyCellChunkRanges() {
		for i := s.Start; i < s.End() && i < len(refs); i++ {
			refRows = append(refRows, i)
		}
	}
	err = m.syncRows(BufferCellChunkRefs, len(refs), chunkRefSize, refRows, func(row int, dst []byte) {
		binary.LittleEndian.PutUint32(dst, refs[row])
	})
	if err != nil {
		return err
	}

	chunkRows := intRows(chunks.DirtyChunks(), numChunks)
	err = m.syncRows(BufferChunkInstanceIDs, numChunks, chunkIDsSize, chunkRows, func(row int, dst []byte) {
		clear(dst)
		if !chunks.UsedChunkMask().Test(row) {
			return
		}
		for i, id := range chunks.ChunkItems(uint32(row)) {
			binary.LittleEndian.PutUint32(dst[i*4:], id)
		}
	})
	if err != nil {
		return err
	}

	boundsRows := chunkRows
	if reference, ids := m.uncullableChunks(refs); reference != m.uncullable {
		m.uncullable = reference
		boundsRows = append(slices.Clone(chunkRows), intRows(ids, numChunks)...)
		slices.Sort(boundsRows)
		boundsRows = slices.Compact(boundsRows)
	}
	err = m.syncRows(BufferChunkBounds, numChunks, chunkBoundsSize, boundsRows, func(row int, dst []byte) {
		var g chunk_allocator.GPUChunkBounds
		if chunks.UsedChunkMask().Test(row) {
			bounds, drawDistance := chunks.ChunkBounds(uint32(row))
			reference := m.uncullable
			if cell := chunks.ChunkCell(uint32(row)); cell != culling.UncullableCellIndex && hash.IsCellOccupied(cell) {
				reference = hash.CellBounds(cell)
			}
			g = chunk_allocator.QuantizeChunkBounds(bounds, reference, drawDistance)
		}
		g.MarshalTo(dst)
	})
	if err != nil {
		return err
	}

	blockRows := make([]int, len(dirtyBlocks))
	for i, b := range dirtyBlocks {
		blockRows[i] = int(b)
	}
	err = m.syncRows(BufferBlockData, hash.BlockCapacity(), blockDataSize, blockRows, func(row int, dst []byte) {
		g := hash.Block(int32(row)).GPUData()
		g.MarshalTo(dst)
	})
	if err != nil {
		return err
	}

	err = m.syncRows(BufferUsedChunkMask, len(mask), maskWordSize, chunks.UsedChunkMask().DirtyWords(), func(row int, dst []byte) {
		binary.LittleEndian.PutUint32(dst, mask[row])
	})
	if err != nil {
		return err
	}

	chunks.ClearDirty()
	hash.ClearDirty()
	m.stats.Duration = time.Since(start)

	logs.WithTag("full_uploads", m.stats.FullUploads).
		WithTag("writes", m.stats.Writes).
		WithTag("bytes", m.stats.BytesWritten).
		Debug("gpu mirror synced")
	return nil
}

// syncRows brings one buffer up to date. Dirty rows must be sorted and unique.
// Consecutive dirty rows are written with a single call.
func (m *mirror) syncRows(id BufferID, numRows, rowSize int, dirty []int, encode func(row int, dst []byte)) error {
	size := numRows * rowSize
	m.stats.Sizes[id] = size

	recreated, err := m.uploader.EnsureBuffer(id, max(size, minBufferSize))
	if err != nil {
		return errors.New("ensuring gpu mirror buffer").
			WithTag("buffer", id.String()).
			WithTag("size", size).
			Wrap(err)
	}

	full := recreated || !m.synced[id] || float64(len(dirty)) > m.fullUploadRatio*float64(numRows)
	m.synced[id] = true
	if full {
		if size == 0 {
			return nil
		}
		m.stats.FullUploads++
		return m.writeRun(id, 0, numRows, rowSize, encode)
	}

	for start := 0; start < len(dirty); {
		end := start + 1
		for end < len(dirty) && dirty[end] == dirty[end-1]+1 {
			end++
		}
		first := dirty[start]
		count := min(dirty[end-1]+1, numRows) - first
		if count > 0 {
			if err := m.writeRun(id, first, count, rowSize, encode); err != nil {
				return err
			}
		}
		start = end
	}
	return nil
}

func (m *mirror) writeRun(id BufferID, first, count, rowSize int, encode func(row int, dst []byte)) error {
	n := count * rowSize
	if cap(m.scratch) < n {
		m.scratch = make([]byte, common.GrowCapacity(cap(m.scratch), n))
	}
	data := m.scratch[:n]
	for i := range count {
		encode(first+i, data[i*rowSize:(i+1)*rowSize])
	}
	if err := m.uploader.Write(id, first*rowSize, data); err != nil {
		return errors.New("writing gpu mirror buffer").
			WithTag("buffer", id.String()).
			WithTag("offset", first*rowSize).
			Wrap(err)
	}
	m.stats.Writes++
	m.stats.BytesWritten += n
	return nil
}

// uncullableChunks returns the chunks of the uncullable cell and the world
// cube grown to cover their bounds.
func (m *mirror) uncullableChunks(refs []uint32) (common.Box, []uint32) {
	reference := m.worldBounds()
	span, ok := m.ctx.Chunks().CellChunkSpan(culling.UncullableCellIndex)
	if !ok {
		return reference, nil
	}
	ids := make([]uint32, 0, span.NumChunks())
	for _, ref := range refs[span.Offset : span.Offset+span.NumChunks()] {
		id, _, _ := chunk_allocator.UnpackChunkRef(ref)
		bounds, _ := m.ctx.Chunks().ChunkBounds(id)
		reference = reference.Union(bounds)
		ids = append(ids, id)
	}
	return reference, ids
}

func (m *mirror) worldBounds() common.Box {
	e := m.ctx.Config().WorldExtent
	return common.NewBox(mgl32.Vec3{}, mgl32.Vec3{e, e, e})
}

func intRows(ids []uint32, limit int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if int(id) < limit {
			out = append(out, int(id))
		}
	}
	return out
}
