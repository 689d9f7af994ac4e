package chunk_allocator

import (
	"math"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// ChunkCapacity is the number of instance ids stored in one chunk.
	ChunkCapacity = 64

	// MaxChunkID bounds the chunk id space. It matches the id width of a packed chunk ref.
	MaxChunkID = 1 << chunkRefIDBits

	// MaxCellChunkOffset bounds offsets into the packed cell chunk list. It
	// matches the offset width of a cell header.
	MaxCellChunkOffset = 1 << 22
)

// CellChunks describes the run of chunk refs owned by one cell in the packed
// cell chunk list. Static chunk refs come first, followed by dynamic ones.
type CellChunks struct {
	Offset     uint32
	NumStatic  uint32
	NumDynamic uint32
}

// NumChunks returns the total number of chunk refs of the cell.
func (c CellChunks) NumChunks() uint32 {
	return c.NumStatic + c.NumDynamic
}

// ChunkAllocator owns the fixed capacity chunks that hold instance ids and the
// per-cell lists of chunk refs pointing at them.
//
// Cell contents are only mutated between LockChunkCellData and
// UnlockChunkCellData. The allocator has a single writer; the lock table
// rejects a second lock of the same cell but does not make concurrent writers
// safe.
type ChunkAllocator interface {
	// AllocateChunk reserves a chunk id and marks it live in the used chunk mask.
	//
	// Returns:
	//   - uint32: the chunk id
	//   - error: capacity error when the id space is exhausted
	AllocateChunk() (uint32, error)

	// FreeChunk marks a chunk unused. The id is only handed out again after CommitFrees.
	//
	// Parameters:
	//   - id: a live chunk id
	FreeChunk(id uint32)

	// CommitFrees returns the chunks freed since the previous commit to the free
	// list and trims unused tail space.
	CommitFrees()

	// NumAllocatedChunks returns the number of live chunks.
	NumAllocatedChunks() int

	// MaxChunkIndex returns one past the highest chunk id that may be live.
	MaxChunkIndex() int

	// NumItems returns the number of instance ids stored across all chunks.
	NumItems() int

	// ChunkItems returns the instance ids held by a chunk. The slice aliases
	// allocator storage and is valid until the next mutation.
	ChunkItems(id uint32) []uint32

	// ChunkBounds returns the union of a chunk's item bounds and its draw distance range.
	//
	// Parameters:
	//   - id: the chunk id
	//
	// Returns:
	//   - common.Box: the chunk bounds
	//   - [2]float32: min and max draw distance
	ChunkBounds(id uint32) (common.Box, [2]float32)

	// ChunkCell returns the cell owning the chunk.
	ChunkCell(id uint32) uint32

	// LockChunkCellData opens a cell's chunk list for mutation.
	//
	// Parameters:
	//   - cellIndex: the cell to lock
	//   - slackChunksNeeded: extra ref capacity to reserve if the list has to be reallocated
	//
	// Returns:
	//   - *ChunkCellData: the mutable cell contents
	//   - error: invariant error if the cell is already locked
	LockChunkCellData(cellIndex uint32, slackChunksNeeded int) (*ChunkCellData, error)

	// UnlockChunkCellData writes a locked cell back into the packed cell chunk list.
	//
	// Parameters:
	//   - cellIndex: the locked cell
	//
	// Returns:
	//   - error: capacity error if the list offset exceeds MaxCellChunkOffset, invariant error if the cell was not locked.
	//     After a capacity error the cell stays locked and its previous list is untouched, so the
	//     caller can remove what it added and unlock again.
	UnlockChunkCellData(cellIndex uint32) error

	// CellChunkSpan returns the run of chunk refs owned by a cell.
	//
	// Parameters:
	//   - cellIndex: the cell to look up
	//
	// Returns:
	//   - CellChunks: offset and chunk counts
	//   - bool: false if the cell holds no chunks
	CellChunkSpan(cellIndex uint32) (CellChunks, bool)

	// ForEachCell visits every cell holding chunks. The callback may return false to stop.
	ForEachCell(fn func(cellIndex uint32, chunks CellChunks) bool)

	// NumCells returns the number of cells holding chunks.
	NumCells() int

	// PackedCellChunkRefs returns the packed cell chunk list. The slice is owned by the allocator.
	PackedCellChunkRefs() []uint32

	// UsedChunkMask returns the liveness bitmask of chunk ids.
	UsedChunkMask() *BitArray

	// DirtyChunks returns the sorted chunk ids whose contents changed since the last ClearDirty.
	DirtyChunks() []uint32

	// DirtyCells returns the sorted cell indices whose chunk lists changed since the last ClearDirty.
	DirtyCells() []uint32

	// DirtyCellChunkRanges returns merged ranges of the packed cell chunk list
	// written since the last ClearDirty, ordered by start.
	DirtyCellChunkRanges() []Span

	// ClearDirty resets every dirty set, including the used chunk mask.
	ClearDirty()
}

type chunkAllocator struct {
	mu sync.Mutex

	maxChunks          int
	maxCellChunkOffset int

	ids          *SpanAllocator
	pendingFrees []uint32
	used         *BitArray
	numChunks    int
	numItems     int

	records      []chunkRecord
	instanceIDs  []uint32
	itemBounds   []common.Box
	itemDistance [][2]float32

	refs       *SpanAllocator
	packedRefs []uint32
	cells      map[uint32]*cellSpan
	locked     map[uint32]*ChunkCellData

	dirtyChunks map[uint32]struct{}
	dirtyCells  map[uint32]struct{}
	dirtyRefs   []Span
}

var _ ChunkAllocator = &chunkAllocator{}

// cellSpan is the reserved range of the packed cell chunk list owned by one cell.
type cellSpan struct {
	offset     int
	capacity   int
	numStatic  int
	numDynamic int
}

// chunkRecord is the CPU-side aggregate of one chunk.
type chunkRecord struct {
	cell         uint32
	count        uint8
	dynamic      bool
	bounds       common.Box
	drawDistance [2]float32
}

func (r *chunkRecord) reset(cell uint32, dynamic bool) {
	r.cell = cell
	r.count = 0
	r.dynamic = dynamic
	r.bounds = common.EmptyBox()
	r.drawDistance = [2]float32{math.MaxFloat32, 0}
}

func (r *chunkRecord) include(bounds common.Box, drawDistance [2]float32) {
	r.bounds = r.bounds.Union(bounds)
	r.drawDistance[0] = min(r.drawDistance[0], drawDistance[0])
	r.drawDistance[1] = max(r.drawDistance[1], drawDistance[1])
}

// NewChunkAllocator creates a ChunkAllocator.
//
// Parameters:
//   - options: functional options to configure the allocator
//
// Returns:
//   - ChunkAllocator: the allocator
//   - error: configuration error if a limit exceeds the packed id or offset widths
func NewChunkAllocator(options ...ChunkAllocatorBuilderOption) (ChunkAllocator, error) {
	a := &chunkAllocator{
		maxChunks:          MaxChunkID,
		maxCellChunkOffset: MaxCellChunkOffset,
	}
	for _, option := range options {
		option(a)
	}

	if a.maxChunks <= 0 || a.maxChunks > MaxChunkID {
		return nil, errors.New("chunk limit exceeds the chunk id space").
			WithType(common.ErrTypeConfig).
			WithTag("max_chunks", a.maxChunks).
			WithTag("max_chunk_id", MaxChunkID)
	}
	if a.maxCellChunkOffset <= 0 || a.maxCellChunkOffset > MaxCellChunkOffset {
		return nil, errors.New("cell chunk offset limit exceeds the header offset width").
			WithType(common.ErrTypeConfig).
			WithTag("max_cell_chunk_offset", a.maxCellChunkOffset)
	}

	a.ids = NewSpanAllocator()
	a.refs = NewSpanAllocator()
	a.used = NewBitArray(1024)
	a.cells = make(map[uint32]*cellSpan)
	a.locked = make(map[uint32]*ChunkCellData)
	a.dirtyChunks = make(map[uint32]struct{})
	a.dirtyCells = make(map[uint32]struct{})
	return a, nil
}

func (a *chunkAllocator) AllocateChunk() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateChunkLocked()
}

func (a *chunkAllocator) allocateChunkLocked() (uint32, error) {
	start := a.ids.Allocate(1)
	if start >= a.maxChunks {
		a.ids.Free(start, 1)
		return 0, errors.New("chunk id space exhausted").
			WithType(common.ErrTypeCapacityExceeded).
			WithTag("max_chunks", a.maxChunks).
			WithTag("allocated_chunks", a.numChunks)
	}
	id := uint32(start)

	if start >= len(a.records) {
		n := min(common.GrowCapacity(len(a.records), start+1), a.maxChunks)
		grow := n - len(a.records)
		a.records = append(a.records, make([]chunkRecord, grow)...)
		a.instanceIDs = append(a.instanceIDs, make([]uint32, grow*ChunkCapacity)...)
		a.itemBounds = append(a.itemBounds, make([]common.Box, grow*ChunkCapacity)...)
		a.itemDistance = append(a.itemDistance, make([][2]float32, grow*ChunkCapacity)...)
	}

	a.records[id].reset(0, false)
	a.used.Set(start)
	a.numChunks++
	a.dirtyChunks[id] = struct{}{}
	return id, nil
}

func (a *chunkAllocator) FreeChunk(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeChunkLocked(id)
}

func (a *chunkAllocator) freeChunkLocked(id uint32) {
	common.Assert(a.used.Test(int(id)), "freeing chunk %d which is not live", id)
	if !a.used.Test(int(id)) {
		return
	}
	a.numItems -= int(a.records[id].count)
	a.records[id].count = 0
	a.used.Clear(int(id))
	a.numChunks--
	a.pendingFrees = append(a.pendingFrees, id)
	a.dirtyChunks[id] = struct{}{}
}

func (a *chunkAllocator) CommitFrees() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.pendingFrees {
		a.ids.Free(int(id), 1)
	}
	a.pendingFrees = a.pendingFrees[:0]
	a.ids.Consolidate()
	a.refs.Consolidate()
}

func (a *chunkAllocator) NumAllocatedChunks() int {
	return a.numChunks
}

func (a *chunkAllocator) MaxChunkIndex() int {
	return len(a.records)
}

func (a *chunkAllocator) NumItems() int {
	return a.numItems
}

func (a *chunkAllocator) ChunkItems(id uint32) []uint32 {
	base := int(id) * ChunkCapacity
	return a.instanceIDs[base : base+int(a.records[id].count)]
}

func (a *chunkAllocator) ChunkBounds(id uint32) (common.Box, [2]float32) {
	r := &a.records[id]
	return r.bounds, r.drawDistance
}

func (a *chunkAllocator) ChunkCell(id uint32) uint32 {
	return a.records[id].cell
}

func (a *chunkAllocator) LockChunkCellData(cellIndex uint32, slackChunksNeeded int) (*ChunkCellData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.locked[cellIndex]; ok {
		common.Assert(false, "cell %d locked twice", cellIndex)
		return nil, errors.New("chunk cell data already locked").
			WithType(common.ErrTypeInvariant).
			WithTag("cell_index", cellIndex)
	}

	d := &ChunkCellData{
		cellIndex: cellIndex,
		slack:     max(slackChunksNeeded, 0),
		alloc:     a,
	}
	if span, ok := a.cells[cellIndex]; ok {
		for i, ref := range a.packedRefs[span.offset : span.offset+span.numStatic+span.numDynamic] {
			id, _, _ := UnpackChunkRef(ref)
			if i < span.numStatic {
				d.static = append(d.static, id)
			} else {
				d.dynamic = append(d.dynamic, id)
			}
		}
	}
	a.locked[cellIndex] = d
	return d, nil
}

func (a *chunkAllocator) UnlockChunkCellData(cellIndex uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.locked[cellIndex]
	if !ok {
		common.Assert(false, "cell %d unlocked without a lock", cellIndex)
		return errors.New("chunk cell data not locked").
			WithType(common.ErrTypeInvariant).
			WithTag("cell_index", cellIndex)
	}
	span := a.cells[cellIndex]
	n := len(d.static) + len(d.dynamic)
	if n == 0 {
		delete(a.locked, cellIndex)
		if span != nil {
			clear(a.packedRefs[span.offset : span.offset+span.capacity])
			a.markRefsDirty(span.offset, span.capacity)
			a.refs.Free(span.offset, span.capacity)
			delete(a.cells, cellIndex)
			a.dirtyCells[cellIndex] = struct{}{}
		}
		return nil
	}

	if span == nil || n > span.capacity {
		capacity := n + d.slack
		offset := a.refs.Allocate(capacity)
		if offset+capacity > a.maxCellChunkOffset {
			a.refs.Free(offset, capacity)
			return errors.New("cell chunk list offset exceeds the header offset width").
				WithType(common.ErrTypeCapacityExceeded).
				WithTag("cell_index", cellIndex).
				WithTag("offset", offset).
				WithTag("max_cell_chunk_offset", a.maxCellChunkOffset)
		}
		if need := a.refs.MaxSize(); need > len(a.packedRefs) {
			a.packedRefs = append(a.packedRefs, make([]uint32, common.GrowCapacity(len(a.packedRefs), need)-len(a.packedRefs))...)
		}
		if span != nil {
			clear(a.packedRefs[span.offset : span.offset+span.capacity])
			a.markRefsDirty(span.offset, span.capacity)
			a.refs.Free(span.offset, span.capacity)
		}
		span = &cellSpan{offset: offset, capacity: capacity}
		a.cells[cellIndex] = span
	}
	delete(a.locked, cellIndex)

	out := a.packedRefs[span.offset : span.offset+span.capacity]
	for i, id := range d.static {
		out[i] = PackChunkRef(id, int(a.records[id].count), false)
	}
	for i, id := range d.dynamic {
		out[len(d.static)+i] = PackChunkRef(id, int(a.records[id].count), true)
	}
	clear(out[n:])
	span.numStatic = len(d.static)
	span.numDynamic = len(d.dynamic)
	a.markRefsDirty(span.offset, span.capacity)
	a.dirtyCells[cellIndex] = struct{}{}
	return nil
}

func (a *chunkAllocator) CellChunkSpan(cellIndex uint32) (CellChunks, bool) {
	span, ok := a.cells[cellIndex]
	if !ok {
		return CellChunks{}, false
	}
	return span.chunks(), true
}

func (a *chunkAllocator) ForEachCell(fn func(cellIndex uint32, chunks CellChunks) bool) {
	for cellIndex, span := range a.cells {
		if !fn(cellIndex, span.chunks()) {
			return
		}
	}
}

func (a *chunkAllocator) NumCells() int {
	return len(a.cells)
}

func (a *chunkAllocator) PackedCellChunkRefs() []uint32 {
	return a.packedRefs
}

func (a *chunkAllocator) UsedChunkMask() *BitArray {
	return a.used
}

func (a *chunkAllocator) DirtyChunks() []uint32 {
	return sortedKeys(a.dirtyChunks)
}

func (a *chunkAllocator) DirtyCells() []uint32 {
	return sortedKeys(a.dirtyCells)
}

func (a *chunkAllocator) DirtyCellChunkRanges() []Span {
	if len(a.dirtyRefs) == 0 {
		return nil
	}
	ranges := slices.Clone(a.dirtyRefs)
	slices.SortFunc(ranges, func(x, y Span) int {
		return x.Start - y.Start
	})
	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End() {
			last.Size = max(last.End(), r.End()) - last.Start
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func (a *chunkAllocator) ClearDirty() {
	clear(a.dirtyChunks)
	clear(a.dirtyCells)
	a.dirtyRefs = a.dirtyRefs[:0]
	a.used.ClearDirty()
}

func (a *chunkAllocator) markRefsDirty(offset, n int) {
	if n > 0 {
		a.dirtyRefs = append(a.dirtyRefs, Span{Start: offset, Size: n})
	}
}

func (s *cellSpan) chunks() CellChunks {
	return CellChunks{
		Offset:     uint32(s.offset),
		NumStatic:  uint32(s.numStatic),
		NumDynamic: uint32(s.numDynamic),
	}
}

func sortedKeys(m map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
