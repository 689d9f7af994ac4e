package chunk_allocator

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-cull/common"
)

// ChunkCellData is the mutable view of one cell's chunks, returned by
// LockChunkCellData. Every chunk of a list except the last one is full.
type ChunkCellData struct {
	cellIndex uint32
	slack     int
	static    []uint32
	dynamic   []uint32
	alloc     *chunkAllocator
}

// CellIndex returns the locked cell.
func (d *ChunkCellData) CellIndex() uint32 {
	return d.cellIndex
}

// NumStaticChunks returns the number of chunks holding static instances.
func (d *ChunkCellData) NumStaticChunks() int {
	return len(d.static)
}

// NumDynamicChunks returns the number of chunks holding dynamic instances.
func (d *ChunkCellData) NumDynamicChunks() int {
	return len(d.dynamic)
}

// Chunks returns the chunk ids of one kind in list order.
func (d *ChunkCellData) Chunks(dynamic bool) []uint32 {
	return *d.list(dynamic)
}

// AddInstance appends an instance to the last chunk of its kind, allocating a
// new chunk when that one is full.
//
// Parameters:
//   - instanceID: the instance id to store
//   - bounds: world-space bounds of the instance
//   - drawDistance: min and max draw distance of the instance
//   - dynamic: whether the instance goes into the dynamic chunk section
//
// Returns:
//   - error: capacity error if no chunk id is available
func (d *ChunkCellData) AddInstance(instanceID uint32, bounds common.Box, drawDistance [2]float32, dynamic bool) error {
	a := d.alloc
	list := d.list(dynamic)

	var id uint32
	if n := len(*list); n > 0 && a.records[(*list)[n-1]].count < ChunkCapacity {
		id = (*list)[n-1]
	} else {
		a.mu.Lock()
		newID, err := a.allocateChunkLocked()
		a.mu.Unlock()
		if err != nil {
			return err
		}
		id = newID
		a.records[id].reset(d.cellIndex, dynamic)
		*list = append(*list, id)
	}

	r := &a.records[id]
	slot := int(id)*ChunkCapacity + int(r.count)
	a.instanceIDs[slot] = instanceID
	a.itemBounds[slot] = bounds
	a.itemDistance[slot] = drawDistance
	r.count++
	r.include(bounds, drawDistance)
	a.numItems++
	a.dirtyChunks[id] = struct{}{}
	return nil
}

// RemoveInstances removes every instance id in [first, first+count) from the
// chunks of one kind. The remaining items are compacted towards the front of
// the list and chunks left empty are freed.
//
// Parameters:
//   - first: the first instance id of the range
//   - count: the number of ids in the range
//   - dynamic: which chunk section to search
//
// Returns:
//   - int: the number of items removed
func (d *ChunkCellData) RemoveInstances(first, count uint32, dynamic bool) int {
	a := d.alloc
	list := d.list(dynamic)
	inRange := func(id uint32) bool {
		return id-first < count
	}

	start := -1
	for ci, id := range *list {
		if slices.ContainsFunc(a.ChunkItems(id), inRange) {
			start = ci
			break
		}
	}
	if start < 0 {
		return 0
	}

	removed := 0
	writeChunk, writeSlot := start, 0
	for ci := start; ci < len(*list); ci++ {
		id := (*list)[ci]
		base := int(id) * ChunkCapacity
		for s := range int(a.records[id].count) {
			src := base + s
			if inRange(a.instanceIDs[src]) {
				removed++
				continue
			}
			dst := int((*list)[writeChunk])*ChunkCapacity + writeSlot
			a.instanceIDs[dst] = a.instanceIDs[src]
			a.itemBounds[dst] = a.itemBounds[src]
			a.itemDistance[dst] = a.itemDistance[src]
			writeSlot++
			if writeSlot == ChunkCapacity {
				writeChunk++
				writeSlot = 0
			}
		}
	}

	keep := writeChunk
	if writeSlot > 0 {
		keep++
	}
	for ci := start; ci < keep; ci++ {
		id := (*list)[ci]
		n := ChunkCapacity
		if ci == keep-1 && writeSlot > 0 {
			n = writeSlot
		}
		r := &a.records[id]
		r.reset(d.cellIndex, dynamic)
		base := int(id) * ChunkCapacity
		for s := range n {
			r.include(a.itemBounds[base+s], a.itemDistance[base+s])
		}
		r.count = uint8(n)
		a.dirtyChunks[id] = struct{}{}
	}

	a.numItems -= removed
	a.mu.Lock()
	for _, id := range (*list)[keep:] {
		// Item counts were already subtracted above.
		a.records[id].count = 0
		a.freeChunkLocked(id)
	}
	a.mu.Unlock()
	*list = (*list)[:keep]
	return removed
}

func (d *ChunkCellData) list(dynamic bool) *[]uint32 {
	if dynamic {
		return &d.dynamic
	}
	return &d.static
}
