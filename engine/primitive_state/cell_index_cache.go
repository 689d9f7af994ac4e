package primitive_state

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
)

// OccupancyCache records, per slot, which cells hold how many instances of one
// primitive so the primitive can be removed without recomputing its placement.
type OccupancyCache interface {
	// Allocate reserves an empty slot.
	Allocate() int

	// Free releases a slot and its entries.
	Free(slot int)

	// Append records one more instance in a cell. Consecutive appends to the
	// same cell collapse into a run.
	//
	// Parameters:
	//   - slot: an allocated slot
	//   - cellIndex: the cell receiving the instance, below 2^31
	Append(slot int, cellIndex uint32)

	// ForEach visits the recorded cells in insertion order with their instance
	// counts. The callback may return false to stop.
	ForEach(slot int, fn func(cellIndex uint32, count uint32) bool)

	// Len returns the number of encoded words held by a slot.
	Len(slot int) int

	// NumAllocated returns the number of slots in use.
	NumAllocated() int
}

const runTag = 1 << 31

// CellIndexCache is the OccupancyCache backed by a tagged uint32 encoding. A
// word without the tag bit is a single instance in that cell. A word with the
// tag bit starts a run: the cell index in the low 31 bits followed by a count word.
type CellIndexCache struct {
	slots []cacheSlot
	free  []int
	inUse int
}

type cacheSlot struct {
	words []uint32
	live  bool
}

var _ OccupancyCache = &CellIndexCache{}

// NewCellIndexCache creates an empty CellIndexCache.
//
// Returns:
//   - *CellIndexCache: the cache
func NewCellIndexCache() *CellIndexCache {
	return &CellIndexCache{}
}

func (c *CellIndexCache) Allocate() int {
	c.inUse++
	if n := len(c.free); n > 0 {
		slot := c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[slot].live = true
		return slot
	}
	c.slots = append(c.slots, cacheSlot{live: true})
	return len(c.slots) - 1
}

func (c *CellIndexCache) Free(slot int) {
	common.Assert(slot >= 0 && slot < len(c.slots) && c.slots[slot].live, "cache slot %d is not allocated", slot)
	c.slots[slot].words = c.slots[slot].words[:0]
	c.slots[slot].live = false
	c.free = append(c.free, slot)
	c.inUse--
}

func (c *CellIndexCache) Append(slot int, cellIndex uint32) {
	common.Assert(cellIndex < runTag, "cell index %d collides with the run tag", cellIndex)
	s := &c.slots[slot]
	n := len(s.words)

	switch {
	case n >= 2 && s.words[n-2]&runTag != 0 && s.words[n-2]&^runTag == cellIndex:
		s.words[n-1]++
	case n >= 1 && s.words[n-1] == cellIndex && (n < 2 || s.words[n-2]&runTag == 0):
		s.words[n-1] |= runTag
		s.words = append(s.words, 2)
	default:
		s.words = append(s.words, cellIndex)
	}
}

func (c *CellIndexCache) ForEach(slot int, fn func(cellIndex uint32, count uint32) bool) {
	words := c.slots[slot].words
	for i := 0; i < len(words); i++ {
		w := words[i]
		cell, count := w, uint32(1)
		if w&runTag != 0 {
			cell = w &^ runTag
			i++
			count = words[i]
		}
		if !fn(cell, count) {
			return
		}
	}
}

func (c *CellIndexCache) Len(slot int) int {
	return len(c.slots[slot].words)
}

func (c *CellIndexCache) NumAllocated() int {
	return c.inUse
}
