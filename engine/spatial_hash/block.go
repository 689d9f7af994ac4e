package spatial_hash

import (
	"math/bits"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Block is a cube of cells sharing one level. The world position of each
// cell is derived from the block origin and cell size.
type Block struct {
	// Location is the block's key in the hash.
	Location BlockLocation
	// WorldPos is the world-space position of the block's minimum corner.
	WorldPos mgl32.Vec3
	// CellSize is the edge length of one cell at the block's level.
	CellSize float32

	occupied []uint64
	numCells int
	live     bool
}

// NumOccupiedCells returns how many cells of the block currently hold items.
func (b *Block) NumOccupiedCells() int {
	return b.numCells
}

// Live reports whether the block slot is in use.
func (b *Block) Live() bool {
	return b.live
}

// IsCellOccupied reports whether the local cell holds items.
func (b *Block) IsCellOccupied(local uint32) bool {
	return b.occupied[local>>6]&(1<<(local&63)) != 0
}

// forEachOccupied calls fn for every occupied local cell index in ascending order.
func (b *Block) forEachOccupied(fn func(local uint32) bool) {
	for w, word := range b.occupied {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &= word - 1
			if !fn(uint32(w<<6 | bit)) {
				return
			}
		}
	}
}

func (b *Block) reset(loc BlockLocation, worldPos mgl32.Vec3, cellSize float32, cellsPerBlock int) {
	b.Location = loc
	b.WorldPos = worldPos
	b.CellSize = cellSize
	words := (cellsPerBlock + 63) / 64
	if cap(b.occupied) < words {
		b.occupied = make([]uint64, words)
	} else {
		b.occupied = b.occupied[:words]
		clear(b.occupied)
	}
	b.numCells = 0
	b.live = true
}

// looseBounds returns the block box grown by half a cell on each side.
func (b *Block) looseBounds(blockDim int32) common.Box {
	size := b.CellSize * float32(blockDim)
	box := common.Box{
		Min: b.WorldPos,
		Max: b.WorldPos.Add(mgl32.Vec3{size, size, size}),
	}
	return box.Expand(b.CellSize * 0.5)
}
