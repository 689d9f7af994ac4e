package spatial_hash

// MaxCellCoord bounds the absolute cell coordinate on any axis at any level.
// Block coordinates are cell coordinates shifted by the block dimension, so the
// product of the two always fits signed 32-bit arithmetic.
const MaxCellCoord = 1 << 30

// BlockLocation addresses one block: its integer coordinate in block units at
// its level, plus the level. The struct is 16 bytes and four-byte aligned so it
// can be compared and hashed as two 64-bit words.
type BlockLocation struct {
	Coord [3]int32
	Level int32
}

// CellAddress is the result of placing a bounding volume: the block that owns
// the cell and the cell's linear index within the block.
type CellAddress struct {
	Block BlockLocation
	Local uint32
}

// Packed returns the location as two 64-bit words: x/y in the first, z/level in the second.
func (l BlockLocation) Packed() (uint64, uint64) {
	lo := uint64(uint32(l.Coord[0])) | uint64(uint32(l.Coord[1]))<<32
	hi := uint64(uint32(l.Coord[2])) | uint64(uint32(l.Level))<<32
	return lo, hi
}

// Hash mixes the packed key with two multiplicative rounds. Good enough for
// linear probing over power-of-two tables.
func (l BlockLocation) Hash() uint64 {
	lo, hi := l.Packed()
	h := lo*0x9E3779B97F4A7C15 ^ hi*0xC2B2AE3D27D4EB4F
	h ^= h >> 29
	h *= 0x165667B19E3779F9
	h ^= h >> 32
	return h
}
