package spatial_hash

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUCellBlockData is the GPU-aligned per-block record. Cell positions are
// derived on the GPU as WorldPos + localCoord * CellSize.
// Size: 16 bytes (vec3<f32> + f32).
type GPUCellBlockData struct {
	WorldPos [3]float32 // offset  0: world-space minimum corner of the block
	CellSize float32    // offset 12: cell edge length at the block's level
}

// Size returns the size of the GPUCellBlockData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUCellBlockData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// MarshalTo writes the record into dst, which must be at least 16 bytes.
func (g *GPUCellBlockData) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(g.WorldPos[0]))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(g.WorldPos[1]))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(g.WorldPos[2]))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(g.CellSize))
}

// GPUData returns the GPU record describing the block. Released blocks
// produce a zero record.
func (b *Block) GPUData() GPUCellBlockData {
	if !b.live {
		return GPUCellBlockData{}
	}
	return GPUCellBlockData{
		WorldPos: [3]float32{b.WorldPos[0], b.WorldPos[1], b.WorldPos[2]},
		CellSize: b.CellSize,
	}
}
