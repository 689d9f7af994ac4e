package chunk_allocator

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-cull/common"
)

const (
	chunkRefIDBits    = 24
	chunkRefCountBits = 7
	chunkRefIDMask    = 1<<chunkRefIDBits - 1
	chunkRefCountMask = 1<<chunkRefCountBits - 1
	chunkRefDynamic   = 1 << 31

	boundsQuantBits = 10
	boundsQuantMax  = 1<<boundsQuantBits - 1
)

// PackChunkRef encodes a chunk reference as stored in the cell chunk list.
// Bits 0-23 hold the chunk id, bits 24-30 the item count and bit 31 the dynamic flag.
//
// Parameters:
//   - id: the chunk id, below MaxChunkID
//   - count: number of items in the chunk, in [1, ChunkCapacity]
//   - dynamic: whether the chunk holds dynamic instances
//
// Returns:
//   - uint32: the packed reference
func PackChunkRef(id uint32, count int, dynamic bool) uint32 {
	common.Assert(id <= chunkRefIDMask, "chunk id %d does not fit a chunk ref", id)
	common.Assert(count >= 0 && count <= ChunkCapacity, "chunk item count %d out of range", count)
	ref := id&chunkRefIDMask | uint32(count&chunkRefCountMask)<<chunkRefIDBits
	if dynamic {
		ref |= chunkRefDynamic
	}
	return ref
}

// UnpackChunkRef decodes a reference written by PackChunkRef.
//
// Parameters:
//   - ref: the packed reference
//
// Returns:
//   - uint32: the chunk id
//   - int: the item count
//   - bool: the dynamic flag
func UnpackChunkRef(ref uint32) (uint32, int, bool) {
	return ref & chunkRefIDMask, int(ref>>chunkRefIDBits) & chunkRefCountMask, ref&chunkRefDynamic != 0
}

// GPUChunkBounds is the compressed per-chunk record used by the GPU instance
// test. The bounds are quantized to 10 bits per axis relative to the owning
// cell's loose bounds: word 0 holds the minimum corner and word 1 the maximum
// corner, each as x | y<<10 | z<<20.
// Size: 16 bytes (vec2<u32> + vec2<f32>).
type GPUChunkBounds struct {
	PackedBounds        [2]uint32  // offset 0: quantized min and max corners
	DrawDistanceSquared [2]float32 // offset 8: min and max draw distance, squared
}

// Size returns the size of the GPUChunkBounds struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUChunkBounds) Size() int {
	return int(unsafe.Sizeof(*g))
}

// MarshalTo writes the record into dst, which must be at least 16 bytes.
func (g *GPUChunkBounds) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], g.PackedBounds[0])
	binary.LittleEndian.PutUint32(dst[4:8], g.PackedBounds[1])
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(g.DrawDistanceSquared[0]))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(g.DrawDistanceSquared[1]))
}

// QuantizeChunkBounds builds the GPU record for a chunk. The minimum corner is
// rounded down and the maximum corner up so the decoded box always contains
// the input.
//
// Parameters:
//   - bounds: the union of the chunk item bounds
//   - reference: the box the quantization is relative to, normally the cell loose bounds
//   - drawDistance: min and max draw distance of the chunk, not squared
//
// Returns:
//   - GPUChunkBounds: the packed record
func QuantizeChunkBounds(bounds, reference common.Box, drawDistance [2]float32) GPUChunkBounds {
	var out GPUChunkBounds
	for i := range 3 {
		extent := reference.Max[i] - reference.Min[i]
		lo, hi := uint32(0), uint32(boundsQuantMax)
		if extent > 0 {
			scale := float64(boundsQuantMax) / float64(extent)
			lo = quantize(math.Floor(float64(bounds.Min[i]-reference.Min[i]) * scale))
			hi = quantize(math.Ceil(float64(bounds.Max[i]-reference.Min[i]) * scale))
		}
		out.PackedBounds[0] |= lo << (uint(i) * boundsQuantBits)
		out.PackedBounds[1] |= hi << (uint(i) * boundsQuantBits)
	}
	out.DrawDistanceSquared = [2]float32{squareClamped(drawDistance[0]), squareClamped(drawDistance[1])}
	return out
}

// Dequantize expands the packed bounds back into a world-space box.
//
// Parameters:
//   - reference: the box passed to QuantizeChunkBounds
//
// Returns:
//   - common.Box: a box containing the original bounds
func (g GPUChunkBounds) Dequantize(reference common.Box) common.Box {
	var box common.Box
	for i := range 3 {
		extent := reference.Max[i] - reference.Min[i]
		lo := (g.PackedBounds[0] >> (uint(i) * boundsQuantBits)) & boundsQuantMax
		hi := (g.PackedBounds[1] >> (uint(i) * boundsQuantBits)) & boundsQuantMax
		box.Min[i] = reference.Min[i] + float32(lo)*extent/boundsQuantMax
		box.Max[i] = reference.Min[i] + float32(hi)*extent/boundsQuantMax
	}
	return box
}

func quantize(v float64) uint32 {
	return uint32(min(max(v, 0), boundsQuantMax))
}

func squareClamped(d float32) float32 {
	sq := float64(d) * float64(d)
	if sq > math.MaxFloat32 {
		return math.MaxFloat32
	}
	return float32(sq)
}
