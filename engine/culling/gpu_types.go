package culling

import (
	"encoding/binary"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
)

// Field limits of a packed cell header.
const (
	MaxCellHeaderChunks  = 1 << 24
	MaxCellHeaderOffset  = 1 << headerOffsetBits
	MaxCellSectionChunks = 1 << headerCountBits
)

const (
	headerValidBit      = 1 << 31
	headerFlagsShift    = 24
	headerFlagsMask     = 1<<7 - 1
	headerNumChunksMask = 1<<24 - 1

	headerOffsetBits   = 22
	headerCountBits    = 21
	headerOffsetMask   = 1<<headerOffsetBits - 1
	headerCountMask    = 1<<headerCountBits - 1
	headerStaticShift  = headerOffsetBits
	headerDynamicShift = headerOffsetBits + headerCountBits

	gpuCellHeaderSize = 16
)

// CellHeader is the unpacked description of one cell's chunk refs.
// NumItemChunks is NumStaticChunks + NumDynamicChunks for headers built from
// the chunk allocator; the packed form stores it independently.
type CellHeader struct {
	NumItemChunks    uint32
	ItemChunksOffset uint32
	NumStaticChunks  uint32
	NumDynamicChunks uint32
	// Flags are the 7 reserved bits of the first word.
	Flags   uint8
	IsValid bool
}

// GPUCellHeader is the packed cell header read by the GPU instance test.
//
// Word0 bit 31 is the valid flag, bits 24-30 are reserved flags and bits 0-23
// hold NumItemChunks. Word1 bits 0-21 hold ItemChunksOffset, bits 22-42
// NumStaticChunks and bits 43-63 NumDynamicChunks.
// Size: 16 bytes, uploaded as vec4<u32>(word0, lo(word1), hi(word1), 0).
type GPUCellHeader struct {
	Word0 uint32
	Word1 uint64
}

// PackCellHeader encodes a header into its GPU form.
//
// Parameters:
//   - h: the header; every field must fit its bit width
//
// Returns:
//   - GPUCellHeader: the packed header
func PackCellHeader(h CellHeader) GPUCellHeader {
	common.Assert(h.NumItemChunks < MaxCellHeaderChunks, "cell header chunk count %d overflows", h.NumItemChunks)
	common.Assert(h.ItemChunksOffset < MaxCellHeaderOffset, "cell header offset %d overflows", h.ItemChunksOffset)
	common.Assert(h.NumStaticChunks < MaxCellSectionChunks && h.NumDynamicChunks < MaxCellSectionChunks,
		"cell header section counts %d/%d overflow", h.NumStaticChunks, h.NumDynamicChunks)

	g := GPUCellHeader{
		Word0: h.NumItemChunks&headerNumChunksMask | uint32(h.Flags&headerFlagsMask)<<headerFlagsShift,
		Word1: uint64(h.ItemChunksOffset&headerOffsetMask) |
			uint64(h.NumStaticChunks&headerCountMask)<<headerStaticShift |
			uint64(h.NumDynamicChunks&headerCountMask)<<headerDynamicShift,
	}
	if h.IsValid {
		g.Word0 |= headerValidBit
	}
	return g
}

// UnpackCellHeader decodes a header produced by PackCellHeader.
//
// Parameters:
//   - g: the packed header
//
// Returns:
//   - CellHeader: the decoded header
func UnpackCellHeader(g GPUCellHeader) CellHeader {
	return CellHeader{
		NumItemChunks:    g.Word0 & headerNumChunksMask,
		Flags:            uint8(g.Word0>>headerFlagsShift) & headerFlagsMask,
		IsValid:          g.Word0&headerValidBit != 0,
		ItemChunksOffset: uint32(g.Word1 & headerOffsetMask),
		NumStaticChunks:  uint32(g.Word1>>headerStaticShift) & headerCountMask,
		NumDynamicChunks: uint32(g.Word1>>headerDynamicShift) & headerCountMask,
	}
}

// CellHeaderFromChunks builds the header of a cell from its chunk span. A cell
// without chunks gets the zero header, which is invalid.
func CellHeaderFromChunks(chunks chunk_allocator.CellChunks, ok bool) CellHeader {
	if !ok || chunks.NumChunks() == 0 {
		return CellHeader{}
	}
	return CellHeader{
		NumItemChunks:    chunks.NumChunks(),
		ItemChunksOffset: chunks.Offset,
		NumStaticChunks:  chunks.NumStatic,
		NumDynamicChunks: chunks.NumDynamic,
		IsValid:          true,
	}
}

// Size returns the size of the GPUCellHeader in bytes as uploaded.
//
// Returns:
//   - int: 16
func (g *GPUCellHeader) Size() int {
	return gpuCellHeaderSize
}

// MarshalTo writes the header into dst, which must be at least 16 bytes.
func (g *GPUCellHeader) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], g.Word0)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(g.Word1))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(g.Word1>>32))
	binary.LittleEndian.PutUint32(dst[12:16], 0)
}
