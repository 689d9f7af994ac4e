package gpu_mirror

// BufferID names one of the GPU arrays mirroring the culling structure.
type BufferID int

const (
	// BufferCellHeaders holds one 16 byte GPUCellHeader per cell index.
	BufferCellHeaders BufferID = iota
	// BufferCellChunkRefs holds the packed cell chunk reference list.
	BufferCellChunkRefs
	// BufferChunkInstanceIDs holds ChunkCapacity instance ids per chunk.
	BufferChunkInstanceIDs
	// BufferBlockData holds one 16 byte GPUCellBlockData per block.
	BufferBlockData
	// BufferUsedChunkMask holds the chunk liveness bitmask.
	BufferUsedChunkMask
	// BufferChunkBounds holds one 16 byte GPUChunkBounds per chunk.
	BufferChunkBounds

	// NumBuffers is the number of mirrored arrays.
	NumBuffers
)

// String returns the buffer name used in labels and log tags.
func (b BufferID) String() string {
	switch b {
	case BufferCellHeaders:
		return "cell_headers"
	case BufferCellChunkRefs:
		return "cell_chunk_refs"
	case BufferChunkInstanceIDs:
		return "chunk_instance_ids"
	case BufferBlockData:
		return "block_data"
	case BufferUsedChunkMask:
		return "used_chunk_mask"
	case BufferChunkBounds:
		return "chunk_bounds"
	default:
		return "invalid"
	}
}

// Uploader owns the device side copies of the mirrored arrays.
type Uploader interface {
	// EnsureBuffer makes the buffer hold at least size bytes. A recreated
	// buffer has undefined content and must be uploaded in full.
	//
	// Parameters:
	//   - id: the buffer
	//   - size: the minimum size in bytes
	//
	// Returns:
	//   - bool: true if the buffer was created or replaced
	//   - error: allocation error, if any
	EnsureBuffer(id BufferID, size int) (bool, error)

	// Write copies data into the buffer at a byte offset.
	//
	// Parameters:
	//   - id: the buffer
	//   - offset: the destination offset in bytes
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: out of range or device error
	Write(id BufferID, offset int, data []byte) error

	// Release frees every buffer.
	Release()
}
