package chunk_allocator

// ChunkAllocatorBuilderOption is a functional option for configuring a ChunkAllocator.
type ChunkAllocatorBuilderOption func(a *chunkAllocator)

// WithMaxChunks caps the number of chunk ids. Allocations past the cap fail
// with a capacity error.
//
// Parameters:
//   - n: the chunk id limit, at most MaxChunkID
//
// Returns:
//   - ChunkAllocatorBuilderOption: option function to apply
func WithMaxChunks(n int) ChunkAllocatorBuilderOption {
	return func(a *chunkAllocator) {
		a.maxChunks = n
	}
}

// WithMaxCellChunkOffset caps the size of the packed cell chunk list.
//
// Parameters:
//   - n: the offset limit, at most MaxCellChunkOffset
//
// Returns:
//   - ChunkAllocatorBuilderOption: option function to apply
func WithMaxCellChunkOffset(n int) ChunkAllocatorBuilderOption {
	return func(a *chunkAllocator) {
		a.maxCellChunkOffset = n
	}
}
