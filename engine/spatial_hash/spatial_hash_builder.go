package spatial_hash

// SpatialHashBuilderOption is a functional option for configuring a SpatialHash.
type SpatialHashBuilderOption func(h *spatialHash)

// WithBaseCellSize sets the cell edge length at level 0.
//
// Parameters:
//   - size: the level 0 cell size in world units (must be positive)
//
// Returns:
//   - SpatialHashBuilderOption: option function to apply
func WithBaseCellSize(size float32) SpatialHashBuilderOption {
	return func(h *spatialHash) {
		h.baseCellSize = size
	}
}

// WithBlockDimLog2 sets log2 of the number of cells along a block edge. A value
// of 3 gives 8x8x8 blocks.
//
// Parameters:
//   - log2: block dimension exponent in [1, 5]
//
// Returns:
//   - SpatialHashBuilderOption: option function to apply
func WithBlockDimLog2(log2 int) SpatialHashBuilderOption {
	return func(h *spatialHash) {
		h.blockDimLog2 = log2
	}
}

// WithMaxLevel sets the coarsest level. Items larger than the cell size at this
// level cannot be placed.
//
// Parameters:
//   - level: the maximum level in [0, 30]
//
// Returns:
//   - SpatialHashBuilderOption: option function to apply
func WithMaxLevel(level int) SpatialHashBuilderOption {
	return func(h *spatialHash) {
		h.maxLevel = level
	}
}

// WithWorldExtent sets the half size of the addressable world cube centered on the origin.
//
// Parameters:
//   - extent: maximum absolute world coordinate
//
// Returns:
//   - SpatialHashBuilderOption: option function to apply
func WithWorldExtent(extent float32) SpatialHashBuilderOption {
	return func(h *spatialHash) {
		h.worldExtent = extent
	}
}
