package culling

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/spatial_hash"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Config holds the tuning values of the culling structure. The defaults are
// empirical; nothing derives them.
type Config struct {
	// BaseCellSize is the cell edge length at level 0, in world units.
	BaseCellSize float32
	// BlockDimLog2 is log2 of the number of cells along a block edge.
	BlockDimLog2 int
	// MaxLevel is the coarsest hash level. Larger primitives are uncullable.
	MaxLevel int
	// WorldExtent is the half size of the addressable world cube.
	WorldExtent float32
	// SmallFootprintCellSideThreshold is the largest query sphere diameter,
	// in level 0 cells, answered on the CPU by walking the hash.
	SmallFootprintCellSideThreshold float32
	// MaxCellsPerPrimitive is the largest number of distinct cells a primitive
	// may be spread over before it is treated as uncullable.
	MaxCellsPerPrimitive int
	// MaxChunks caps the chunk id space.
	MaxChunks int
	// Workers is the number of goroutines running builder and query tasks.
	Workers int
	// Synchronous runs builder and query tasks inline on the calling goroutine.
	Synchronous bool
}

// DefaultConfig returns the default configuration.
//
// Returns:
//   - Config: the defaults
func DefaultConfig() Config {
	return Config{
		BaseCellSize:                    spatial_hash.DefaultBaseCellSize,
		BlockDimLog2:                    spatial_hash.DefaultBlockDimLog2,
		MaxLevel:                        spatial_hash.DefaultMaxLevel,
		WorldExtent:                     spatial_hash.DefaultWorldExtent,
		SmallFootprintCellSideThreshold: 16,
		MaxCellsPerPrimitive:            1024,
		MaxChunks:                       chunk_allocator.MaxChunkID,
		Workers:                         4,
	}
}

// Validate checks the values not covered by the spatial hash and chunk allocator constructors.
//
// Returns:
//   - error: a configuration error, if any
func (c Config) Validate() error {
	if !(c.SmallFootprintCellSideThreshold >= 0) {
		return errors.New("small footprint threshold must not be negative").
			WithType(common.ErrTypeConfig).
			WithTag("small_footprint_cell_side_threshold", c.SmallFootprintCellSideThreshold)
	}
	if c.MaxCellsPerPrimitive < 1 {
		return errors.New("max cells per primitive must be positive").
			WithType(common.ErrTypeConfig).
			WithTag("max_cells_per_primitive", c.MaxCellsPerPrimitive)
	}
	if !c.Synchronous && c.Workers < 1 {
		return errors.New("asynchronous culling needs at least one worker").
			WithType(common.ErrTypeConfig).
			WithTag("workers", c.Workers)
	}
	return nil
}
