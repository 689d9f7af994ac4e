package spatial_hash

import (
	"math"
	"slices"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
)

// Defaults used when no option overrides them. These are tuning values rather
// than derived constants.
const (
	DefaultBaseCellSize = 8.0
	DefaultBlockDimLog2 = 3
	DefaultMaxLevel     = 20
	DefaultWorldExtent  = 1 << 21
)

// SpatialHash is a multi-level loose grid. Each level doubles the cell size of
// the previous one, and cells are grouped into cubic blocks that live in a
// sparse open-addressing map keyed by BlockLocation.
//
// An item is assigned to exactly one cell: the level is chosen from its largest
// dimension and the cell from its center. Cell culling bounds are the cell box
// grown by half a cell so that any item assigned to a cell is contained in them.
//
// Not safe for concurrent mutation; the culling builder is the single writer.
type SpatialHash interface {
	// BaseCellSize returns the cell edge length at level 0.
	BaseCellSize() float32

	// BlockDim returns the number of cells along one edge of a block.
	BlockDim() int32

	// CellsPerBlockLog2 returns log2 of the number of cells in a block.
	CellsPerBlockLog2() int

	// MaxLevel returns the coarsest supported level.
	MaxLevel() int

	// CellSize returns the cell edge length at the level.
	//
	// Parameters:
	//   - level: the hash level
	//
	// Returns:
	//   - float32: BaseCellSize * 2^level
	CellSize(level int) float32

	// LevelForFootprint picks the finest level whose cell size is at least the footprint.
	//
	// Parameters:
	//   - footprint: the largest dimension of the item bounds
	//
	// Returns:
	//   - int: the chosen level
	//   - bool: false if no supported level is coarse enough
	LevelForFootprint(footprint float32) (int, bool)

	// Locate places a bounding box into a single cell address.
	//
	// Parameters:
	//   - bounds: the world-space bounds to place
	//
	// Returns:
	//   - CellAddress: block location and local cell index
	//   - bool: false if the bounds are too large for any level or their center lies outside the world extent
	Locate(bounds common.Box) (CellAddress, bool)

	// AddCell marks the addressed cell as occupied, creating its block on demand.
	//
	// Parameters:
	//   - addr: the cell address from Locate
	//
	// Returns:
	//   - uint32: the global cell index
	//   - error: capacity error if the block index space is exhausted
	AddCell(addr CellAddress) (uint32, error)

	// RemoveCell clears the occupied flag of a cell and releases its block once the block is empty.
	//
	// Parameters:
	//   - cellIndex: the global cell index
	RemoveCell(cellIndex uint32)

	// IsCellOccupied reports whether the cell is currently occupied.
	IsCellOccupied(cellIndex uint32) bool

	// CellBounds returns the loose culling bounds of a cell.
	CellBounds(cellIndex uint32) common.Box

	// CellLevel returns the level of the block owning the cell.
	CellLevel(cellIndex uint32) int

	// BlockIndex finds the block stored at a location.
	BlockIndex(loc BlockLocation) (int32, bool)

	// Block returns the block stored at an index. The pointer is valid until the next mutation.
	Block(index int32) *Block

	// BlockLooseBounds returns the loose bounds of a block, enclosing the loose bounds of all its cells.
	BlockLooseBounds(index int32) common.Box

	// ForEachBlockInBox visits every live block of the level whose block coordinate range intersects the box.
	// The callback may return false to stop.
	//
	// Parameters:
	//   - level: the level to search
	//   - box: the world-space search box, already expanded by any loose margin
	//   - fn: visitor receiving the block index and block
	ForEachBlockInBox(level int, box common.Box, fn func(index int32, b *Block) bool)

	// ForEachBlock visits every live block in index order.
	ForEachBlock(fn func(index int32, b *Block) bool)

	// ForEachOccupiedCell visits the occupied cells of a block in ascending cell index order.
	ForEachOccupiedCell(blockIndex int32, fn func(cellIndex uint32) bool)

	// NumBlocks returns the number of live blocks.
	NumBlocks() int

	// BlocksAtLevel returns the number of live blocks at a level.
	BlocksAtLevel(level int) int

	// BlockCapacity returns the size of the block array, including free slots.
	BlockCapacity() int

	// MaxCellIndex returns one past the largest addressable cell index.
	MaxCellIndex() uint32

	// DirtyBlocks returns the sorted indices of blocks created or released since the last ClearDirty.
	DirtyBlocks() []int32

	// ClearDirty resets the dirty block set.
	ClearDirty()
}

type spatialHash struct {
	baseCellSize      float32
	blockDimLog2      int
	blockDim          int32
	cellsPerBlockLog2 int
	maxLevel          int
	worldExtent       float32

	blocks     []Block
	freeBlocks []int32
	lookup     blockMap
	perLevel   []int
	numBlocks  int
	dirty      map[int32]struct{}
}

var _ SpatialHash = &spatialHash{}

// NewSpatialHash creates a SpatialHash and validates that its coordinate range
// is representable. A configuration that overflows the cell coordinate range
// is fatal and returns an error of type common.ErrTypeConfig.
//
// Parameters:
//   - options: functional options to configure the hash
//
// Returns:
//   - SpatialHash: the new hash
//   - error: configuration error, if any
func NewSpatialHash(options ...SpatialHashBuilderOption) (SpatialHash, error) {
	h := &spatialHash{
		baseCellSize: DefaultBaseCellSize,
		blockDimLog2: DefaultBlockDimLog2,
		maxLevel:     DefaultMaxLevel,
		worldExtent:  DefaultWorldExtent,
	}
	for _, option := range options {
		option(h)
	}

	if !(h.baseCellSize > 0) || !common.IsFinite(h.baseCellSize) {
		return nil, errors.New("base cell size must be positive").
			WithType(common.ErrTypeConfig).
			WithTag("base_cell_size", h.baseCellSize)
	}
	if h.blockDimLog2 < 1 || h.blockDimLog2 > 5 {
		return nil, errors.New("block dimension out of range").
			WithType(common.ErrTypeConfig).
			WithTag("block_dim_log2", h.blockDimLog2)
	}
	if h.maxLevel < 0 || h.maxLevel > 30 {
		return nil, errors.New("max level out of range").
			WithType(common.ErrTypeConfig).
			WithTag("max_level", h.maxLevel)
	}
	if !(h.worldExtent > 0) || float64(h.worldExtent)/float64(h.baseCellSize) > MaxCellCoord {
		return nil, errors.New("world extent exceeds the cell coordinate range").
			WithType(common.ErrTypeConfig).
			WithTag("world_extent", h.worldExtent).
			WithTag("base_cell_size", h.baseCellSize).
			WithTag("max_cell_coord", MaxCellCoord)
	}

	h.blockDim = 1 << h.blockDimLog2
	h.cellsPerBlockLog2 = 3 * h.blockDimLog2
	h.lookup = newBlockMap(64)
	h.perLevel = make([]int, h.maxLevel+1)
	h.dirty = make(map[int32]struct{})
	return h, nil
}

func (h *spatialHash) BaseCellSize() float32 {
	return h.baseCellSize
}

func (h *spatialHash) BlockDim() int32 {
	return h.blockDim
}

func (h *spatialHash) CellsPerBlockLog2() int {
	return h.cellsPerBlockLog2
}

func (h *spatialHash) MaxLevel() int {
	return h.maxLevel
}

func (h *spatialHash) CellSize(level int) float32 {
	return h.baseCellSize * float32(uint64(1)<<uint(level))
}

func (h *spatialHash) LevelForFootprint(footprint float32) (int, bool) {
	if !common.IsFinite(footprint) {
		return 0, false
	}
	if footprint <= h.baseCellSize {
		return 0, true
	}
	level := int(math.Ceil(math.Log2(float64(footprint) / float64(h.baseCellSize))))
	for level > 0 && h.CellSize(level-1) >= footprint {
		level--
	}
	for level <= h.maxLevel && h.CellSize(level) < footprint {
		level++
	}
	if level > h.maxLevel {
		return 0, false
	}
	return level, true
}

func (h *spatialHash) Locate(bounds common.Box) (CellAddress, bool) {
	level, ok := h.LevelForFootprint(bounds.MaxDimension())
	if !ok {
		return CellAddress{}, false
	}
	center := bounds.Center()
	for i := range 3 {
		if !(center[i] >= -h.worldExtent && center[i] < h.worldExtent) {
			return CellAddress{}, false
		}
	}

	cellSize := h.CellSize(level)
	addr := CellAddress{Block: BlockLocation{Level: int32(level)}}
	mask := h.blockDim - 1
	for i := range 3 {
		c := int64(math.Floor(float64(center[i]) / float64(cellSize)))
		c = min(max(c, -MaxCellCoord), MaxCellCoord-1)
		cell := int32(c)
		addr.Block.Coord[i] = cell >> h.blockDimLog2
		addr.Local |= uint32(cell&mask) << (uint(i) * uint(h.blockDimLog2))
	}
	return addr, true
}

func (h *spatialHash) AddCell(addr CellAddress) (uint32, error) {
	index, ok := h.lookup.get(addr.Block)
	if !ok {
		var err error
		index, err = h.addBlock(addr.Block)
		if err != nil {
			return 0, err
		}
	}
	b := &h.blocks[index]
	if !b.IsCellOccupied(addr.Local) {
		b.occupied[addr.Local>>6] |= 1 << (addr.Local & 63)
		b.numCells++
	}
	return uint32(index)<<h.cellsPerBlockLog2 | addr.Local, nil
}

func (h *spatialHash) RemoveCell(cellIndex uint32) {
	index := int32(cellIndex >> h.cellsPerBlockLog2)
	local := cellIndex & (1<<h.cellsPerBlockLog2 - 1)
	common.Assert(int(index) < len(h.blocks) && h.blocks[index].live, "cell %d has no live block", cellIndex)

	b := &h.blocks[index]
	if !b.IsCellOccupied(local) {
		return
	}
	b.occupied[local>>6] &^= 1 << (local & 63)
	b.numCells--
	if b.numCells == 0 {
		h.removeBlock(index)
	}
}

func (h *spatialHash) IsCellOccupied(cellIndex uint32) bool {
	index := int(cellIndex >> h.cellsPerBlockLog2)
	if index >= len(h.blocks) || !h.blocks[index].live {
		return false
	}
	return h.blocks[index].IsCellOccupied(cellIndex & (1<<h.cellsPerBlockLog2 - 1))
}

func (h *spatialHash) CellBounds(cellIndex uint32) common.Box {
	b := &h.blocks[cellIndex>>h.cellsPerBlockLog2]
	local := cellIndex & (1<<h.cellsPerBlockLog2 - 1)
	mask := uint32(h.blockDim - 1)
	var minCorner mgl32.Vec3
	for i := range 3 {
		c := (local >> (uint(i) * uint(h.blockDimLog2))) & mask
		minCorner[i] = b.WorldPos[i] + float32(c)*b.CellSize
	}
	box := common.Box{
		Min: minCorner,
		Max: minCorner.Add(mgl32.Vec3{b.CellSize, b.CellSize, b.CellSize}),
	}
	return box.Expand(b.CellSize * 0.5)
}

func (h *spatialHash) CellLevel(cellIndex uint32) int {
	return int(h.blocks[cellIndex>>h.cellsPerBlockLog2].Location.Level)
}

func (h *spatialHash) BlockIndex(loc BlockLocation) (int32, bool) {
	return h.lookup.get(loc)
}

func (h *spatialHash) Block(index int32) *Block {
	return &h.blocks[index]
}

func (h *spatialHash) BlockLooseBounds(index int32) common.Box {
	return h.blocks[index].looseBounds(h.blockDim)
}

func (h *spatialHash) ForEachBlockInBox(level int, box common.Box, fn func(index int32, b *Block) bool) {
	if level < 0 || level > h.maxLevel || h.perLevel[level] == 0 {
		return
	}
	blockSize := float64(h.CellSize(level)) * float64(h.blockDim)
	var lo, hi [3]int64
	volume := int64(1)
	for i := range 3 {
		lo[i] = int64(math.Floor(float64(box.Min[i]) / blockSize))
		hi[i] = int64(math.Floor(float64(box.Max[i]) / blockSize))
		limit := int64(MaxCellCoord >> h.blockDimLog2)
		lo[i] = min(max(lo[i], -limit), limit)
		hi[i] = min(max(hi[i], -limit), limit)
		if hi[i] < lo[i] {
			return
		}
		volume *= hi[i] - lo[i] + 1
		volume = min(volume, math.MaxInt32)
	}

	// Probing more coordinates than there are blocks at this level costs more
	// than scanning the level.
	if volume > int64(h.perLevel[level]) {
		for i := range h.blocks {
			b := &h.blocks[i]
			if !b.live || int(b.Location.Level) != level {
				continue
			}
			inside := true
			for a := range 3 {
				c := int64(b.Location.Coord[a])
				if c < lo[a] || c > hi[a] {
					inside = false
					break
				}
			}
			if inside && !fn(int32(i), b) {
				return
			}
		}
		return
	}

	loc := BlockLocation{Level: int32(level)}
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				loc.Coord = [3]int32{int32(x), int32(y), int32(z)}
				if index, ok := h.lookup.get(loc); ok {
					if !fn(index, &h.blocks[index]) {
						return
					}
				}
			}
		}
	}
}

func (h *spatialHash) ForEachBlock(fn func(index int32, b *Block) bool) {
	for i := range h.blocks {
		if h.blocks[i].live && !fn(int32(i), &h.blocks[i]) {
			return
		}
	}
}

func (h *spatialHash) ForEachOccupiedCell(blockIndex int32, fn func(cellIndex uint32) bool) {
	base := uint32(blockIndex) << h.cellsPerBlockLog2
	h.blocks[blockIndex].forEachOccupied(func(local uint32) bool {
		return fn(base | local)
	})
}

func (h *spatialHash) NumBlocks() int {
	return h.numBlocks
}

func (h *spatialHash) BlocksAtLevel(level int) int {
	if level < 0 || level > h.maxLevel {
		return 0
	}
	return h.perLevel[level]
}

func (h *spatialHash) BlockCapacity() int {
	return len(h.blocks)
}

func (h *spatialHash) MaxCellIndex() uint32 {
	return uint32(len(h.blocks)) << h.cellsPerBlockLog2
}

func (h *spatialHash) DirtyBlocks() []int32 {
	out := make([]int32, 0, len(h.dirty))
	for index := range h.dirty {
		out = append(out, index)
	}
	slices.Sort(out)
	return out
}

func (h *spatialHash) ClearDirty() {
	clear(h.dirty)
}

func (h *spatialHash) addBlock(loc BlockLocation) (int32, error) {
	var index int32
	if n := len(h.freeBlocks); n > 0 {
		index = h.freeBlocks[n-1]
		h.freeBlocks = h.freeBlocks[:n-1]
	} else {
		// Cell indices stay below 2^31 so the occupancy cache can tag them.
		maxBlocks := 1 << (31 - h.cellsPerBlockLog2)
		if len(h.blocks) >= maxBlocks {
			return 0, errors.New("spatial hash block index space exhausted").
				WithType(common.ErrTypeCapacityExceeded).
				WithTag("max_blocks", maxBlocks)
		}
		index = int32(len(h.blocks))
		h.blocks = append(h.blocks, Block{})
	}

	cellSize := h.CellSize(int(loc.Level))
	blockSize := cellSize * float32(h.blockDim)
	worldPos := mgl32.Vec3{
		float32(loc.Coord[0]) * blockSize,
		float32(loc.Coord[1]) * blockSize,
		float32(loc.Coord[2]) * blockSize,
	}
	h.blocks[index].reset(loc, worldPos, cellSize, 1<<h.cellsPerBlockLog2)
	h.lookup.put(loc, index)
	h.perLevel[loc.Level]++
	h.numBlocks++
	h.dirty[index] = struct{}{}
	return index, nil
}

func (h *spatialHash) removeBlock(index int32) {
	b := &h.blocks[index]
	h.lookup.remove(b.Location)
	h.perLevel[b.Location.Level]--
	h.numBlocks--
	b.live = false
	h.freeBlocks = append(h.freeBlocks, index)
	h.dirty[index] = struct{}{}
}
