package primitive_state

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
)

// State is the placement a primitive currently has in the culling structure.
type State int

const (
	// StateUnknown is the state of a primitive that was registered but not placed yet.
	StateUnknown State = iota

	// StateSingleCell marks a primitive whose instances all share one cell.
	// The cell index is stored inline and no occupancy cache slot is used.
	StateSingleCell

	// StatePrecomputed marks a primitive placed from precomputed instance groups.
	// Its occupancy is recorded in a cache slot.
	StatePrecomputed

	// StateUnCullable marks a primitive stored in the global always-draw list.
	// It never touches the spatial hash.
	StateUnCullable

	// StateDynamic marks a primitive that moved after being placed. It is
	// removed and reinserted on every update that moves it, always goes into
	// dynamic chunks and always keeps a cache slot.
	StateDynamic

	// StateCached marks a static primitive spanning several cells whose
	// occupancy is recorded in a cache slot.
	StateCached

	numStates
)

var stateNames = [numStates]string{
	StateUnknown:     "unknown",
	StateSingleCell:  "single_cell",
	StatePrecomputed: "precomputed",
	StateUnCullable:  "uncullable",
	StateDynamic:     "dynamic",
	StateCached:      "cached",
}

// String returns the snake case name of the state, used as a log tag and metric label.
func (s State) String() string {
	if s < 0 || s >= numStates {
		return "invalid"
	}
	return stateNames[s]
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, numStates)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// UsesCache reports whether primitives in this state own an occupancy cache slot.
func (s State) UsesCache() bool {
	return s == StatePrecomputed || s == StateDynamic || s == StateCached
}

// NoCacheSlot is the CacheSlot value of a primitive without occupancy cache entry.
const NoCacheSlot = -1

// Placement is the payload attached to a primitive's state.
type Placement struct {
	State State
	// CellIndex is the cell of a SingleCell primitive.
	CellIndex uint32
	// CacheSlot is the occupancy cache slot of Precomputed, Cached and Dynamic
	// primitives, NoCacheSlot otherwise.
	CacheSlot int
}

// Primitive is the tracked record of one renderable unit.
type Primitive struct {
	// ID is the persistent primitive index assigned by the scene.
	ID uint32
	// InstanceOffset is the first instance id owned by the primitive.
	InstanceOffset uint32
	// NumInstances is the number of consecutive instance ids owned by the primitive.
	NumInstances uint32
	// Bounds are the world bounds used for the current placement.
	Bounds common.Box
	// Dynamic is set once the primitive moved. It is never cleared.
	Dynamic bool

	placement Placement
}

// State returns the current placement state.
func (p *Primitive) State() State {
	return p.placement.State
}

// Placement returns the current placement payload.
func (p *Primitive) Placement() Placement {
	return p.placement
}

func (p Placement) valid() bool {
	switch {
	case p.State.UsesCache():
		return p.CacheSlot >= 0
	case p.State == StateSingleCell, p.State == StateUnCullable, p.State == StateUnknown:
		return p.CacheSlot == NoCacheSlot
	}
	return false
}
