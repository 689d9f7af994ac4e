package primitive_state

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Tracker keeps one record per tracked primitive and the occupancy cache
// their multi-cell placements are recorded in.
type Tracker interface {
	// Register starts tracking a primitive in StateUnknown.
	//
	// Parameters:
	//   - id: the persistent primitive index
	//   - instanceOffset: the first instance id of the primitive
	//   - numInstances: the number of instances of the primitive
	//
	// Returns:
	//   - *Primitive: the new record
	//   - error: invariant error if the id is already tracked
	Register(id, instanceOffset, numInstances uint32) (*Primitive, error)

	// Get returns the record of a tracked primitive.
	Get(id uint32) (*Primitive, bool)

	// Set moves a primitive to a new placement.
	//
	// Parameters:
	//   - p: a tracked primitive
	//   - placement: the new placement; its cache slot must match the state
	Set(p *Primitive, placement Placement)

	// Unregister stops tracking a primitive. It must be back in StateUnknown.
	Unregister(id uint32)

	// Len returns the number of tracked primitives.
	Len() int

	// ForEach visits every tracked primitive. The callback may return false to stop.
	ForEach(fn func(p *Primitive) bool)

	// CountByState returns the number of primitives in a state.
	CountByState(state State) int

	// Cache returns the occupancy cache slots are allocated from.
	Cache() OccupancyCache
}

type tracker struct {
	primitives map[uint32]*Primitive
	counts     [numStates]int
	cache      OccupancyCache
}

var _ Tracker = &tracker{}

// NewTracker creates an empty Tracker.
//
// Parameters:
//   - cache: the occupancy cache backing multi-cell placements, a CellIndexCache when nil
//
// Returns:
//   - Tracker: the tracker
func NewTracker(cache OccupancyCache) Tracker {
	if cache == nil {
		cache = NewCellIndexCache()
	}
	return &tracker{
		primitives: make(map[uint32]*Primitive),
		cache:      cache,
	}
}

func (t *tracker) Register(id, instanceOffset, numInstances uint32) (*Primitive, error) {
	if _, ok := t.primitives[id]; ok {
		return nil, errors.New("primitive already registered").
			WithType(common.ErrTypeInvariant).
			WithTag("primitive_id", id)
	}
	p := &Primitive{
		ID:             id,
		InstanceOffset: instanceOffset,
		NumInstances:   numInstances,
		placement:      Placement{State: StateUnknown, CacheSlot: NoCacheSlot},
	}
	t.primitives[id] = p
	t.counts[StateUnknown]++
	return p, nil
}

func (t *tracker) Get(id uint32) (*Primitive, bool) {
	p, ok := t.primitives[id]
	return p, ok
}

func (t *tracker) Set(p *Primitive, placement Placement) {
	common.Assert(placement.valid(), "placement %+v is inconsistent", placement)
	t.counts[p.placement.State]--
	p.placement = placement
	t.counts[placement.State]++
}

func (t *tracker) Unregister(id uint32) {
	p, ok := t.primitives[id]
	if !ok {
		return
	}
	common.Assert(p.placement.State == StateUnknown, "primitive %d unregistered while %s", id, p.placement.State)
	t.counts[p.placement.State]--
	delete(t.primitives, id)
}

func (t *tracker) Len() int {
	return len(t.primitives)
}

func (t *tracker) ForEach(fn func(p *Primitive) bool) {
	for _, p := range t.primitives {
		if !fn(p) {
			return
		}
	}
}

func (t *tracker) CountByState(state State) int {
	if state < 0 || state >= numStates {
		return 0
	}
	return t.counts[state]
}

func (t *tracker) Cache() OccupancyCache {
	return t.cache
}
