package builder

import (
	"cmp"
	"math"
	"slices"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/spatial_hash"
	"github.com/go-gl/mathgl/mgl32"
)

// Reasons a primitive is routed to the uncullable list, used as log tags and metric labels.
const (
	ReasonDegenerateBounds = "degenerate_bounds"
	ReasonTooLarge         = "too_large"
	ReasonTooManyCells     = "too_many_cells"
)

type plannedInstance struct {
	cell     uint32
	instance uint32
	bounds   common.Box
}

type placementPlan struct {
	state  primitive_state.State
	reason string
	items  []plannedInstance
}

type pendingInstance struct {
	addr     spatial_hash.CellAddress
	instance uint32
	bounds   common.Box
}

// plan decides where the instances of a primitive go and registers the cells
// they need in the spatial hash. Items come back sorted by cell.
func (b *builder) plan(change PrimitiveChange, dynamic bool) (placementPlan, error) {
	if change.NumInstances == 0 {
		return placementPlan{state: primitive_state.StateUnknown}, nil
	}
	if change.Bounds.IsDegenerate() {
		return b.uncullable(change, ReasonDegenerateBounds), nil
	}

	hash := b.ctx.Hash()
	pending := b.pendingScratch[:0]
	place := func(instance uint32, bounds common.Box) string {
		if bounds.IsDegenerate() {
			return ReasonDegenerateBounds
		}
		addr, ok := hash.Locate(bounds)
		if !ok {
			return ReasonTooLarge
		}
		pending = append(pending, pendingInstance{addr: addr, instance: instance, bounds: bounds})
		return ""
	}

	fromGroups := false
	switch {
	case len(change.PrecomputedGroups) > 0:
		fromGroups = true
		covered := make([]bool, change.NumInstances)
		for _, g := range change.PrecomputedGroups {
			if g.FirstInstance+g.NumInstances > change.NumInstances || g.FirstInstance+g.NumInstances < g.FirstInstance {
				fromGroups = false
				break
			}
			for i := g.FirstInstance; i < g.FirstInstance+g.NumInstances; i++ {
				if covered[i] {
					continue
				}
				covered[i] = true
				if reason := place(change.InstanceOffset+i, g.Bounds); reason != "" {
					return b.uncullable(change, reason), nil
				}
			}
		}
		if fromGroups {
			for i, ok := range covered {
				if ok {
					continue
				}
				if reason := place(change.InstanceOffset+uint32(i), change.Bounds); reason != "" {
					return b.uncullable(change, reason), nil
				}
			}
			break
		}
		pending = pending[:0]
		for i := range change.NumInstances {
			if reason := place(change.InstanceOffset+i, change.Bounds); reason != "" {
				return b.uncullable(change, reason), nil
			}
		}

	case len(change.InstanceBounds) == int(change.NumInstances):
		for i, bounds := range change.InstanceBounds {
			if reason := place(change.InstanceOffset+uint32(i), bounds); reason != "" {
				return b.uncullable(change, reason), nil
			}
		}

	default:
		for i := range change.NumInstances {
			if reason := place(change.InstanceOffset+i, change.Bounds); reason != "" {
				return b.uncullable(change, reason), nil
			}
		}
	}
	b.pendingScratch = pending

	distinct := b.distinctScratch
	clear(distinct)
	for _, p := range pending {
		distinct[p.addr] = 0
	}
	if len(distinct) > b.ctx.Config().MaxCellsPerPrimitive {
		return b.uncullable(change, ReasonTooManyCells), nil
	}
	added := make([]uint32, 0, len(distinct))
	for addr := range distinct {
		cell, err := hash.AddCell(addr)
		if err != nil {
			b.releaseEmptyCells(added)
			return placementPlan{}, err
		}
		distinct[addr] = cell
		added = append(added, cell)
	}

	plan := placementPlan{items: make([]plannedInstance, len(pending))}
	for i, p := range pending {
		plan.items[i] = plannedInstance{cell: distinct[p.addr], instance: p.instance, bounds: p.bounds}
	}
	slices.SortFunc(plan.items, func(x, y plannedInstance) int {
		return cmp.Or(cmp.Compare(x.cell, y.cell), cmp.Compare(x.instance, y.instance))
	})

	switch {
	case dynamic:
		plan.state = primitive_state.StateDynamic
	case fromGroups:
		plan.state = primitive_state.StatePrecomputed
	case len(distinct) == 1:
		plan.state = primitive_state.StateSingleCell
	default:
		plan.state = primitive_state.StateCached
	}
	return plan, nil
}

// uncullable builds the plan that puts every instance into the always-draw list.
func (b *builder) uncullable(change PrimitiveChange, reason string) placementPlan {
	bounds := change.Bounds
	if bounds.IsDegenerate() {
		bounds = b.worldBounds()
	}
	plan := placementPlan{
		state:  primitive_state.StateUnCullable,
		reason: reason,
		items:  make([]plannedInstance, change.NumInstances),
	}
	for i := range change.NumInstances {
		item := plannedInstance{cell: culling.UncullableCellIndex, instance: change.InstanceOffset + i, bounds: bounds}
		if int(i) < len(change.InstanceBounds) && !change.InstanceBounds[i].IsDegenerate() {
			item.bounds = change.InstanceBounds[i]
		}
		plan.items[i] = item
	}
	return plan
}

func (b *builder) worldBounds() common.Box {
	e := b.ctx.Config().WorldExtent
	return common.NewBox(mgl32.Vec3{}, mgl32.Vec3{e, e, e})
}

func normalizeDrawDistance(d [2]float32) [2]float32 {
	if !(d[1] > 0) || !common.IsFinite(d[1]) {
		d[1] = math.MaxFloat32
	}
	if !(d[0] >= 0) || d[0] > d[1] {
		d[0] = 0
	}
	return d
}
