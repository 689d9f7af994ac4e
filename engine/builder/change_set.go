package builder

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
)

// PrecomputedGroup is a run of a primitive's instances that is placed as one unit.
type PrecomputedGroup struct {
	// FirstInstance is relative to the primitive's InstanceOffset.
	FirstInstance uint32
	NumInstances  uint32
	Bounds        common.Box
}

// PrimitiveChange describes a primitive being added or moved.
type PrimitiveChange struct {
	ID             uint32
	InstanceOffset uint32
	NumInstances   uint32
	// Bounds are the world bounds of the whole primitive.
	Bounds common.Box
	// InstanceBounds optionally holds one box per instance. When present,
	// instances are placed individually.
	InstanceBounds []common.Box
	// PrecomputedGroups optionally partitions the instances into groups placed
	// by the group bounds. Instances outside every group follow Bounds.
	PrecomputedGroups []PrecomputedGroup
	// IsDynamic places the primitive in dynamic chunks from the start.
	IsDynamic bool
	// DrawDistance is the min and max camera distance the primitive is drawn
	// at. A max of zero means unlimited.
	DrawDistance [2]float32
}

// ChangeSet is one frame's worth of scene changes. Removals are applied
// first, then updates, then additions.
type ChangeSet struct {
	Added   []PrimitiveChange
	Updated []PrimitiveChange
	Removed []uint32
}

// Empty reports whether the change set holds no changes.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Updated) == 0 && len(cs.Removed) == 0
}
