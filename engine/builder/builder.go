package builder

import (
	"time"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/spatial_hash"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// UpdateStats summarizes one applied change set.
type UpdateStats struct {
	Frame    uint64
	Added    int
	Updated  int
	Removed  int
	Promoted int
	// Uncullable counts primitives routed to the uncullable list, by reason.
	Uncullable map[string]int
	Duration   time.Duration
	SyncTime   time.Duration
}

// Builder applies per-frame change sets to the culling structure.
//
// An update has two join points. BeginUpdate launches the mutation as an
// asynchronous task that first waits for every query reading the previous
// state. EndUpdate joins that task and then runs the post-update hooks, such
// as the GPU mirror sync, as one barrier.
type Builder interface {
	// BeginUpdate launches the application of a change set and returns immediately.
	//
	// Parameters:
	//   - cs: the frame's changes; the builder keeps a reference until the task finished
	//
	// Returns:
	//   - *task.Handle: the builder task handle
	BeginUpdate(cs ChangeSet) *task.Handle

	// EndUpdate waits for every pending builder task, then runs the post-update
	// hooks. The hooks are skipped when a task failed, so a failed frame is never
	// published.
	//
	// Returns:
	//   - error: the first task or hook error; capacity errors surface here
	EndUpdate() error

	// LastStats returns the statistics of the most recently joined update.
	LastStats() UpdateStats
}

type builder struct {
	ctx        *culling.Context
	preUpdate  func()
	postUpdate []func() error

	pending []*task.Handle
	stats   UpdateStats
	last    UpdateStats

	pendingScratch  []pendingInstance
	distinctScratch map[spatial_hash.CellAddress]uint32
	removeScratch   map[uint32]uint32
}

var _ Builder = &builder{}

// NewBuilder creates a Builder mutating the context's structure.
//
// Parameters:
//   - ctx: the culling context, must not be nil
//   - options: functional options to configure the builder
//
// Returns:
//   - Builder: the builder
func NewBuilder(ctx *culling.Context, options ...BuilderBuilderOption) Builder {
	if ctx == nil {
		panic("builder: context must not be nil")
	}
	b := &builder{
		ctx:             ctx,
		distinctScratch: make(map[spatial_hash.CellAddress]uint32),
		removeScratch:   make(map[uint32]uint32),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

func (b *builder) BeginUpdate(cs ChangeSet) *task.Handle {
	h, _ := b.ctx.BeginWrite(func(readers []*task.Handle, frame uint64) *task.Handle {
		return b.ctx.Scheduler().Launch("culling_update", readers, func() error {
			return b.apply(cs, frame)
		})
	})
	b.pending = append(b.pending, h)
	return h
}

func (b *builder) EndUpdate() error {
	var firstErr error
	for _, h := range b.pending {
		if err := h.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.pending = b.pending[:0]

	start := time.Now()
	if firstErr == nil {
		for _, hook := range b.postUpdate {
			if err := hook(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	b.stats.SyncTime = time.Since(start)
	b.last = b.stats

	if firstErr != nil {
		logs.WithTag("frame", b.last.Frame).Error(firstErr)
	}
	return firstErr
}

func (b *builder) LastStats() UpdateStats {
	return b.last
}

// apply runs on the builder task. It is the only writer of the structure.
func (b *builder) apply(cs ChangeSet, frame uint64) error {
	start := time.Now()
	b.stats = UpdateStats{Frame: frame, Uncullable: make(map[string]int)}
	if b.preUpdate != nil {
		b.preUpdate()
	}
	// Chunks freed by a rolled back insertion are committed too.
	defer b.ctx.Chunks().CommitFrees()

	tracker := b.ctx.Primitives()
	for _, id := range cs.Removed {
		p, ok := tracker.Get(id)
		if !ok {
			logs.WithTag("primitive_id", id).Debug("removing unknown primitive")
			continue
		}
		if err := b.remove(p); err != nil {
			return err
		}
		tracker.Unregister(id)
		b.stats.Removed++
	}

	for _, change := range cs.Updated {
		p, ok := tracker.Get(change.ID)
		if !ok {
			logs.WithTag("primitive_id", change.ID).Debug("updating unknown primitive, adding it")
			if err := b.add(change); err != nil {
				return err
			}
			continue
		}
		if err := b.update(p, change); err != nil {
			return err
		}
		b.stats.Updated++
	}

	for _, change := range cs.Added {
		if p, ok := tracker.Get(change.ID); ok {
			logs.WithTag("primitive_id", change.ID).Warn("adding a primitive twice, updating it")
			if err := b.update(p, change); err != nil {
				return err
			}
			continue
		}
		if err := b.add(change); err != nil {
			return err
		}
	}

	b.stats.Duration = time.Since(start)

	logs.WithTag("frame", frame).
		WithTag("added", b.stats.Added).
		WithTag("updated", b.stats.Updated).
		WithTag("removed", b.stats.Removed).
		WithTag("promoted", b.stats.Promoted).
		WithTag("duration", b.stats.Duration).
		Debug("culling update applied")
	return nil
}

func (b *builder) add(change PrimitiveChange) error {
	p, err := b.ctx.Primitives().Register(change.ID, change.InstanceOffset, change.NumInstances)
	if err != nil {
		return err
	}
	p.Dynamic = change.IsDynamic
	if err := b.insert(p, change); err != nil {
		b.ctx.Primitives().Unregister(change.ID)
		return err
	}
	b.stats.Added++
	return nil
}

func (b *builder) update(p *primitive_state.Primitive, change PrimitiveChange) error {
	if err := b.remove(p); err != nil {
		return err
	}
	if !p.Dynamic && (change.IsDynamic || p.Bounds != change.Bounds) {
		p.Dynamic = true
		b.stats.Promoted++
	}
	p.InstanceOffset = change.InstanceOffset
	p.NumInstances = change.NumInstances
	return b.insert(p, change)
}

// insert places a primitive that is currently in StateUnknown. On error every
// instance written so far is removed again and the primitive stays in StateUnknown.
func (b *builder) insert(p *primitive_state.Primitive, change PrimitiveChange) error {
	tracker := b.ctx.Primitives()
	p.Bounds = change.Bounds

	plan, err := b.plan(change, p.Dynamic)
	if err != nil {
		return err
	}
	if plan.state == primitive_state.StateUnknown {
		return nil
	}
	if plan.state == primitive_state.StateUnCullable {
		b.stats.Uncullable[plan.reason]++
		logs.WithTag("primitive_id", p.ID).
			WithTag("reason", plan.reason).
			Debug("primitive routed to the uncullable list")
	}

	drawDistance := normalizeDrawDistance(change.DrawDistance)
	slot := primitive_state.NoCacheSlot
	if plan.state.UsesCache() {
		slot = tracker.Cache().Allocate()
	}

	chunks := b.ctx.Chunks()
	written := 0
	for start := 0; start < len(plan.items); {
		cell := plan.items[start].cell
		end := start + 1
		for end < len(plan.items) && plan.items[end].cell == cell {
			end++
		}

		d, err := chunks.LockChunkCellData(cell, (end-start+chunk_allocator.ChunkCapacity-1)/chunk_allocator.ChunkCapacity)
		if err != nil {
			return b.abortInsert(p, plan, written, slot, err)
		}
		for _, item := range plan.items[start:end] {
			if err = d.AddInstance(item.instance, item.bounds, drawDistance, p.Dynamic); err != nil {
				break
			}
			if slot != primitive_state.NoCacheSlot {
				tracker.Cache().Append(slot, cell)
			}
		}
		if err == nil {
			err = chunks.UnlockChunkCellData(cell)
		}
		if err != nil {
			// The cell is still locked, a failed unlock keeps it so. Dropping the
			// partial writes shrinks the list back to its previous span.
			d.RemoveInstances(p.InstanceOffset, p.NumInstances, p.Dynamic)
			_ = chunks.UnlockChunkCellData(cell)
			return b.abortInsert(p, plan, written, slot, err)
		}
		written = end
		start = end
	}

	placement := primitive_state.Placement{State: plan.state, CacheSlot: slot}
	if plan.state == primitive_state.StateSingleCell {
		placement.CellIndex = plan.items[0].cell
	}
	tracker.Set(p, placement)
	return nil
}

// abortInsert removes the instances of p from the cells of plan.items[:written],
// releases the planned cells left without chunks and frees the cache slot.
func (b *builder) abortInsert(p *primitive_state.Primitive, plan placementPlan, written int, slot int, cause error) error {
	chunks := b.ctx.Chunks()
	for start := 0; start < written; {
		cell := plan.items[start].cell
		for start < written && plan.items[start].cell == cell {
			start++
		}
		d, err := chunks.LockChunkCellData(cell, 0)
		if err != nil {
			continue
		}
		d.RemoveInstances(p.InstanceOffset, p.NumInstances, p.Dynamic)
		_ = chunks.UnlockChunkCellData(cell)
	}

	var cells []uint32
	for _, item := range plan.items {
		if n := len(cells); n == 0 || cells[n-1] != item.cell {
			cells = append(cells, item.cell)
		}
	}
	b.releaseEmptyCells(cells)

	if slot != primitive_state.NoCacheSlot {
		b.ctx.Primitives().Cache().Free(slot)
	}
	b.ctx.Primitives().Set(p, primitive_state.Placement{State: primitive_state.StateUnknown, CacheSlot: primitive_state.NoCacheSlot})

	logs.WithTag("primitive_id", p.ID).
		WithTag("cell_count", len(cells)).
		Debug("primitive insertion rolled back")
	return cause
}

// releaseEmptyCells removes hash cells that hold no chunks.
func (b *builder) releaseEmptyCells(cells []uint32) {
	chunks := b.ctx.Chunks()
	for _, cell := range cells {
		if cell == culling.UncullableCellIndex {
			continue
		}
		if _, ok := chunks.CellChunkSpan(cell); !ok {
			b.ctx.Hash().RemoveCell(cell)
		}
	}
}

// remove reverses the recorded placement of a primitive and leaves it in StateUnknown.
func (b *builder) remove(p *primitive_state.Primitive) error {
	tracker := b.ctx.Primitives()
	placement := p.Placement()

	switch placement.State {
	case primitive_state.StateUnknown:
		return nil
	case primitive_state.StateUnCullable:
		if err := b.removeFromCell(p, culling.UncullableCellIndex, p.NumInstances); err != nil {
			return err
		}
	case primitive_state.StateSingleCell:
		if err := b.removeFromCell(p, placement.CellIndex, p.NumInstances); err != nil {
			return err
		}
	default:
		expected := b.removeScratch
		clear(expected)
		var order []uint32
		tracker.Cache().ForEach(placement.CacheSlot, func(cell, count uint32) bool {
			if _, seen := expected[cell]; !seen {
				order = append(order, cell)
			}
			expected[cell] += count
			return true
		})
		for _, cell := range order {
			if err := b.removeFromCell(p, cell, expected[cell]); err != nil {
				return err
			}
		}
		tracker.Cache().Free(placement.CacheSlot)
	}

	tracker.Set(p, primitive_state.Placement{State: primitive_state.StateUnknown, CacheSlot: primitive_state.NoCacheSlot})
	return nil
}

func (b *builder) removeFromCell(p *primitive_state.Primitive, cell, expected uint32) error {
	chunks := b.ctx.Chunks()
	d, err := chunks.LockChunkCellData(cell, 0)
	if err != nil {
		return err
	}
	removed := d.RemoveInstances(p.InstanceOffset, p.NumInstances, p.Dynamic)
	if err := chunks.UnlockChunkCellData(cell); err != nil {
		return err
	}
	if uint32(removed) != expected {
		common.Assert(false, "primitive %d: removed %d instances from cell %d, expected %d", p.ID, removed, cell, expected)
		return errors.New("recorded occupancy does not match chunk contents").
			WithType(common.ErrTypeInvariant).
			WithTag("primitive_id", p.ID).
			WithTag("cell_index", cell).
			WithTag("removed", removed).
			WithTag("expected", expected)
	}

	b.releaseEmptyCells([]uint32{cell})
	return nil
}
