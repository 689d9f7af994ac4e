package query

import (
	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/spatial_hash"
)

type jobResult struct {
	chunkDraws []ChunkDraw
	cellDraws  []CellDraw
	broad      bool
}

// cullJob decides the path of one view group and walks the hash when the
// volume is small enough.
func cullJob(ctx *culling.Context, id uint32, j job) jobResult {
	v := j.volume
	if !v.HasSphere || !finiteSphere(v.Sphere) {
		return jobResult{broad: true}
	}
	if v.Sphere.Radius < 0 || !v.Convex.IntersectsSphere(v.Sphere) {
		return jobResult{}
	}
	cfg := ctx.Config()
	if 2*v.Sphere.Radius > cfg.SmallFootprintCellSideThreshold*cfg.BaseCellSize {
		return jobResult{broad: true}
	}
	return walk(ctx, id, v)
}

// finiteSphere reports whether the center and radius are real numbers. The
// walk cannot bound a sphere that is not.
func finiteSphere(s common.Sphere) bool {
	return common.IsFinite(s.Radius) && common.IsFinite(s.Center[0]) &&
		common.IsFinite(s.Center[1]) && common.IsFinite(s.Center[2])
}

// walk visits every level from coarse to fine and collects the occupied cells
// whose loose bounds touch the volume.
func walk(ctx *culling.Context, id uint32, v CullingVolume) jobResult {
	hash := ctx.Hash()
	chunks := ctx.Chunks()
	var r jobResult

	for level := hash.MaxLevel(); level >= 0; level-- {
		if hash.BlocksAtLevel(level) == 0 {
			continue
		}
		// Loose bounds reach half a cell past the block, so the search box does too.
		search := v.Sphere.Bounds().Expand(hash.CellSize(level) * 0.5)
		hash.ForEachBlockInBox(level, search, func(index int32, _ *spatial_hash.Block) bool {
			loose := hash.BlockLooseBounds(index)
			if !v.Sphere.IntersectsBox(loose) || !v.Convex.IntersectsBox(loose) {
				return true
			}
			hash.ForEachOccupiedCell(index, func(cell uint32) bool {
				bounds := hash.CellBounds(cell)
				if !v.Sphere.IntersectsBox(bounds) || !v.Convex.IntersectsBox(bounds) {
					return true
				}
				span, ok := chunks.CellChunkSpan(cell)
				if !ok || span.NumChunks() == 0 {
					return true
				}
				r.cellDraws = append(r.cellDraws, CellDraw{CellIndex: cell, ViewGroupID: id})
				for k := range span.NumChunks() {
					r.chunkDraws = append(r.chunkDraws, ChunkDraw{ChunkRefOffset: span.Offset + k, ViewGroupID: id})
				}
				return true
			})
			return true
		})
	}
	return r
}

func merge(ctx *culling.Context, jobs []job, partial []jobResult) *Result {
	chunks := ctx.Chunks()
	res := &Result{ViewGroups: make([]ViewGroup, len(jobs))}

	uncullable, _ := chunks.CellChunkSpan(culling.UncullableCellIndex)
	broadChunks := -1
	for i, j := range jobs {
		p := partial[i]
		id := uint32(i)
		res.ViewGroups[i] = j.view
		res.ChunkDraws = append(res.ChunkDraws, p.chunkDraws...)
		res.CellDraws = append(res.CellDraws, p.cellDraws...)
		res.UncullableDraws = append(res.UncullableDraws, UncullableDraw{
			ViewGroupID:      id,
			ItemChunksOffset: uncullable.Offset,
			NumChunks:        uncullable.NumChunks(),
		})

		draws := len(p.chunkDraws)
		if p.broad {
			res.BroadViewGroups = append(res.BroadViewGroups, id)
			if broadChunks < 0 {
				broadChunks = countCellChunks(ctx)
			}
			draws = broadChunks
		}
		draws += int(uncullable.NumChunks())
		res.MaxOccludedChunkDraws += draws
		res.NumInstanceGroups += draws * max(j.view.NumViews, 1)
	}
	return res
}

// countCellChunks returns the chunk refs of every spatial cell, leaving out the uncullable list.
func countCellChunks(ctx *culling.Context) int {
	n := 0
	ctx.Chunks().ForEachCell(func(cell uint32, c chunk_allocator.CellChunks) bool {
		if cell != culling.UncullableCellIndex {
			n += int(c.NumChunks())
		}
		return true
	})
	return n
}
