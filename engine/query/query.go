package query

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// CullingVolume is the region one view group can see. Convex is always
// tested. Sphere, when present, bounds the volume and enables the small
// footprint path.
type CullingVolume struct {
	Convex    common.ConvexVolume
	Sphere    common.Sphere
	HasSphere bool
}

// ViewGroup is the view range a job was added for.
type ViewGroup struct {
	FirstView int
	NumViews  int
	MaxViews  int
}

// ChunkDraw asks the GPU to test the instances of one chunk reference for one view group.
type ChunkDraw struct {
	// ChunkRefOffset indexes the packed cell chunk reference list.
	ChunkRefOffset uint32
	ViewGroupID    uint32
}

// CellDraw records a cell found visible by the CPU walk.
type CellDraw struct {
	CellIndex   uint32
	ViewGroupID uint32
}

// UncullableDraw covers the chunks of the uncullable list for one view group.
type UncullableDraw struct {
	ViewGroupID      uint32
	ItemChunksOffset uint32
	NumChunks        uint32
}

// Result is the output of a dispatched query.
type Result struct {
	ViewGroups []ViewGroup
	ChunkDraws []ChunkDraw
	CellDraws  []CellDraw
	// BroadViewGroups are the view groups left to the GPU cell test.
	BroadViewGroups []uint32
	UncullableDraws []UncullableDraw
	// MaxOccludedChunkDraws bounds the chunk draws of this query, assuming
	// every chunk passes for the broad view groups.
	MaxOccludedChunkDraws int
	// NumInstanceGroups bounds the per view instance groups the GPU may emit.
	NumInstanceGroups int
}

// Query collects view groups, culls them against the structure on the
// scheduler and hands back the result.
//
// A query reads the state left by the most recent update started before
// Dispatch. The next update waits for it.
type Query interface {
	// Add appends a job for a group of views sharing one culling volume.
	//
	// Parameters:
	//   - firstView: index of the first view in the group
	//   - numViews: number of views in the group
	//   - maxViews: the largest number of views the group may grow to
	//   - volume: the culling volume of the group
	//
	// Returns:
	//   - int: the view group id, which is the job index
	Add(firstView, numViews, maxViews int, volume CullingVolume) int

	// Dispatch starts the query. Calling it again returns the same handle.
	//
	// Returns:
	//   - *task.Handle: the query task handle
	Dispatch() *task.Handle

	// GetResult blocks until the query finished, dispatching it first if needed.
	//
	// Returns:
	//   - *Result: the culling result
	//   - error: a task error, if the walk panicked or the update it reads failed
	GetResult() (*Result, error)
}

type job struct {
	view   ViewGroup
	volume CullingVolume
}

type query struct {
	ctx    *culling.Context
	jobs   []job
	handle *task.Handle
	result *Result

	once sync.Once
}

var _ Query = &query{}

// NewQuery creates an empty query on the context's structure.
//
// Parameters:
//   - ctx: the culling context, must not be nil
//
// Returns:
//   - Query: the query
func NewQuery(ctx *culling.Context) Query {
	if ctx == nil {
		panic("query: context must not be nil")
	}
	return &query{ctx: ctx}
}

func (q *query) Add(firstView, numViews, maxViews int, volume CullingVolume) int {
	if q.handle != nil {
		panic("query: adding a view group after dispatch")
	}
	q.jobs = append(q.jobs, job{
		view:   ViewGroup{FirstView: firstView, NumViews: numViews, MaxViews: max(maxViews, numViews)},
		volume: volume,
	})
	return len(q.jobs) - 1
}

func (q *query) Dispatch() *task.Handle {
	q.once.Do(func() {
		jobs := q.jobs
		scheduler := q.ctx.Scheduler()
		q.handle = q.ctx.BeginRead(func(update *task.Handle) *task.Handle {
			after := []*task.Handle{update}
			partial := make([]jobResult, len(jobs))
			handles := make([]*task.Handle, len(jobs))
			for i := range jobs {
				handles[i] = scheduler.Launch("culling_query_job", after, func() error {
					if err := updateError(update); err != nil {
						return err
					}
					partial[i] = cullJob(q.ctx, uint32(i), jobs[i])
					return nil
				})
			}
			return scheduler.Launch("culling_query", append(handles, update), func() error {
				if err := updateError(update); err != nil {
					return err
				}
				for _, h := range handles {
					if err := h.Wait(); err != nil {
						return err
					}
				}
				q.result = merge(q.ctx, jobs, partial)
				return nil
			})
		})
	})
	return q.handle
}

// updateError fails a reader whose update task returned an error.
func updateError(update *task.Handle) error {
	if err := update.Wait(); err != nil {
		return errors.New("reading a structure whose update failed").
			WithTag("update", update.Label()).
			Wrap(err)
	}
	return nil
}

func (q *query) GetResult() (*Result, error) {
	if err := q.Dispatch().Wait(); err != nil {
		return nil, err
	}
	return q.result, nil
}
