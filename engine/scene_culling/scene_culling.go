package scene_culling

import (
	"time"

	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Stats is a snapshot of the culling structure taken after each EndUpdate.
type Stats struct {
	Frame             uint64
	Update            builder.UpdateStats
	Sync              gpu_mirror.SyncStats
	NumPrimitives     int
	PrimitivesByState map[primitive_state.State]int
	NumBlocks         int
	NumCells          int
	NumChunks         int
	NumItems          int
}

// SceneCulling ties one frame of culling work together: the update of the
// structure, the GPU mirror sync and the queries reading the result.
//
// A frame looks like BeginUpdate, EndUpdate, then any number of queries.
// Queries created before BeginUpdate keep reading the previous state and the
// update waits for them.
type SceneCulling interface {
	// BeginUpdate launches the application of a change set.
	//
	// Parameters:
	//   - cs: the frame's scene changes
	//
	// Returns:
	//   - *task.Handle: the builder task handle
	BeginUpdate(cs builder.ChangeSet) *task.Handle

	// EndUpdate joins the builder task, syncs the GPU mirror and publishes metrics.
	//
	// Returns:
	//   - error: a builder, capacity or upload error
	EndUpdate() error

	// NewQuery creates a query on the structure.
	//
	// Returns:
	//   - query.Query: an empty query
	NewQuery() query.Query

	// State returns the placement state of a primitive. It must not be
	// called while an update is running.
	//
	// Parameters:
	//   - id: the primitive id
	//
	// Returns:
	//   - primitive_state.State: the state
	//   - bool: false if the primitive is unknown
	State(id uint32) (primitive_state.State, bool)

	// Stats returns the snapshot taken by the last EndUpdate.
	Stats() Stats

	// Context returns the culling context.
	Context() *culling.Context

	// Mirror returns the GPU mirror.
	Mirror() gpu_mirror.Mirror

	// Close waits for outstanding work and releases the uploader.
	Close()
}

type sceneCulling struct {
	label         string
	config        culling.Config
	mirrorOptions []gpu_mirror.MirrorBuilderOption

	ctx     *culling.Context
	builder builder.Builder
	mirror  gpu_mirror.Mirror
	stats   Stats
	closed  bool
}

var _ SceneCulling = &sceneCulling{}

// NewSceneCulling builds the culling structure and its GPU mirror.
//
// Parameters:
//   - uploader: the device side of the mirror, must not be nil
//   - options: functional options to configure the scene culling
//
// Returns:
//   - SceneCulling: the scene culling
//   - error: configuration error, if any
func NewSceneCulling(uploader gpu_mirror.Uploader, options ...SceneCullingBuilderOption) (SceneCulling, error) {
	if uploader == nil {
		panic("scene_culling: uploader must not be nil")
	}
	s := &sceneCulling{
		label:  "default",
		config: culling.DefaultConfig(),
	}
	for _, option := range options {
		option(s)
	}

	ctx, err := culling.NewContext(s.config)
	if err != nil {
		return nil, err
	}
	s.ctx = ctx
	s.mirror = gpu_mirror.NewMirror(ctx, uploader, s.mirrorOptions...)
	s.builder = builder.NewBuilder(ctx, builder.WithPostUpdateHook(s.mirror.Sync))
	s.stats = s.snapshot()

	logs.WithTag("scene", s.label).
		WithTag("base_cell_size", s.config.BaseCellSize).
		WithTag("max_level", s.config.MaxLevel).
		WithTag("workers", s.config.Workers).
		WithTag("synchronous", s.config.Synchronous).
		Info("scene culling ready")
	return s, nil
}

func (s *sceneCulling) BeginUpdate(cs builder.ChangeSet) *task.Handle {
	if s.closed {
		panic("scene_culling: update after close")
	}
	return s.builder.BeginUpdate(cs)
}

func (s *sceneCulling) EndUpdate() error {
	err := s.builder.EndUpdate()
	s.stats = s.snapshot()

	instrumentUpdate(s.label, s.stats.Update)
	instrumentSync(s.label, s.stats.Sync)
	instrumentStats(s.label, s.stats)
	if err != nil {
		instrumentUpdateError(s.label, err)
	}
	return err
}

func (s *sceneCulling) NewQuery() query.Query {
	return &instrumentedQuery{Query: query.NewQuery(s.ctx), scene: s.label}
}

func (s *sceneCulling) State(id uint32) (primitive_state.State, bool) {
	p, ok := s.ctx.Primitives().Get(id)
	if !ok {
		return primitive_state.StateUnknown, false
	}
	return p.State(), true
}

func (s *sceneCulling) Stats() Stats {
	return s.stats
}

func (s *sceneCulling) Context() *culling.Context {
	return s.ctx
}

func (s *sceneCulling) Mirror() gpu_mirror.Mirror {
	return s.mirror
}

func (s *sceneCulling) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.ctx.UpdateHandle().Wait(); err != nil {
		logs.WithTag("scene", s.label).Warn(err)
	}
	s.mirror.Uploader().Release()
}

func (s *sceneCulling) snapshot() Stats {
	chunks := s.ctx.Chunks()
	update := s.builder.LastStats()
	byState := make(map[primitive_state.State]int)
	for _, state := range primitive_state.States() {
		byState[state] = s.ctx.Primitives().CountByState(state)
	}
	return Stats{
		Frame:             update.Frame,
		Update:            update,
		Sync:              s.mirror.LastStats(),
		NumPrimitives:     s.ctx.Primitives().Len(),
		PrimitivesByState: byState,
		NumBlocks:         s.ctx.Hash().NumBlocks(),
		NumCells:          chunks.NumCells(),
		NumChunks:         chunks.NumAllocatedChunks(),
		NumItems:          chunks.NumItems(),
	}
}

// instrumentedQuery records the latency between Dispatch and the result.
type instrumentedQuery struct {
	query.Query
	scene      string
	dispatched time.Time
	observed   bool
}

func (q *instrumentedQuery) Dispatch() *task.Handle {
	if q.dispatched.IsZero() {
		q.dispatched = time.Now()
	}
	return q.Query.Dispatch()
}

func (q *instrumentedQuery) GetResult() (*query.Result, error) {
	q.Dispatch()
	res, err := q.Query.GetResult()
	if !q.observed {
		q.observed = true
		instrumentQueryLatency(q.scene, q.dispatched)
	}
	return res, err
}
