package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/profiler"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/Carmen-Shannon/oxy-cull/engine/scene_culling"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// engine implements the Engine interface.
type engine struct {
	culling scene_culling.SceneCulling

	quitChannel chan struct{}
	quitOnce    sync.Once

	profiler         *profiler.Profiler
	profilingEnabled bool

	frameLimit time.Duration // minimum frame duration; 0 = uncapped
	maxFrames  uint64        // 0 = until quit

	tickCallback   func(deltaTime float32) builder.ChangeSet
	viewCallback   func(q query.Query)
	resultCallback func(res *query.Result)
}

// Engine drives the culling frame loop.
//
// Each frame asks the tick callback for the scene changes, launches the update,
// resolves the queries of the previous frame while the update waits for them,
// joins the update and dispatches the views of the new frame. Queries are
// therefore always answered one frame late, against the state they were
// dispatched on.
type Engine interface {
	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetFrameLimit(fps float64)

	// SetTickCallback registers the function producing each frame's scene changes.
	//
	// Parameters:
	//   - callback: receives the delta time in seconds and returns the change set
	SetTickCallback(callback func(deltaTime float32) builder.ChangeSet)

	// SetViewCallback registers the function adding the frame's views to a query.
	//
	// Parameters:
	//   - callback: receives the frame's empty query
	SetViewCallback(callback func(q query.Query))

	// SetResultCallback registers the function receiving every query result.
	//
	// Parameters:
	//   - callback: receives the result of the previous frame's query
	SetResultCallback(callback func(res *query.Result))

	// SceneCulling returns the driven scene culling.
	SceneCulling() scene_culling.SceneCulling

	// Run runs frames until the context is done, Quit is called or the frame
	// limit is reached. An update error stops the loop.
	//
	// Parameters:
	//   - ctx: the context ending the loop
	//
	// Returns:
	//   - error: the update error that stopped the loop, if any
	Run(ctx context.Context) error

	// Quit signals the loop to stop after the current frame.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine driving the given scene culling.
//
// Parameters:
//   - culling: the scene culling to drive, must not be nil
//   - options: functional options for engine configuration (profiling, frame limit, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(culling scene_culling.SceneCulling, options ...EngineBuilderOption) Engine {
	if culling == nil {
		panic("engine: scene culling must not be nil")
	}
	e := &engine{
		culling:     culling,
		quitChannel: make(chan struct{}),
		profiler:    profiler.NewProfiler(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *engine) SceneCulling() scene_culling.SceneCulling {
	return e.culling
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Run(ctx context.Context) error {
	var pending query.Query
	defer func() {
		if pending != nil {
			e.deliver(pending)
		}
	}()

	lastFrame := time.Now()
	for frame := uint64(0); e.maxFrames == 0 || frame < e.maxFrames; frame++ {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quitChannel:
			return nil
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastFrame).Seconds())
		lastFrame = now

		var cs builder.ChangeSet
		if e.tickCallback != nil {
			cs = e.tickCallback(dt)
		}
		e.culling.BeginUpdate(cs)

		if pending != nil {
			e.deliver(pending)
			pending = nil
		}

		if err := e.culling.EndUpdate(); err != nil {
			return err
		}

		if e.viewCallback != nil {
			q := e.culling.NewQuery()
			e.viewCallback(q)
			q.Dispatch()
			pending = q
		}

		if e.profilingEnabled && e.profiler != nil {
			e.profiler.Tick(e.culling.Stats())
		}

		if e.frameLimit > 0 {
			if remaining := e.frameLimit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
	return nil
}

// deliver waits for a query and hands its result to the result callback.
func (e *engine) deliver(q query.Query) {
	res, err := q.GetResult()
	if err != nil {
		logs.Warn(err)
		return
	}
	if e.resultCallback != nil {
		e.resultCallback(res)
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetFrameLimit sets an optional frame rate cap.
// Pass 0 to uncap the loop.
func (e *engine) SetFrameLimit(fps float64) {
	if fps <= 0 {
		e.frameLimit = 0
		return
	}
	e.frameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) SetTickCallback(callback func(deltaTime float32) builder.ChangeSet) {
	e.tickCallback = callback
}

func (e *engine) SetViewCallback(callback func(q query.Query)) {
	e.viewCallback = callback
}

func (e *engine) SetResultCallback(callback func(res *query.Result)) {
	e.resultCallback = callback
}
