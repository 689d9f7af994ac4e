package culling

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-cull/engine/chunk_allocator"
	"github.com/Carmen-Shannon/oxy-cull/engine/primitive_state"
	"github.com/Carmen-Shannon/oxy-cull/engine/spatial_hash"
	"github.com/Carmen-Shannon/oxy-cull/engine/task"
)

// UncullableCellIndex is the chunk allocator cell holding the instances of
// every uncullable primitive. It lies outside the spatial hash cell range.
const UncullableCellIndex uint32 = math.MaxUint32

// Context owns the culling structure shared by the builder and the query
// engine: the spatial hash, the chunk allocator, the primitive tracker and the
// handles of the tasks currently reading or writing them.
//
// The structure itself has a single writer, the builder task. The handle
// bookkeeping is the only part guarded by the context mutex.
type Context struct {
	config     Config
	hash       spatial_hash.SpatialHash
	chunks     chunk_allocator.ChunkAllocator
	primitives primitive_state.Tracker
	scheduler  task.Scheduler

	mu      sync.Mutex
	update  *task.Handle
	readers []*task.Handle
	frame   uint64
}

// NewContext validates the configuration and builds the culling structure.
//
// Parameters:
//   - config: the culling configuration
//   - options: functional options to replace individual collaborators
//
// Returns:
//   - *Context: the context
//   - error: configuration error, if any
func NewContext(config Config, options ...ContextBuilderOption) (*Context, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Context{config: config}
	for _, option := range options {
		option(c)
	}

	hash, err := spatial_hash.NewSpatialHash(
		spatial_hash.WithBaseCellSize(config.BaseCellSize),
		spatial_hash.WithBlockDimLog2(config.BlockDimLog2),
		spatial_hash.WithMaxLevel(config.MaxLevel),
		spatial_hash.WithWorldExtent(config.WorldExtent),
	)
	if err != nil {
		return nil, err
	}
	c.hash = hash

	chunks, err := chunk_allocator.NewChunkAllocator(chunk_allocator.WithMaxChunks(config.MaxChunks))
	if err != nil {
		return nil, err
	}
	c.chunks = chunks

	if c.primitives == nil {
		c.primitives = primitive_state.NewTracker(nil)
	}
	if c.scheduler == nil {
		c.scheduler = task.NewScheduler(
			task.WithWorkers(config.Workers),
			task.WithInline(config.Synchronous),
		)
	}
	c.update = task.Completed()
	return c, nil
}

// Config returns the configuration the context was built with.
func (c *Context) Config() Config {
	return c.config
}

// Hash returns the spatial hash.
func (c *Context) Hash() spatial_hash.SpatialHash {
	return c.hash
}

// Chunks returns the chunk allocator.
func (c *Context) Chunks() chunk_allocator.ChunkAllocator {
	return c.chunks
}

// Primitives returns the primitive tracker.
func (c *Context) Primitives() primitive_state.Tracker {
	return c.primitives
}

// Scheduler returns the scheduler running builder and query tasks.
func (c *Context) Scheduler() task.Scheduler {
	return c.scheduler
}

// Frame returns the number of updates started so far.
func (c *Context) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// UpdateHandle returns the handle of the most recent builder task. Readers
// launched afterwards must depend on it.
func (c *Context) UpdateHandle() *task.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.update
}

// AddReader registers a task that reads the structure. The next builder task
// waits for it before mutating.
//
// Parameters:
//   - h: the reader's handle
func (c *Context) AddReader(h *task.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers = append(c.readers, h)
}

// BeginRead atomically launches a reader after the current writer and
// registers it, so the next writer waits for it. launch runs with the context
// mutex held and must not call back into the handle methods of the context.
//
// Parameters:
//   - launch: starts the reader task after update and returns its handle
//
// Returns:
//   - *task.Handle: the reader's handle
func (c *Context) BeginRead(launch func(update *task.Handle) *task.Handle) *task.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := launch(c.update)
	c.readers = append(c.readers, h)
	return h
}

// BeginWrite atomically takes the outstanding reader handles and installs the
// handle of a new writer. The writer is launched by the caller through launch,
// which receives the readers it has to wait for. launch runs with the context
// mutex held and must not call back into the handle methods of the context.
//
// Parameters:
//   - launch: starts the writer task and returns its handle
//
// Returns:
//   - *task.Handle: the writer's handle
//   - uint64: the frame number of the update
func (c *Context) BeginWrite(launch func(readers []*task.Handle, frame uint64) *task.Handle) (*task.Handle, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	readers := c.readers
	c.readers = nil
	// The previous writer is a prerequisite too, in case EndUpdate was skipped.
	readers = append(readers, c.update)
	c.frame++
	c.update = launch(readers, c.frame)
	return c.update, c.frame
}
