package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-cull/engine/scene_culling"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Profiler tracks frame rate, memory and culling statistics.
// Outputs a summary to the log at a configurable interval.
type Profiler struct {
	label          string
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	// accumulated over the interval
	updateTime   time.Duration
	syncTime     time.Duration
	bytesWritten int
	promoted     int
}

// NewProfiler creates a new Profiler.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		label:          "default",
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Tick should be called once per frame with the stats of the frame's update.
// Logs a summary when the update interval has elapsed: FPS, heap usage,
// allocation rate, GC count/pause times, the averaged update and sync times,
// uploaded bytes and the size of the culling structure.
//
// Parameters:
//   - stats: the scene culling stats of the frame
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(stats scene_culling.Stats) bool {
	p.frameCount++
	p.updateTime += stats.Update.Duration
	p.syncTime += stats.Sync.Duration
	p.bytesWritten += stats.Sync.BytesWritten
	p.promoted += stats.Update.Promoted

	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	seconds := max(elapsed.Seconds(), 1e-9)

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / seconds

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	frames := time.Duration(p.frameCount)
	logs.WithTag("scene", p.label).
		WithTag("frame", stats.Frame).
		WithTag("fps", float64(p.frameCount)/seconds).
		WithTag("heap_mb", allocMB).
		WithTag("alloc_rate_mb", allocRateMB).
		WithTag("gc", gcCount).
		WithTag("gc_last_pause_us", lastPauseUs).
		WithTag("gc_max_pause_us", maxPauseUs).
		WithTag("sys_mb", sysMB).
		WithTag("update_avg", (p.updateTime / frames).String()).
		WithTag("sync_avg", (p.syncTime / frames).String()).
		WithTag("upload_bytes", p.bytesWritten).
		WithTag("promoted", p.promoted).
		WithTag("primitives", stats.NumPrimitives).
		WithTag("blocks", stats.NumBlocks).
		WithTag("cells", stats.NumCells).
		WithTag("chunks", stats.NumChunks).
		WithTag("items", stats.NumItems).
		Info("culling profile")

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.updateTime = 0
	p.syncTime = 0
	p.bytesWritten = 0
	p.promoted = 0
	return true
}
