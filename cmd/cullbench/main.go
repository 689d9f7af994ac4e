package main

import (
	"context"
	"net/http"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/oxy-cull/engine"
	"github.com/Carmen-Shannon/oxy-cull/engine/culling"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/profiler"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/Carmen-Shannon/oxy-cull/engine/renderer"
	"github.com/Carmen-Shannon/oxy-cull/engine/scene_culling"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	benchChunkDraws = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cullbench_chunk_draws_total",
		Help: "The chunk draws emitted by the hierarchical query path.",
	})

	benchBroadGroups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cullbench_broad_view_groups_total",
		Help: "The view groups left to the broad GPU path.",
	})
)

// The cli package parses the config field names, garble must not rename them.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	MetricsAddr          string        `cli:""        env:"CULLBENCH_METRICS_ADDR"       help:"Listening address for the Prometheus metrics endpoint. Empty disables it."`
	LogLevel             string        `cli:""        env:"CULLBENCH_LOG_LEVEL"          help:"Log level (debug|info|warning|error)."`
	LogIndent            bool          `cli:""        env:"CULLBENCH_LOG_INDENT"         help:"Indent logs."`
	Frames               int           `cli:""        env:"CULLBENCH_FRAMES"             help:"The number of frames to run. 0 runs until interrupted."`
	FPS                  float64       `cli:""        env:"CULLBENCH_FPS"                help:"Frame rate cap. 0 is uncapped."`
	ProfileInterval      time.Duration `cli:""        env:"CULLBENCH_PROFILE_INTERVAL"   help:"The duration between each profile summary. 0 disables profiling."`
	Primitives           int           `cli:""        env:"CULLBENCH_PRIMITIVES"         help:"The number of primitives in the scene."`
	Instances            int           `cli:""        env:"CULLBENCH_INSTANCES"          help:"The maximum number of instances per primitive."`
	WorldSize            float64       `cli:""        env:"CULLBENCH_WORLD_SIZE"         help:"The edge length of the cube primitives are scattered in."`
	DynamicRatio         float64       `cli:""        env:"CULLBENCH_DYNAMIC_RATIO"      help:"The share of primitives moving every frame."`
	Churn                int           `cli:""        env:"CULLBENCH_CHURN"              help:"The number of primitives removed and re-added every frame."`
	Probes               int           `cli:""        env:"CULLBENCH_PROBES"             help:"The number of point-light probe views per frame."`
	ProbeRadius          float64       `cli:""        env:"CULLBENCH_PROBE_RADIUS"       help:"The radius of the probe spheres."`
	Seed                 int           `cli:""        env:"CULLBENCH_SEED"               help:"The scene random seed."`
	GPU                  bool          `cli:""        env:"CULLBENCH_GPU"                help:"Mirror the structure into WebGPU storage buffers instead of host memory."`
	ForceFallbackAdapter bool          `cli:",hidden" env:"CULLBENCH_FORCE_FALLBACK"     help:"Request a software WebGPU adapter."`
	Culling              cullingConfig `cli:",hidden" env:"-"                            help:"Culling structure configuration."`
	Help                 bool          `cli:""        env:"-"                            help:"Show help."`
}

type cullingConfig struct {
	BaseCellSize         float64 `cli:",hidden" env:"CULLBENCH_BASE_CELL_SIZE"          help:"The cell edge length at level 0."`
	BlockDimLog2         int     `cli:",hidden" env:"CULLBENCH_BLOCK_DIM_LOG2"          help:"log2 of the cells along a block edge."`
	MaxLevel             int     `cli:",hidden" env:"CULLBENCH_MAX_LEVEL"               help:"The coarsest hash level."`
	SmallFootprint       float64 `cli:",hidden" env:"CULLBENCH_SMALL_FOOTPRINT"         help:"The largest query sphere diameter, in level 0 cells, walked on the CPU."`
	MaxCellsPerPrimitive int     `cli:",hidden" env:"CULLBENCH_MAX_CELLS_PER_PRIMITIVE" help:"The cell count above which a primitive is uncullable."`
	Workers              int     `cli:",hidden" env:"CULLBENCH_WORKERS"                 help:"The number of culling task workers."`
	Synchronous          bool    `cli:",hidden" env:"CULLBENCH_SYNCHRONOUS"             help:"Run culling tasks inline."`
}

func main() {
	defaults := culling.DefaultConfig()
	conf := config{
		MetricsAddr:     ":18191",
		LogLevel:        logs.InfoLevel.String(),
		Frames:          600,
		FPS:             60,
		ProfileInterval: time.Second,
		Primitives:      20000,
		Instances:       32,
		WorldSize:       4096,
		DynamicRatio:    0.05,
		Churn:           16,
		Probes:          8,
		ProbeRadius:     24,
		Seed:            1,
		Culling: cullingConfig{
			BaseCellSize:         float64(defaults.BaseCellSize),
			BlockDimLog2:         defaults.BlockDimLog2,
			MaxLevel:             defaults.MaxLevel,
			SmallFootprint:       float64(defaults.SmallFootprintCellSideThreshold),
			MaxCellsPerPrimitive: defaults.MaxCellsPerPrimitive,
			Workers:              defaults.Workers,
		},
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Runs a synthetic scene through the instance culling index.").
		Options(&conf)
	cli.Load()

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if conf.Primitives < 1 {
		logs.Fatal(errors.New("at least one primitive is needed").
			WithType(errTypeBenchConfig).
			WithTag("primitives", conf.Primitives))
	}

	if conf.MetricsAddr != "" {
		go serveMetrics(ctx, conf.MetricsAddr)
	}

	uploader, release, err := newUploader(conf)
	if err != nil {
		logs.Fatal(err)
	}
	defer release()

	cullingConf := defaults
	cullingConf.BaseCellSize = float32(conf.Culling.BaseCellSize)
	cullingConf.BlockDimLog2 = conf.Culling.BlockDimLog2
	cullingConf.MaxLevel = conf.Culling.MaxLevel
	cullingConf.SmallFootprintCellSideThreshold = float32(conf.Culling.SmallFootprint)
	cullingConf.MaxCellsPerPrimitive = conf.Culling.MaxCellsPerPrimitive
	cullingConf.Workers = conf.Culling.Workers
	cullingConf.Synchronous = conf.Culling.Synchronous

	sc, err := scene_culling.NewSceneCulling(uploader,
		scene_culling.WithConfig(cullingConf),
		scene_culling.WithLabel("cullbench"),
	)
	if err != nil {
		logs.Fatal(errors.New("creating scene culling").Wrap(err))
	}
	defer sc.Close()

	scene := newBenchScene(sceneConfig{
		Primitives:   conf.Primitives,
		Instances:    conf.Instances,
		WorldSize:    float32(conf.WorldSize),
		DynamicRatio: conf.DynamicRatio,
		Churn:        conf.Churn,
		Probes:       conf.Probes,
		ProbeRadius:  float32(conf.ProbeRadius),
		Seed:         uint64(conf.Seed),
	})

	e := engine.NewEngine(sc,
		engine.WithMaxFrames(uint64(max(conf.Frames, 0))),
		engine.WithFrameLimit(conf.FPS),
		engine.WithProfiling(conf.ProfileInterval > 0),
		engine.WithProfiler(profiler.NewProfiler(
			profiler.WithUpdateInterval(conf.ProfileInterval),
			profiler.WithLabel("cullbench"),
		)),
	)
	e.SetTickCallback(scene.Tick)
	e.SetViewCallback(scene.Views)

	var totals resultTotals
	e.SetResultCallback(totals.add)

	start := time.Now()
	runErr := e.Run(ctx)
	stats := sc.Stats()
	logs.WithTag("frames", stats.Frame).
		WithTag("elapsed", time.Since(start).String()).
		WithTag("queries", totals.queries).
		WithTag("chunk_draws", totals.chunkDraws).
		WithTag("cell_draws", totals.cellDraws).
		WithTag("broad_view_groups", totals.broadGroups).
		WithTag("max_occluded_chunk_draws", totals.maxOccluded).
		WithTag("primitives", stats.NumPrimitives).
		WithTag("chunks", stats.NumChunks).
		WithTag("items", stats.NumItems).
		Info("cullbench done")
	if runErr != nil {
		logs.Fatal(runErr)
	}
}

const errTypeBenchConfig = "cullbench.config"

type resultTotals struct {
	queries     int
	chunkDraws  int
	cellDraws   int
	broadGroups int
	maxOccluded int
}

func (t *resultTotals) add(res *query.Result) {
	t.queries++
	t.chunkDraws += len(res.ChunkDraws)
	t.cellDraws += len(res.CellDraws)
	t.broadGroups += len(res.BroadViewGroups)
	t.maxOccluded += res.MaxOccludedChunkDraws
	benchChunkDraws.Add(float64(len(res.ChunkDraws)))
	benchBroadGroups.Add(float64(len(res.BroadViewGroups)))
}

// newUploader returns the mirror's device side and its release function.
func newUploader(conf config) (gpu_mirror.Uploader, func(), error) {
	if !conf.GPU {
		return gpu_mirror.NewHostUploader(), func() {}, nil
	}
	dev, err := renderer.NewDevice(conf.ForceFallbackAdapter)
	if err != nil {
		return nil, nil, errors.New("creating webgpu device").Wrap(err)
	}
	logs.Info("mirroring culling buffers to webgpu")
	return renderer.NewWGPUUploader(dev.Device(), dev.Queue()), dev.Release, nil
}

func serveMetrics(ctx context.Context, addr string) {
	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: &admin,
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	logs.WithTag("addr", addr).Info("serving metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Warn(errors.New("metrics server stopped").
			WithTag("addr", addr).
			Wrap(err))
	}
}
