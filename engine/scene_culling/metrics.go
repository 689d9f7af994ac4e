package scene_culling

import (
	"time"

	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sceneLabel   = "scene"
	stateLabel   = "state"
	reasonLabel  = "reason"
	bufferLabel  = "buffer"
	errTypeLabel = "error_type"
)

var (
	cullingPrimitives = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_primitives",
		Help: "The number of tracked primitives by placement state.",
	}, []string{sceneLabel, stateLabel})

	cullingBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_blocks",
		Help: "The number of live spatial hash blocks.",
	}, []string{sceneLabel})

	cullingCells = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_cells",
		Help: "The number of cells holding chunks.",
	}, []string{sceneLabel})

	cullingChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_chunks",
		Help: "The number of allocated chunks.",
	}, []string{sceneLabel})

	cullingItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_items",
		Help: "The number of instances stored in chunks.",
	}, []string{sceneLabel})

	cullingPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "culling_promoted_total",
		Help: "The number of primitives promoted to dynamic placement.",
	}, []string{sceneLabel})

	cullingUncullable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "culling_uncullable_total",
		Help: "The number of primitive placements routed to the uncullable list.",
	}, []string{sceneLabel, reasonLabel})

	cullingUpdateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "culling_update_errors",
		Help: "The errors returned by culling updates.",
	}, []string{sceneLabel, errTypeLabel})

	cullingUploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "culling_upload_bytes_total",
		Help: "The bytes written to the GPU mirror.",
	}, []string{sceneLabel})

	cullingBufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "culling_buffer_size_bytes",
		Help: "The byte size each mirrored buffer needs.",
	}, []string{sceneLabel, bufferLabel})

	cullingUpdateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "culling_update_latency",
		Help:    "The time the builder task spent applying a change set, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{sceneLabel})

	cullingSyncLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "culling_sync_latency",
		Help:    "The time spent in the post-update barrier, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{sceneLabel})

	cullingQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "culling_query_latency",
		Help:    "The time between dispatching a query and its result, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{sceneLabel})
)

func instrumentStats(scene string, s Stats) {
	labels := prometheus.Labels{sceneLabel: scene}
	for state, n := range s.PrimitivesByState {
		cullingPrimitives.With(prometheus.Labels{sceneLabel: scene, stateLabel: state.String()}).Set(float64(n))
	}
	cullingBlocks.With(labels).Set(float64(s.NumBlocks))
	cullingCells.With(labels).Set(float64(s.NumCells))
	cullingChunks.With(labels).Set(float64(s.NumChunks))
	cullingItems.With(labels).Set(float64(s.NumItems))
}

func instrumentUpdate(scene string, u builder.UpdateStats) {
	labels := prometheus.Labels{sceneLabel: scene}
	cullingPromoted.With(labels).Add(float64(u.Promoted))
	for reason, n := range u.Uncullable {
		cullingUncullable.With(prometheus.Labels{sceneLabel: scene, reasonLabel: reason}).Add(float64(n))
	}
	cullingUpdateLatency.With(labels).Observe(u.Duration.Seconds())
	cullingSyncLatency.With(labels).Observe(u.SyncTime.Seconds())
}

func instrumentSync(scene string, s gpu_mirror.SyncStats) {
	cullingUploadBytes.With(prometheus.Labels{sceneLabel: scene}).Add(float64(s.BytesWritten))
	for id := range gpu_mirror.NumBuffers {
		cullingBufferSize.With(prometheus.Labels{sceneLabel: scene, bufferLabel: id.String()}).Set(float64(s.Sizes[id]))
	}
}

func instrumentUpdateError(scene string, err error) {
	cullingUpdateErrors.
		With(prometheus.Labels{
			sceneLabel:   scene,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentQueryLatency(scene string, start time.Time) {
	cullingQueryLatency.With(prometheus.Labels{
		sceneLabel: scene,
	}).Observe(time.Since(start).Seconds())
}
