// Package metrics defines the engine's Prometheus instrumentation:
// chain cache depth, reorg activity, ingest queue backlog, subscriber
// lifecycle counts, and ambient process health.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheDepth tracks the chain cache's current retained depth.
	CacheDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_cache_depth_blocks",
			Help: "Number of blocks currently retained in the chain cache",
		},
	)

	// CacheHeadBlock tracks the chain cache's current head block number.
	CacheHeadBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_cache_head_block",
			Help: "The block number currently at the head of the chain cache",
		},
	)

	// ReorgsDetected counts reorgs classified by the ingest engine.
	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsub_reorgs_detected_total",
			Help: "Total number of reorgs detected by the ingest engine",
		},
	)

	// ReorgDepth records the depth (in blocks) of each detected reorg.
	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsub_reorg_depth_blocks",
			Help:    "Depth of detected reorgs in blocks",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
	)

	// ChainRepairsTotal counts invocations of the chain repairer.
	ChainRepairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsub_chain_repairs_total",
			Help: "Total number of chain cache repair passes executed",
		},
	)

	// QueueLength tracks the current backlog of the ingest queue.
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_ingest_queue_length",
			Help: "Number of pending headers in the ingest queue",
		},
	)

	// BlocksIngested counts incoming blocks by classification; it is
	// incremented when a block is classified, before its path runs.
	BlocksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsub_blocks_ingested_total",
			Help: "Total number of blocks ingested, labeled by classification",
		},
		[]string{"classification"},
	)

	// LogsDispatched counts logs handed to subscribers.
	LogsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsub_logs_dispatched_total",
			Help: "Total number of logs dispatched to subscribers",
		},
	)

	// SubscribersRegistered tracks the number of subscribers currently
	// registered with the registry.
	SubscribersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_subscribers_registered",
			Help: "Number of subscribers currently registered",
		},
	)

	// SubscriberInitErrors counts subscriber initialization failures.
	SubscriberInitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsub_subscriber_init_errors_total",
			Help: "Total number of subscriber initialization failures",
		},
		[]string{"subscriber"},
	)

	// IngestBatchDuration measures time spent applying one ingest batch.
	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsub_ingest_batch_duration_seconds",
			Help:    "Duration of a single ingest batch application",
			Buckets: prometheus.DefBuckets,
		},
	)

	// System metrics, kept ambient regardless of domain scope.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsub_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsub_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsub_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsub_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func SetCacheDepth(depth uint64) {
	CacheDepth.Set(float64(depth))
}

func SetCacheHead(blockNum uint64) {
	CacheHeadBlock.Set(float64(blockNum))
}

func ReorgDetectedLog(depth uint64) {
	ReorgsDetected.Inc()
	ReorgDepth.Observe(float64(depth))
}

func ChainRepairInc() {
	ChainRepairsTotal.Inc()
}

func SetQueueLength(n int) {
	QueueLength.Set(float64(n))
}

func BlockIngestedInc(classification string) {
	BlocksIngested.WithLabelValues(classification).Inc()
}

func LogsDispatchedInc(count int) {
	LogsDispatched.Add(float64(count))
}

func SetSubscribersRegistered(n int) {
	SubscribersRegistered.Set(float64(n))
}

func SubscriberInitErrorInc(subscriber string) {
	SubscriberInitErrors.WithLabelValues(subscriber).Inc()
}

func IngestBatchDurationLog(d time.Duration) {
	IngestBatchDuration.Observe(d.Seconds())
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	v := float64(1)
	if !healthy {
		v = 0
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// UpdateSystemMetrics updates runtime system metrics. Called
// periodically by the metrics server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
