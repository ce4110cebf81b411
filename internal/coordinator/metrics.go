package coordinator

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics instruments the collect-buffer-flush pipeline.
type PipelineMetrics struct {
	registry *prometheus.Registry

	pointsCollected *prometheus.CounterVec
	pointsDropped   prometheus.Counter
	collectErrors   *prometheus.CounterVec
	batchesFlushed  prometheus.Counter
	flushErrors     prometheus.Counter
	bufferDepth     prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline collectors on a dedicated
// registry so the caller decides whether and where to expose them.
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		pointsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "points_collected_total",
			Help:      "Metric points produced by collectors.",
		}, []string{"device_kind"}),
		pointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "points_dropped_total",
			Help:      "Points evicted from the in-memory buffer under back-pressure.",
		}),
		collectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "collect_errors_total",
			Help:      "Collection invocations that ended in an error.",
		}, []string{"error_kind"}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "batches_flushed_total",
			Help:      "Point batches handed to the storage engine.",
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "flush_errors_total",
			Help:      "Flushes in which the storage engine stored nothing.",
		}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netwatch",
			Subsystem: "pipeline",
			Name:      "buffer_depth",
			Help:      "Points currently held in the in-memory buffer.",
		}),
	}
	m.registry.MustRegister(m.pointsCollected, m.pointsDropped, m.collectErrors,
		m.batchesFlushed, m.flushErrors, m.bufferDepth)
	return m
}

// Registry exposes the underlying registry for HTTP handlers.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}
