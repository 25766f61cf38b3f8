package metrics

import "github.com/prometheus/client_golang/prometheus"

// WriterMetrics exposes counters for the asynchronous write pipeline.
type WriterMetrics struct {
	opsTotal     *prometheus.CounterVec
	applyLatency *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
}

func NewWriterMetrics(reg prometheus.Registerer) *WriterMetrics {
	m := &WriterMetrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "writer",
			Name:      "ops_total",
			Help:      "Total write ops by kind and terminal status",
		}, []string{"kind", "status"}),
		applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "writer",
			Name:      "apply_latency_seconds",
			Help:      "Latency of applying a queued op to the record store",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicdesk",
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Approximate number of ops waiting in the write queue",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.opsTotal, m.applyLatency, m.queueDepth)
	return m
}

func (m *WriterMetrics) ObserveOp(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(kind, status).Inc()
	m.applyLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *WriterMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// LiveQueryMetrics tracks reactive feed activity.
type LiveQueryMetrics struct {
	activeFeeds        prometheus.Gauge
	snapshotsDelivered *prometheus.CounterVec
	refetchLatency     prometheus.Histogram
}

func NewLiveQueryMetrics(reg prometheus.Registerer) *LiveQueryMetrics {
	m := &LiveQueryMetrics{
		activeFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicdesk",
			Subsystem: "livequery",
			Name:      "active_feeds",
			Help:      "Number of live feeds currently running",
		}),
		snapshotsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "livequery",
			Name:      "snapshots_total",
			Help:      "Snapshots delivered to subscribers by result",
		}, []string{"result"}),
		refetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "livequery",
			Name:      "refetch_latency_seconds",
			Help:      "Latency of re-running a query after a change notification",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.activeFeeds, m.snapshotsDelivered, m.refetchLatency)
	return m
}

func (m *LiveQueryMetrics) SetActiveFeeds(n int) {
	if m == nil {
		return
	}
	m.activeFeeds.Set(float64(n))
}

func (m *LiveQueryMetrics) ObserveSnapshot(result string, seconds float64) {
	if m == nil {
		return
	}
	m.snapshotsDelivered.WithLabelValues(result).Inc()
	m.refetchLatency.Observe(seconds)
}

// AIMetrics tracks generative flow invocations.
type AIMetrics struct {
	flowTotal   *prometheus.CounterVec
	flowLatency *prometheus.HistogramVec
}

func NewAIMetrics(reg prometheus.Registerer) *AIMetrics {
	m := &AIMetrics{
		flowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "ai",
			Name:      "flow_total",
			Help:      "Flow invocations by flow name and outcome",
		}, []string{"flow", "status"}),
		flowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "ai",
			Name:      "flow_latency_seconds",
			Help:      "End-to-end flow latency including the model call",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"flow"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.flowTotal, m.flowLatency)
	return m
}

func (m *AIMetrics) ObserveFlow(flow, status string, seconds float64) {
	if m == nil {
		return
	}
	m.flowTotal.WithLabelValues(flow, status).Inc()
	m.flowLatency.WithLabelValues(flow).Observe(seconds)
}
