package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hunger_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the prediction pipeline.
type Metrics struct {
	UnitsProcessed    prometheus.Counter
	UnitFailures      *prometheus.CounterVec // labels: stage={sequence,features,predict,persist_features,persist_prediction,timeout}
	SequenceFallbacks prometheus.Counter
	SPIFitFallbacks   prometheus.Counter
	Predictions       *prometheus.CounterVec // labels: phase={1..5}
	PublishErrors     prometheus.Counter

	// Run-level metrics.
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram
	LastRunUnits    prometheus.Gauge

	// Raster and predictor metrics.
	FrameCache        *prometheus.CounterVec   // labels: result={hit,miss}
	PredictorRequests *prometheus.CounterVec   // labels: endpoint={embed,classify}, outcome={success,error,rejected}
	PredictorDuration *prometheus.HistogramVec // labels: endpoint={embed,classify}
}

func newMetrics() *Metrics {
	return &Metrics{
		UnitsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_processed_total",
			Help:      "Administrative units whose prediction was persisted.",
		}),
		UnitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_failures_total",
			Help:      "Units skipped during a run, by the stage that failed.",
		}, []string{"stage"}),
		SequenceFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_fallbacks_total",
			Help:      "Units that ran on a synthetic sequence for lack of rasters.",
		}),
		SPIFitFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spi_fit_fallbacks_total",
			Help:      "SPI windows computed by z-score after a degenerate gamma fit.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions produced, by IPC phase.",
		}, []string{"phase"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Predictions that could not be published to the early-warning topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a monthly run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete monthly run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		LastRunUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_units",
			Help:      "Units predicted by the most recent run.",
		}),
		FrameCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_cache_total",
			Help:      "Processed raster frame cache lookups by result.",
		}, []string{"result"}),
		PredictorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_requests_total",
			Help:      "Model-serving requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		PredictorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predictor_request_duration_seconds",
			Help:      "Model-serving request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UnitsProcessed,
		m.UnitFailures,
		m.SequenceFallbacks,
		m.SPIFitFallbacks,
		m.Predictions,
		m.PublishErrors,
		m.PipelineRunning,
		m.RunDuration,
		m.LastRunUnits,
		m.FrameCache,
		m.PredictorRequests,
		m.PredictorDuration,
	}
}

// ObserveFrameCache records a processed-frame cache lookup.
func (m *Metrics) ObserveFrameCache(hit bool) {
	if hit {
		m.FrameCache.WithLabelValues("hit").Inc()
		return
	}
	m.FrameCache.WithLabelValues("miss").Inc()
}

// ObservePredictorCall records one model-serving request. outcome is one of
// success, error or rejected.
func (m *Metrics) ObservePredictorCall(endpoint, outcome string, elapsed time.Duration) {
	m.PredictorRequests.WithLabelValues(endpoint, outcome).Inc()
	m.PredictorDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
