// Package metrics provides Prometheus metrics collection for the match
// predictor. It defines the inference, store, pipeline and API metrics that
// are exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Inference metrics
	MLPredictions      prometheus.Counter   // Total number of model inferences
	MLFailures         prometheus.Counter   // Total number of failed inferences
	MLModelAge         prometheus.Gauge     // Age of the loaded model file in seconds
	MLLatency          prometheus.Histogram // Inference latency in seconds
	MLPredictionScores prometheus.Histogram // Distribution of winning-class confidence
	MLTimeouts         prometheus.Counter   // Total number of inference timeouts

	// Store metrics
	CacheHits       prometheus.Counter     // Lookups served from the cache tier
	CacheMisses     prometheus.Counter     // Lookups that fell through to the durable tier
	Computations    prometheus.Counter     // Predictions computed (single-flight leaders)
	Reconciliations *prometheus.CounterVec // Reconciled predictions by correctness

	// Pipeline metrics
	PipelineDuration  prometheus.Histogram   // Fixture-to-prediction duration in seconds
	UpstreamErrors    prometheus.Counter     // Provider failures
	PredictedOutcomes *prometheus.CounterVec // New predictions by outcome
	FeaturesRecorded  prometheus.Counter     // Feature rows stored for retraining

	// API metrics
	HTTPRequests *prometheus.CounterVec // HTTP requests by route and status
	WSClients    prometheus.Gauge       // Connected websocket clients
	ErrorsTotal  prometheus.Counter     // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of model inferences",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of failed model inferences",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the loaded model file in seconds",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of winning-class probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		MLTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_timeouts_total",
			Help: "Total number of inference timeouts",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Prediction lookups served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_cache_misses_total",
			Help: "Prediction lookups not served from the cache",
		}),
		Computations: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_computations_total",
			Help: "Predictions computed from fresh team data",
		}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_reconciliations_total",
			Help: "Predictions reconciled with the real result",
		}, []string{"correct"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Time from fixture lookup to stored prediction",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failures fetching fixture or team data",
		}),
		PredictedOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predicted_outcomes_total",
			Help: "New predictions by predicted outcome",
		}, []string{"outcome"}),
		FeaturesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "features_recorded_total",
			Help: "Feature vectors stored for retraining",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected websocket clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	if code >= 500 {
		m.ErrorsTotal.Inc()
	}
}
