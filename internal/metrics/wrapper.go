package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsGauge is the gauge surface handed to packages that must not
// import prometheus.
type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces declared by the
// ml, store, pipeline and api packages.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// ml.MetricsInterface

func (w *MetricsWrapper) MLPredictionsInc()                   { w.m.MLPredictions.Inc() }
func (w *MetricsWrapper) MLFailuresInc()                      { w.m.MLFailures.Inc() }
func (w *MetricsWrapper) MLLatencyObserve(v float64)          { w.m.MLLatency.Observe(v) }
func (w *MetricsWrapper) MLModelAgeSet(v float64)             { w.m.MLModelAge.Set(v) }
func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) { w.m.MLPredictionScores.Observe(v) }
func (w *MetricsWrapper) MLTimeoutsInc()                      { w.m.MLTimeouts.Inc() }

// store.MetricsInterface

func (w *MetricsWrapper) CacheHitInc()    { w.m.CacheHits.Inc() }
func (w *MetricsWrapper) CacheMissInc()   { w.m.CacheMisses.Inc() }
func (w *MetricsWrapper) ComputationInc() { w.m.Computations.Inc() }

func (w *MetricsWrapper) ReconciliationInc(correct bool) {
	w.m.Reconciliations.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

// pipeline.MetricsInterface

func (w *MetricsWrapper) PipelineLatencyObserve(v float64) { w.m.PipelineDuration.Observe(v) }
func (w *MetricsWrapper) FeaturesRecordedInc()             { w.m.FeaturesRecorded.Inc() }

func (w *MetricsWrapper) UpstreamErrorsInc() {
	w.m.UpstreamErrors.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) PredictedOutcomeInc(outcome string) {
	w.m.PredictedOutcomes.WithLabelValues(outcome).Inc()
}

// api

func (w *MetricsWrapper) ObserveRequest(route string, code int) { w.m.ObserveRequest(route, code) }

func (w *MetricsWrapper) WSClients() MetricsGauge {
	return &GaugeWrapper{w.m.WSClients}
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
