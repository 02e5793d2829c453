// Package metrics exposes prometheus collectors for the ingest pipeline. All
// methods are safe on a nil *Metrics so callers can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	runsProcessed    prometheus.Counter
	findings         *prometheus.CounterVec
	eventsRecorded   prometheus.Counter
	eventFailures    prometheus.Counter
	hopRowsSkipped   prometheus.Counter
	flushDuration    prometheus.Histogram
	bucketsMerged    prometheus.Counter
	bucketsFailed    prometheus.Counter
	bucketsDiscarded prometheus.Counter
	bufferedBuckets  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_runs_processed_total",
			Help: "Diagnostic runs parsed and classified",
		}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopwatch_findings_total",
			Help: "Anomaly findings by kind",
		}, []string{"kind"}),
		eventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_events_recorded_total",
			Help: "Anomaly events persisted",
		}),
		eventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_event_write_failures_total",
			Help: "Anomaly event writes that failed",
		}),
		hopRowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_event_hop_rows_skipped_total",
			Help: "Event hop rows skipped on conflict or error",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hopwatch_flush_duration_seconds",
			Help:    "Aggregation flush duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		bucketsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_buckets_merged_total",
			Help: "Hop aggregate buckets merged into the store",
		}),
		bucketsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_buckets_failed_total",
			Help: "Hop aggregate buckets dropped after a failed merge",
		}),
		bucketsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopwatch_buckets_discarded_total",
			Help: "Hop aggregate buckets drained while persistence was unavailable",
		}),
		bufferedBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hopwatch_buffered_buckets",
			Help: "Buckets currently held in the aggregation buffer",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.runsProcessed,
			m.findings,
			m.eventsRecorded,
			m.eventFailures,
			m.hopRowsSkipped,
			m.flushDuration,
			m.bucketsMerged,
			m.bucketsFailed,
			m.bucketsDiscarded,
			m.bufferedBuckets,
		)
	}
	return m
}

func (m *Metrics) RunProcessed() {
	if m == nil {
		return
	}
	m.runsProcessed.Inc()
}

func (m *Metrics) Finding(kind string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventRecorded(skippedRows int) {
	if m == nil {
		return
	}
	m.eventsRecorded.Inc()
	m.hopRowsSkipped.Add(float64(skippedRows))
}

func (m *Metrics) EventFailed() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}

func (m *Metrics) Flushed(d time.Duration, merged, failed, discarded int) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
	m.bucketsMerged.Add(float64(merged))
	m.bucketsFailed.Add(float64(failed))
	m.bucketsDiscarded.Add(float64(discarded))
}

func (m *Metrics) Buffered(n int) {
	if m == nil {
		return
	}
	m.bufferedBuckets.Set(float64(n))
}
