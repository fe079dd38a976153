// Package metrics holds the Prometheus collectors for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgallion1/docflow/internal/doctree"
)

const namespace = "docflow"

// Metrics records run, stage and record counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	chunks        prometheus.Counter
	records       *prometheus.CounterVec
	documentBytes prometheus.Histogram
	queueDepth    prometheus.Gauge

	windows map[doctree.Stage]*Window
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage errors by stage and kind.",
		}, []string{"stage", "kind"}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks produced.",
		}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records extracted, split by whether they were recovered.",
		}, []string{"recovered"}),
		documentBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_bytes",
			Help:      "Raw size of loaded documents.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Runs waiting for a worker.",
		}),
		windows: map[doctree.Stage]*Window{
			doctree.StageLoad:  NewWindow(time.Hour),
			doctree.StageChunk: NewWindow(time.Hour),
			doctree.StageParse: NewWindow(time.Hour),
		},
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage doctree.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	if w := m.windows[stage]; w != nil {
		w.Record(d)
	}
}

// StageStats returns the last hour of stage latencies.
func (m *Metrics) StageStats() map[doctree.Stage]WindowSnapshot {
	out := make(map[doctree.Stage]WindowSnapshot)
	if m == nil {
		return out
	}
	for stage, w := range m.windows {
		out[stage] = w.Snapshot()
	}
	return out
}

func (m *Metrics) StageError(e doctree.StageError) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(string(e.Stage), e.Kind).Inc()
}

func (m *Metrics) Document(doc doctree.Document) {
	if m == nil {
		return
	}
	m.documentBytes.Observe(float64(doc.ByteLength))
}

func (m *Metrics) Chunks(n int) {
	if m == nil {
		return
	}
	m.chunks.Add(float64(n))
}

func (m *Metrics) Records(recs []doctree.Record) {
	if m == nil {
		return
	}
	var recovered, structured int
	for _, r := range recs {
		if r.Recovered {
			recovered++
		} else {
			structured++
		}
	}
	m.records.WithLabelValues("true").Add(float64(recovered))
	m.records.WithLabelValues("false").Add(float64(structured))
}

// RunFinished counts a run under outcome (completed, partial, failed or
// cancelled).
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
