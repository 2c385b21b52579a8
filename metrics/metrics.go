// Package metrics exposes Prometheus collectors for the turn pipeline.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/becomeliminal/nim-recall/history"
	"github.com/becomeliminal/nim-recall/memory"
)

const namespace = "nim_recall"

// Turn outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	postDuration   prometheus.Histogram
	recalled       prometheus.Histogram
	recallFailures prometheus.Counter
	memoryOps      *prometheus.CounterVec
	saveFailures   prometheus.Counter
	evicted        prometheus.Counter
	summaries      *prometheus.CounterVec
	sessions       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from user message to the end of the reply.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		postDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_processing_duration_seconds",
			Help:      "Time spent saving memories and reducing history after a reply.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
		recalled: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalled_memories",
			Help:      "Memories injected per turn.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		recallFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_failures_total",
			Help:      "Turns that ran without memories because recall failed.",
		}),
		memoryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory store changes made by the saver.",
		}, []string{"operation"}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_failures_total",
			Help:      "Saver passes skipped because extraction failed.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_messages_total",
			Help:      "Messages evicted from the context window.",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Evictions by whether a summary replaced the span.",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions held in memory.",
		}),
	}
	reg.MustRegister(
		m.turns, m.turnDuration, m.postDuration, m.recalled, m.recallFailures,
		m.memoryOps, m.saveFailures, m.evicted, m.summaries, m.sessions,
	)
	return m
}

// Turn records a finished turn.
func (m *Metrics) Turn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// Recall records the memories injected for one turn, or a failure.
func (m *Metrics) Recall(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.recallFailures.Inc()
		return
	}
	m.recalled.Observe(float64(n))
}

// Save records a saver pass.
func (m *Metrics) Save(r memory.SaveReport, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.saveFailures.Inc()
		return
	}
	m.memoryOps.WithLabelValues("added").Add(float64(r.Added))
	m.memoryOps.WithLabelValues("merged").Add(float64(r.Merged))
	m.memoryOps.WithLabelValues("updated").Add(float64(r.Updated))
	m.memoryOps.WithLabelValues("deleted").Add(float64(r.Deleted))
	m.memoryOps.WithLabelValues("skipped").Add(float64(r.Skipped))
}

// Reduce records a reducer pass.
func (m *Metrics) Reduce(o history.Outcome) {
	if m == nil || !o.Triggered {
		return
	}
	m.evicted.Add(float64(o.Evicted))
	if o.Summarized {
		m.summaries.WithLabelValues("summarized").Inc()
	} else {
		m.summaries.WithLabelValues("dropped").Inc()
	}
}

// PostProcessing records the duration of a post-processing pass.
func (m *Metrics) PostProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.postDuration.Observe(d.Seconds())
}

// Sessions sets the number of live sessions.
func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
