package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
)

// PrometheusSink exports run lifecycle metrics via Prometheus. It owns the
// collectors for runs started/completed/running, run wall time and the stages
// reported per stage name.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	runScore      prometheus.Histogram
	stagesTotal   *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_runs_started_total",
			Help: "Total analysis runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteaudit_runs_completed_total",
			Help: "Total analysis runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siteaudit_runs_running",
			Help: "Current number of running analysis runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteaudit_run_runtime_seconds",
			Help:    "Wall time per completed analysis run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		runScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siteaudit_run_score",
			Help:    "Overall score reported by successful runs.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteaudit_run_stages_total",
			Help: "Progress stages reported by workers partitioned by stage.",
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.runScore,
		s.stagesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register run collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Record) error {
	for _, rec := range batch {
		s.consumeRecord(rec)
	}
	return nil
}

func (s *PrometheusSink) consumeRecord(rec progress.Record) {
	switch {
	case rec.Kind == progress.KindRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(rec.RunID) {
			s.runsRunning.Inc()
		}
	case rec.Kind == progress.KindStage:
		s.stagesTotal.WithLabelValues(stageLabel(rec.Stage)).Inc()
	case rec.Kind.Terminal():
		label := resultLabel(rec.Kind)
		s.runsCompleted.WithLabelValues(label).Inc()
		if rec.Dur > 0 {
			s.runRuntime.WithLabelValues(label).Observe(rec.Dur.Seconds())
		}
		if rec.Score != nil {
			s.runScore.Observe(float64(*rec.Score))
		}
		if s.tracker.complete(rec.RunID) {
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func resultLabel(kind progress.Kind) string {
	switch kind {
	case progress.KindRunSuccess:
		return "success"
	case progress.KindRunCancel:
		return "cancelled"
	default:
		return "error"
	}
}

// knownStages bounds label cardinality; workers may invent stage names.
var knownStages = map[string]struct{}{
	"domain":         {},
	"robots":         {},
	"sitemap":        {},
	"agent_files":    {},
	"page":           {},
	"internal_links": {},
	"complete":       {},
}

func stageLabel(stage string) string {
	if _, ok := knownStages[stage]; ok {
		return stage
	}
	return "other"
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
