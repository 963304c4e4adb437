package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmahlow/lorekeep/internal/progress"
)

// PrometheusSink exports ingestion progress metrics via Prometheus. It owns
// all collectors for jobs started/completed/running and per-stage counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	stageEvents   *prometheus.CounterVec
	artifactBytes *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lorekeep_ingest_jobs_started_total",
			Help: "Total ingestion jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_ingest_jobs_completed_total",
			Help: "Total ingestion runs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lorekeep_ingest_jobs_running",
			Help: "Current number of running ingestion jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lorekeep_ingest_job_runtime_seconds",
			Help:    "Wall time per finished ingestion run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_ingest_stage_events_total",
			Help: "Pipeline stage transitions partitioned by stage.",
		}, []string{"pipeline_stage"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_ingest_artifact_bytes_total",
			Help: "Bytes of cleaned content produced per job type.",
		}, []string{"job_type"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stageEvents,
		s.artifactBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobStage:
		s.stageEvents.WithLabelValues(evt.PipelineStage).Inc()
	case progress.StageJobDone:
		s.finishRun(evt, "success")
		if evt.Bytes > 0 {
			jobType := evt.JobType
			if jobType == "" {
				jobType = "unknown"
			}
			s.artifactBytes.WithLabelValues(jobType).Add(float64(evt.Bytes))
		}
	case progress.StageJobError:
		s.finishRun(evt, "error")
	case progress.StageJobRetry:
		s.finishRun(evt, "retry")
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
