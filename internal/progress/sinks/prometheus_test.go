package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobStart, JobType: "page-fetch"},
		{
			JobID:         "job-1",
			TS:            time.Now().Add(time.Second),
			Stage:         progress.StageJobStage,
			PipelineStage: "fetching",
			Percent:       10,
		},
		{
			JobID:   "job-1",
			TS:      time.Now().Add(15 * time.Second),
			Stage:   progress.StageJobDone,
			JobType: "page-fetch",
			Bytes:   2048,
			Dur:     15 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageEvents.WithLabelValues("fetching")))
	require.Equal(t, 2048.0, testutil.ToFloat64(sink.artifactBytes.WithLabelValues("page-fetch")))
}

// TestPrometheusSinkTracksRunningGauge exercises the start/finish tracker.
func TestPrometheusSinkTracksRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := progress.Event{JobID: "job-9", TS: time.Now(), Stage: progress.StageJobStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))

	fail := progress.Event{JobID: "job-9", TS: time.Now(), Stage: progress.StageJobError, Dur: time.Second}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{fail}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
}

// TestPrometheusSinkRetryResult keeps retry runs out of the success counter.
func TestPrometheusSinkRetryResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{JobID: "job-2", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "job-2", TS: time.Now(), Stage: progress.StageJobRetry, Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("retry")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
}
