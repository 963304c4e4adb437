// Package progress defines the telemetry events emitted by the ingestion
// runner as jobs move through the pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobStage Stage = "JOB_STAGE"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
	StageJobRetry Stage = "JOB_RETRY"
)

// Event captures a single milestone of one ingestion job run.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// JobType is the ingestion job type label (page-fetch, snippet, ...).
	JobType string
	// Source is the job's source identifier; it should not contain credentials.
	Source string
	// PipelineStage names the pipeline step for JOB_STAGE events.
	PipelineStage string
	// Percent is the coarse completion estimate for JOB_STAGE events.
	Percent int
	// Bytes carries the size of the produced artifact, when known.
	Bytes int64
	// Dur captures wall time for completed or failed runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobRetry:
	case StageJobStage:
		if e.PipelineStage == "" {
			return errors.New("stage event requires a pipeline stage")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Percent < 0 || e.Percent > 100 {
		return errors.New("percent must be within [0, 100]")
	}
	return nil
}
