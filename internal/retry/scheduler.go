package retry

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

const (
	// maxPayloadBytes bounds the serialized ErrorInfo stored on a job.
	maxPayloadBytes = 4096
	maxMessageLen   = 1500
	maxStackLen     = 2000
)

// Scheduler turns pipeline failures into retry_pending or failed transitions
// on the job store.
type Scheduler struct {
	classifier   *Classifier
	store        knowledge.JobStore
	clock        knowledge.Clock
	logger       *zap.Logger
	maxAttempts  int
	includeStack bool
}

// NewScheduler builds a Scheduler. includeStack controls whether failure
// payloads carry a stack trace; production deployments keep it off.
func NewScheduler(classifier *Classifier, store knowledge.JobStore, clock knowledge.Clock, logger *zap.Logger, maxAttempts int, includeStack bool) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		classifier:   classifier,
		store:        store,
		clock:        clock,
		logger:       logger,
		maxAttempts:  maxAttempts,
		includeStack: includeStack,
	}
}

// HandleFailure records err against the job and returns the status the job
// moved to. Retryable failures below the attempt ceiling go to retry_pending
// with a next-attempt timestamp; everything else is terminal.
func (s *Scheduler) HandleFailure(ctx context.Context, job knowledge.IngestionJob, stage string, err error) (knowledge.JobStatus, error) {
	attempts := job.Attempts + 1
	cls := s.classifier.Classify(err, attempts)

	info := s.buildErrorInfo(err, cls)

	status := knowledge.StatusFailed
	var nextAttemptAt *time.Time
	if cls.Retryable && attempts < s.maxAttempts {
		status = knowledge.StatusRetryPending
		at := s.clock.Now().Add(cls.RetryDelay)
		nextAttemptAt = &at
	}

	s.logger.Warn("ingestion stage failed",
		zap.String("job_id", job.ID),
		zap.String("stage", stage),
		zap.String("category", string(cls.Category)),
		zap.Bool("retryable", cls.Retryable),
		zap.Int("attempts", attempts),
		zap.String("status", string(status)),
		zap.Error(err),
	)

	if storeErr := s.store.RecordFailure(ctx, job.ID, info, stage, status, nextAttemptAt); storeErr != nil {
		return status, knowledge.WrapError(knowledge.KindStorageError, "record failure", storeErr)
	}
	return status, nil
}

// buildErrorInfo produces a payload whose serialized size stays under
// maxPayloadBytes. Message and stack are truncated independently so a huge
// stack cannot crowd out the message.
func (s *Scheduler) buildErrorInfo(err error, cls Classification) knowledge.ErrorInfo {
	info := knowledge.ErrorInfo{
		Kind:      string(knowledge.KindOf(err)),
		Message:   truncate(err.Error(), maxMessageLen),
		Category:  string(cls.Category),
		Timestamp: s.clock.Now().UTC(),
	}
	if s.includeStack {
		info.Stack = truncate(string(debug.Stack()), maxStackLen)
	}

	if raw, merr := json.Marshal(info); merr == nil && len(raw) > maxPayloadBytes {
		over := len(raw) - maxPayloadBytes
		if len(info.Stack) > over {
			info.Stack = truncate(info.Stack, len(info.Stack)-over)
		} else {
			info.Stack = ""
			info.Message = truncate(info.Message, maxMessageLen/2)
		}
	}
	return info
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return s[:limit]
	}
	return s[:limit-len(marker)] + marker
}
