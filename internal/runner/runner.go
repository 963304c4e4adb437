// Package runner drives ingestion jobs through the fetch, extract, enrich,
// persist, and vectorize-handoff stages.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/extract"
	"github.com/dmahlow/lorekeep/internal/knowledge"
	"github.com/dmahlow/lorekeep/internal/progress"
	"github.com/dmahlow/lorekeep/internal/retry"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultBatchSize      = 16
	defaultVectorizeTopic = "lorekeep-vectorize"
	// maxWorkerCap bounds the CPU-derived default so a large host does not
	// hammer upstream sites and AI providers.
	maxWorkerCap = 8
)

// Config tunes the runner's polling and dispatch behavior.
type Config struct {
	// Concurrency is the worker pool size; 0 derives it from CPU count.
	Concurrency int
	// PollInterval is the delay between due-job queries.
	PollInterval time.Duration
	// BatchSize caps how many due jobs one poll claims.
	BatchSize int
	// VectorizeTopic is the pub/sub topic for the handoff event.
	VectorizeTopic string
	// BlobPrefix is prepended to all blob paths written by the runner.
	BlobPrefix string
}

// Deps are the collaborators the runner orchestrates.
type Deps struct {
	Jobs       knowledge.JobStore
	Objects    knowledge.ObjectStore
	Blobs      knowledge.BlobStore
	Publisher  knowledge.Publisher
	Fetcher    knowledge.Fetcher
	Extractor  knowledge.Extractor
	Summarizer knowledge.Summarizer
	Scheduler  *retry.Scheduler
	Hasher     knowledge.Hasher
	Clock      knowledge.Clock
	IDs        knowledge.IDGenerator
	Progress   progress.Emitter
	Logger     *zap.Logger
}

// Request describes one ingestion submission.
type Request struct {
	JobType          knowledge.JobType
	SourceIdentifier string
	OriginalFileName string
	Priority         int
	Data             map[string]string
}

// Runner polls the job store for due work and runs each job through the
// ingestion pipeline on a bounded worker pool.
type Runner struct {
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	inflight *inflightSet
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New builds a Runner. Zero-valued config fields fall back to defaults.
func New(deps Deps, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.VectorizeTopic == "" {
		cfg.VectorizeTopic = defaultVectorizeTopic
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		inflight: newInflightSet(),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n > maxWorkerCap {
		n = maxWorkerCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Enqueue records a new ingestion job. A source identifier that already has a
// queued or running job is dropped; the second return value reports whether a
// job was actually created.
func (r *Runner) Enqueue(ctx context.Context, req Request) (knowledge.IngestionJob, bool, error) {
	if req.SourceIdentifier == "" {
		return knowledge.IngestionJob{}, false, errors.New("source identifier is required")
	}
	if req.JobType == "" {
		req.JobType = knowledge.JobTypePageFetch
	}
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return knowledge.IngestionJob{}, false, fmt.Errorf("generate job id: %w", err)
	}
	if !r.inflight.TryAcquire(req.SourceIdentifier, id) {
		r.logger.Debug("duplicate ingestion request dropped",
			zap.String("source", req.SourceIdentifier))
		return knowledge.IngestionJob{}, false, nil
	}
	now := r.deps.Clock.Now()
	job := knowledge.IngestionJob{
		ID:               id,
		JobType:          req.JobType,
		SourceIdentifier: req.SourceIdentifier,
		OriginalFileName: req.OriginalFileName,
		Status:           knowledge.StatusQueued,
		Priority:         req.Priority,
		JobSpecificData:  req.Data,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.deps.Jobs.CreateJob(ctx, job); err != nil {
		r.inflight.Release(req.SourceIdentifier, id)
		return knowledge.IngestionJob{}, false, knowledge.WrapError(knowledge.KindStorageError, "create job", err)
	}
	r.logger.Info("ingestion job enqueued",
		zap.String("job_id", id),
		zap.String("job_type", string(req.JobType)),
		zap.String("source", req.SourceIdentifier),
		zap.Int("priority", req.Priority),
	)
	return job, true, nil
}

// Run polls for due jobs and dispatches them to the worker pool. It blocks
// until ctx is cancelled and every in-flight job has finished.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("ingestion runner started",
		zap.Int("concurrency", cap(r.sem)),
		zap.Duration("poll_interval", r.cfg.PollInterval),
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("ingestion runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.dispatchDue(ctx)
		}
	}
}

func (r *Runner) dispatchDue(ctx context.Context) {
	due, err := r.deps.Jobs.DueJobs(ctx, r.deps.Clock.Now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Warn("due jobs query failed", zap.Error(err))
		return
	}
	for _, job := range due {
		if !r.inflight.TryAcquire(job.SourceIdentifier, job.ID) {
			// Another job for the same source is still live.
			continue
		}
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			r.inflight.Release(job.SourceIdentifier, job.ID)
			return
		}
		// Claim before the goroutine starts so the next poll does not see the
		// job as due again.
		if err := r.deps.Jobs.UpdateStatus(ctx, job.ID, knowledge.StatusProcessing); err != nil {
			r.logger.Warn("job claim failed", zap.String("job_id", job.ID), zap.Error(err))
			r.inflight.Release(job.SourceIdentifier, job.ID)
			<-r.sem
			continue
		}
		r.wg.Add(1)
		go func(job knowledge.IngestionJob) {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.process(ctx, job)
		}(job)
	}
}

func (r *Runner) process(ctx context.Context, job knowledge.IngestionJob) {
	start := r.deps.Clock.Now()
	defer r.inflight.Release(job.SourceIdentifier, job.ID)

	r.emit(progress.Event{
		JobID:   job.ID,
		TS:      start,
		Stage:   progress.StageJobStart,
		JobType: string(job.JobType),
		Source:  job.SourceIdentifier,
	})

	status, bytes := r.runPipeline(ctx, job)

	evt := progress.Event{
		JobID:   job.ID,
		TS:      r.deps.Clock.Now(),
		JobType: string(job.JobType),
		Source:  job.SourceIdentifier,
		Bytes:   bytes,
		Dur:     r.deps.Clock.Now().Sub(start),
	}
	switch status {
	case knowledge.StatusRetryPending:
		evt.Stage = progress.StageJobRetry
	case knowledge.StatusFailed:
		evt.Stage = progress.StageJobError
	default:
		evt.Stage = progress.StageJobDone
	}
	r.emit(evt)
}

// runPipeline walks one job through every stage and returns the status the
// job ended the run in, plus the size of the cleaned artifact when one was
// produced.
func (r *Runner) runPipeline(ctx context.Context, job knowledge.IngestionJob) (knowledge.JobStatus, int64) {
	src, stage, err := r.acquireContent(ctx, job)
	if err != nil {
		return r.fail(ctx, job, stage, err), 0
	}
	if src.article == nil {
		return r.noContent(ctx, job), 0
	}
	cleaned := extract.Normalize(src.article.Content)

	r.setStatus(ctx, job.ID, knowledge.StatusAIProcessing)
	r.setProgress(ctx, job, "enriching", 55, "")
	enrichment, err := r.deps.Summarizer.Summarize(ctx, cleaned)
	if err != nil {
		return r.fail(ctx, job, string(knowledge.StatusAIProcessing), err), 0
	}

	r.setStatus(ctx, job.ID, knowledge.StatusPersisting)
	r.setProgress(ctx, job, "persisting", 75, "")
	obj, digest, err := r.persist(ctx, job, src, cleaned, enrichment)
	if err != nil {
		return r.fail(ctx, job, string(knowledge.StatusPersisting), err), 0
	}

	r.setProgress(ctx, job, "vectorizing", 90, "")
	if err := r.publishVectorize(ctx, job, obj, digest); err != nil {
		return r.fail(ctx, job, string(knowledge.StatusVectorizing), err), 0
	}
	// The job status moves only after the object write and the handoff are
	// both durable, so a crash here re-runs the job instead of losing it.
	if err := r.deps.Jobs.UpdateStatus(ctx, job.ID, knowledge.StatusVectorizing); err != nil {
		wrapped := knowledge.WrapError(knowledge.KindStorageError, "update job status", err)
		return r.fail(ctx, job, string(knowledge.StatusVectorizing), wrapped), 0
	}
	r.setProgress(ctx, job, "vectorizing", 100, "handed off for vectorization")

	r.logger.Info("ingestion run finished",
		zap.String("job_id", job.ID),
		zap.String("object_id", obj.ID),
		zap.String("source", job.SourceIdentifier),
	)
	return knowledge.StatusVectorizing, int64(len(cleaned))
}

// fail delegates classification and bookkeeping to the retry scheduler and
// returns the status it moved the job to.
func (r *Runner) fail(ctx context.Context, job knowledge.IngestionJob, stage string, err error) knowledge.JobStatus {
	status, schedErr := r.deps.Scheduler.HandleFailure(ctx, job, stage, err)
	if schedErr != nil {
		r.logger.Error("failure bookkeeping failed",
			zap.String("job_id", job.ID),
			zap.String("stage", stage),
			zap.Error(schedErr),
		)
	}
	return status
}

// noContent marks the job failed as a data outcome, not an infrastructure
// error: the fetch succeeded but the page had nothing to extract, so retrying
// would not help.
func (r *Runner) noContent(ctx context.Context, job knowledge.IngestionJob) knowledge.JobStatus {
	info := knowledge.ErrorInfo{
		Kind:      "NoContent",
		Message:   "failed to extract content",
		Category:  "parsing",
		Timestamp: r.deps.Clock.Now(),
	}
	if err := r.deps.Jobs.RecordFailure(ctx, job.ID, info, string(knowledge.StatusParsing), knowledge.StatusFailed, nil); err != nil {
		r.logger.Error("record no-content outcome failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	return knowledge.StatusFailed
}

// acquired is the output of the source-acquisition stage: the raw artifact
// (empty for snippets), its blob name and content type, the canonical source
// URI, and the extracted article. A nil article means no usable content.
type acquired struct {
	raw       string
	rawName   string
	rawType   string
	sourceURI string
	article   *knowledge.ExtractionResult
}

// acquireContent obtains the job's content according to its type. Page jobs
// fetch and extract, document jobs read a local file, and snippet jobs carry
// their content inline and enter the pipeline at enrichment. The second
// return value is the stage to record if the acquisition failed.
func (r *Runner) acquireContent(ctx context.Context, job knowledge.IngestionJob) (acquired, string, error) {
	switch job.JobType {
	case knowledge.JobTypeSnippet:
		content := strings.TrimSpace(job.JobSpecificData["content"])
		if content == "" {
			return acquired{}, "", nil
		}
		title := job.JobSpecificData["title"]
		if title == "" {
			title = job.SourceIdentifier
		}
		return acquired{
			sourceURI: job.SourceIdentifier,
			article: &knowledge.ExtractionResult{
				Title:   title,
				Content: content,
				Length:  len(content),
			},
		}, "", nil

	case knowledge.JobTypeDocumentFetch:
		r.setProgress(ctx, job, "fetching", 10, "")
		data, err := os.ReadFile(job.SourceIdentifier)
		if err != nil {
			return acquired{}, string(knowledge.StatusProcessing),
				knowledge.WrapError(knowledge.KindResourceError, "read document", err)
		}
		raw := string(data)
		if isHTMLDocument(job) {
			r.setStatus(ctx, job.ID, knowledge.StatusParsing)
			r.setProgress(ctx, job, "extracting", 30, "")
			article, err := r.deps.Extractor.Extract(ctx, raw, job.SourceIdentifier)
			if err != nil {
				return acquired{}, string(knowledge.StatusParsing), err
			}
			return acquired{
				raw:       raw,
				rawName:   "raw.html",
				rawType:   "text/html; charset=utf-8",
				sourceURI: job.SourceIdentifier,
				article:   article,
			}, "", nil
		}
		title := job.OriginalFileName
		if title == "" {
			title = filepath.Base(job.SourceIdentifier)
		}
		return acquired{
			raw:       raw,
			rawName:   "raw.txt",
			rawType:   "text/plain; charset=utf-8",
			sourceURI: job.SourceIdentifier,
			article: &knowledge.ExtractionResult{
				Title:   title,
				Content: raw,
				Length:  len(raw),
			},
		}, "", nil

	default:
		r.setProgress(ctx, job, "fetching", 10, "")
		fetched, err := r.deps.Fetcher.Fetch(ctx, job.SourceIdentifier)
		if err != nil {
			return acquired{}, string(knowledge.StatusProcessing), err
		}
		r.setStatus(ctx, job.ID, knowledge.StatusParsing)
		r.setProgress(ctx, job, "extracting", 30, "")
		article, err := r.deps.Extractor.Extract(ctx, fetched.HTML, fetched.FinalURL)
		if err != nil {
			return acquired{}, string(knowledge.StatusParsing), err
		}
		sourceURI := fetched.FinalURL
		if sourceURI == "" {
			sourceURI = job.SourceIdentifier
		}
		return acquired{
			raw:       fetched.HTML,
			rawName:   "raw.html",
			rawType:   "text/html; charset=utf-8",
			sourceURI: sourceURI,
			article:   article,
		}, "", nil
	}
}

func isHTMLDocument(job knowledge.IngestionJob) bool {
	name := job.OriginalFileName
	if name == "" {
		name = job.SourceIdentifier
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	default:
		return false
	}
}

func (r *Runner) persist(ctx context.Context, job knowledge.IngestionJob, src acquired, cleaned string, enrichment knowledge.Enrichment) (knowledge.PersistedObject, string, error) {
	var zero knowledge.PersistedObject
	objectID, err := r.deps.IDs.NewID()
	if err != nil {
		return zero, "", fmt.Errorf("generate object id: %w", err)
	}
	digest, err := r.deps.Hasher.Hash([]byte(cleaned))
	if err != nil {
		return zero, "", fmt.Errorf("hash cleaned content: %w", err)
	}
	// Snippet jobs carry no raw artifact, only the cleaned text.
	var rawURI string
	if src.raw != "" {
		rawURI, err = r.deps.Blobs.PutObject(ctx, r.blobPath(objectID, src.rawName), src.rawType, []byte(src.raw))
		if err != nil {
			return zero, "", knowledge.WrapError(knowledge.KindStorageError, "store raw blob", err)
		}
	}
	cleanURI, err := r.deps.Blobs.PutObject(ctx, r.blobPath(objectID, "clean.txt"), "text/plain; charset=utf-8", []byte(cleaned))
	if err != nil {
		return zero, "", knowledge.WrapError(knowledge.KindStorageError, "store clean blob", err)
	}

	now := r.deps.Clock.Now()
	obj := knowledge.PersistedObject{
		ID:           objectID,
		Type:         job.JobType,
		SourceURI:    src.sourceURI,
		Title:        src.article.Title,
		Status:       knowledge.ObjectStatusReady,
		RawBlobURI:   rawURI,
		CleanBlobURI: cleanURI,
		CleanedText:  cleaned,
		Summary:      enrichment.Summary,
		Claims:       enrichment.Claims,
		Tags:         enrichment.Tags,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.deps.Objects.CreateObject(ctx, obj); err != nil {
		return zero, "", knowledge.WrapError(knowledge.KindStorageError, "create object", err)
	}
	if err := r.deps.Jobs.SetRelatedObject(ctx, job.ID, objectID); err != nil {
		return zero, "", knowledge.WrapError(knowledge.KindStorageError, "link object to job", err)
	}
	return obj, digest, nil
}

func (r *Runner) publishVectorize(ctx context.Context, job knowledge.IngestionJob, obj knowledge.PersistedObject, digest string) error {
	payload := map[string]any{
		"job_id":         job.ID,
		"object_id":      obj.ID,
		"source_uri":     obj.SourceURI,
		"title":          obj.Title,
		"clean_blob_uri": obj.CleanBlobURI,
		"content_hash":   digest,
		"published_at":   r.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	msgID, err := r.deps.Publisher.Publish(ctx, r.cfg.VectorizeTopic, payload)
	if err != nil {
		return fmt.Errorf("publish vectorize event: %w", err)
	}
	r.logger.Debug("vectorize event published",
		zap.String("job_id", job.ID),
		zap.String("object_id", obj.ID),
		zap.String("message_id", msgID),
	)
	return nil
}

// CompleteVectorization marks a handed-off job completed. The vectorization
// pipeline calls this once the record is durably indexed.
func (r *Runner) CompleteVectorization(ctx context.Context, jobID string) error {
	return r.deps.Jobs.UpdateStatus(ctx, jobID, knowledge.StatusCompleted)
}

// Cancel moves a non-terminal job to cancelled and frees its source slot.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	if err := r.deps.Jobs.UpdateStatus(ctx, jobID, knowledge.StatusCancelled); err != nil {
		return knowledge.WrapError(knowledge.KindStorageError, "cancel job", err)
	}
	r.inflight.Release(job.SourceIdentifier, job.ID)
	return nil
}

// setStatus records an intermediate lifecycle transition. Failures are logged
// and swallowed so a flaky store does not abort an otherwise healthy run.
func (r *Runner) setStatus(ctx context.Context, jobID string, status knowledge.JobStatus) {
	if err := r.deps.Jobs.UpdateStatus(ctx, jobID, status); err != nil {
		r.logger.Warn("status update failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// setProgress is best-effort telemetry: store failures are logged, never
// propagated.
func (r *Runner) setProgress(ctx context.Context, job knowledge.IngestionJob, stage string, percent int, msg string) {
	p := knowledge.Progress{Stage: stage, Percent: percent, Message: msg}
	if err := r.deps.Jobs.UpdateProgress(ctx, job.ID, p); err != nil {
		r.logger.Debug("progress update failed",
			zap.String("job_id", job.ID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
	r.emit(progress.Event{
		JobID:         job.ID,
		TS:            r.deps.Clock.Now(),
		Stage:         progress.StageJobStage,
		JobType:       string(job.JobType),
		Source:        job.SourceIdentifier,
		PipelineStage: stage,
		Percent:       percent,
	})
}

func (r *Runner) emit(evt progress.Event) {
	if r.deps.Progress == nil {
		return
	}
	r.deps.Progress.Emit(evt)
}

func (r *Runner) blobPath(objectID, name string) string {
	if r.cfg.BlobPrefix == "" {
		return path.Join("objects", objectID, name)
	}
	return path.Join(r.cfg.BlobPrefix, objectID, name)
}
