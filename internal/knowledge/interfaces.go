package knowledge

import (
	"context"
	"time"
)

// JobStore persists ingestion jobs. It is the single source of truth for job
// state; status, attempts, and progress for one job are updated together.
type JobStore interface {
	CreateJob(ctx context.Context, job IngestionJob) error
	GetJob(ctx context.Context, jobID string) (IngestionJob, error)
	// UpdateStatus moves a job to the given status and stamps updated_at.
	// Terminal statuses also stamp completed_at.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) error
	// UpdateProgress writes the progress record. Callers treat failures as
	// best-effort telemetry, not correctness signals.
	UpdateProgress(ctx context.Context, jobID string, p Progress) error
	// RecordFailure increments the attempt count, stores the structured error
	// payload, and moves the job to status (retry_pending or failed).
	// nextAttemptAt is set only for retry_pending.
	RecordFailure(ctx context.Context, jobID string, info ErrorInfo, failedStage string, status JobStatus, nextAttemptAt *time.Time) error
	// SetRelatedObject links the job to the persisted object it produced.
	SetRelatedObject(ctx context.Context, jobID string, objectID string) error
	// DueJobs returns up to limit jobs that are queued, or retry_pending with
	// next_attempt_at <= now, ordered by priority then creation time.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]IngestionJob, error)
}

// ObjectStore persists ingested items. The pipeline only reads and writes
// through this interface; ownership lives with the persistence collaborator.
type ObjectStore interface {
	CreateObject(ctx context.Context, obj PersistedObject) error
	UpdateObject(ctx context.Context, obj PersistedObject) error
	GetObject(ctx context.Context, objectID string) (PersistedObject, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes vectorize-handoff events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns decoded HTML plus the final URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Extractor turns HTML into a readable article. A nil result with a nil
// error means the page had no extractable content.
type Extractor interface {
	Extract(ctx context.Context, html string, url string) (*ExtractionResult, error)
}

// Summarizer is the external generative-text collaborator for the enrich
// stage. Its internals are out of scope.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Enrichment, error)
}

// Embedder produces a similarity vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorQuery scopes a local similarity search.
type VectorQuery struct {
	Layers    []MemoryLayer
	Limit     int
	Threshold float64
}

// VectorStore is the local similarity store queried by the federator.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, q VectorQuery) ([]VectorHit, error)
	// TouchAccess bumps last_accessed_at on the given records.
	TouchAccess(ctx context.Context, ids []string) error
}

// WebSearcher queries the external web-search provider.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]WebResult, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and object IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
