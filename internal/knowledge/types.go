// Package knowledge defines the core types and interfaces shared by the
// ingestion pipeline and the hybrid retrieval engine.
package knowledge

import "time"

// JobType enumerates the kinds of ingestion work the runner accepts.
type JobType string

// Job types persisted in the job store.
const (
	JobTypePageFetch     JobType = "page-fetch"
	JobTypeDocumentFetch JobType = "document-fetch"
	JobTypeSnippet       JobType = "snippet"
)

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

// Job status values. Transitions are monotonic along the pipeline except for
// the retry loop (processing -> retry_pending -> processing).
const (
	StatusQueued         JobStatus = "queued"
	StatusProcessing     JobStatus = "processing_source"
	StatusParsing        JobStatus = "parsing_content"
	StatusAIProcessing   JobStatus = "ai_processing"
	StatusPersisting     JobStatus = "persisting_data"
	StatusVectorizing    JobStatus = "vectorizing"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
	StatusRetryPending   JobStatus = "retry_pending"
	StatusCancelled      JobStatus = "cancelled"
)

// IsTerminal reports whether a status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress records per-stage advancement within a job. Percent is
// monotonically non-decreasing within one job run.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo is the size-bounded structured error payload retained on a job.
type ErrorInfo struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Context   map[string]string `json:"context,omitempty"`
	Stack     string            `json:"stack,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// IngestionJob is the durable record of one ingestion request. Jobs are never
// deleted, only terminally marked, so the store doubles as an audit trail.
type IngestionJob struct {
	ID               string            `json:"id"`
	JobType          JobType           `json:"job_type"`
	SourceIdentifier string            `json:"source_identifier"`
	OriginalFileName string            `json:"original_file_name,omitempty"`
	Status           JobStatus         `json:"status"`
	Priority         int               `json:"priority"`
	Attempts         int               `json:"attempts"`
	LastAttemptAt    *time.Time        `json:"last_attempt_at,omitempty"`
	NextAttemptAt    *time.Time        `json:"next_attempt_at,omitempty"`
	Progress         *Progress         `json:"progress,omitempty"`
	ErrorInfo        *ErrorInfo        `json:"error_info,omitempty"`
	FailedStage      string            `json:"failed_stage,omitempty"`
	JobSpecificData  map[string]string `json:"job_specific_data,omitempty"`
	RelatedObjectID  string            `json:"related_object_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// FetchResult is the decoded output of a bounded fetch. It is owned by the
// call that produced it and never persisted as-is.
type FetchResult struct {
	HTML     string
	FinalURL string
}

// ExtractionResult carries the readable article pulled from fetched HTML.
// A nil result (distinct from an error) means the page had no extractable
// content.
type ExtractionResult struct {
	Title    string
	Content  string
	Length   int
	Byline   string
	SiteName string
}

// ObjectStatus tracks a persisted object's processing state.
type ObjectStatus string

// Object status values.
const (
	ObjectStatusIngesting ObjectStatus = "ingesting"
	ObjectStatusReady     ObjectStatus = "ready"
	ObjectStatusFailed    ObjectStatus = "failed"
)

// PersistedObject is one ingested item as stored by the object store.
type PersistedObject struct {
	ID          string       `json:"id"`
	Type        JobType      `json:"type"`
	SourceURI   string       `json:"source_uri"`
	Title       string       `json:"title"`
	Status      ObjectStatus `json:"status"`
	RawBlobURI  string       `json:"raw_blob_uri,omitempty"`
	CleanBlobURI string      `json:"clean_blob_uri,omitempty"`
	CleanedText string       `json:"cleaned_text"`
	Summary     string       `json:"summary,omitempty"`
	Claims      []string     `json:"claims,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// MemoryLayer identifies which memory tier a vector record belongs to.
type MemoryLayer string

// Memory layers, ordered roughly by durability.
const (
	LayerIntentStream MemoryLayer = "intent-stream"
	LayerWorking      MemoryLayer = "working"
	LayerLongTerm     MemoryLayer = "long-term"
	LayerOntological  MemoryLayer = "ontological"
)

// ProcessingDepth describes how much of an object a vector record covers.
type ProcessingDepth string

// Processing depths.
const (
	DepthTitle   ProcessingDepth = "title"
	DepthSummary ProcessingDepth = "summary"
	DepthChunk   ProcessingDepth = "chunk"
)

// VectorRecord is one row in the similarity store. Vector may be absent only
// for depth "title" or layer "intent-stream". LastAccessedAt moves on access,
// never on creation.
type VectorRecord struct {
	ID             string          `json:"id"`
	Layer          MemoryLayer     `json:"layer"`
	Depth          ProcessingDepth `json:"depth"`
	Vector         []float32       `json:"vector,omitempty"`
	Content        string          `json:"content,omitempty"`
	ObjectID       string          `json:"object_id"`
	ChunkID        string          `json:"chunk_id,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Claims         []string        `json:"claims,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
}

// SearchSource identifies which federated source produced a hit.
type SearchSource string

// Search sources.
const (
	SourceExternal SearchSource = "external"
	SourceLocal    SearchSource = "local"
)

// VectorHit is a scored match returned by the local vector store.
type VectorHit struct {
	ID             string
	ObjectID       string
	ChunkID        string
	Title          string
	SourceURI      string
	Content        string
	Score          float64
	Layer          MemoryLayer
	LastAccessedAt time.Time
	Claims         []string
}

// WebResult is one hit from the external web-search provider.
type WebResult struct {
	Title   string
	URL     string
	Snippet string
	Score   float64
}

// HybridSearchResult is the merged, ranked output of a federated search.
// Produced fresh per query; never persisted.
type HybridSearchResult struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	URL        string       `json:"url"`
	Content    string       `json:"content"`
	Score      float64      `json:"score"`
	Source     SearchSource `json:"source"`
	ObjectID   string       `json:"object_id,omitempty"`
	ChunkID    string       `json:"chunk_id,omitempty"`
	Layer      MemoryLayer  `json:"layer,omitempty"`
	Highlights []string     `json:"highlights,omitempty"`
	Claims     []string     `json:"claims,omitempty"`
}

// SearchOptions controls one federated query.
type SearchOptions struct {
	NumResults          int
	LocalWeight         float64
	ExternalWeight      float64
	Deduplicate         bool
	SimilarityThreshold float64
	UseExternal         bool
	Layers              []MemoryLayer
}

// Enrichment is the opaque output of the external summarizer.
type Enrichment struct {
	Summary string
	Tags    []string
	Claims  []string
}
