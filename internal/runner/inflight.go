package runner

import "sync"

// inflightSet tracks source identifiers with a live job (queued or running).
// It is the only mutual exclusion between duplicate ingestion requests, so it
// is checked both at enqueue time and again when a worker claims a job.
type inflightSet struct {
	mu     sync.Mutex
	owners map[string]string
}

func newInflightSet() *inflightSet {
	return &inflightSet{owners: make(map[string]string)}
}

// TryAcquire claims source for jobID. It succeeds when the source is unclaimed
// or already claimed by the same job, so a worker re-claiming the job it
// enqueued (or a retry of it) is idempotent.
func (s *inflightSet) TryAcquire(source, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.owners[source]; ok && owner != jobID {
		return false
	}
	s.owners[source] = jobID
	return true
}

// Release frees the source slot if jobID still owns it.
func (s *inflightSet) Release(source, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[source] == jobID {
		delete(s.owners, source)
	}
}
