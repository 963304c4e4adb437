package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// ObjectStore keeps persisted objects in memory.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]knowledge.PersistedObject
}

// NewObjectStore constructs an ObjectStore.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]knowledge.PersistedObject)}
}

// CreateObject stores a new object. Creating the same ID twice is an error.
func (s *ObjectStore) CreateObject(_ context.Context, obj knowledge.PersistedObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[obj.ID]; exists {
		return errors.New("object already exists")
	}
	s.objects[obj.ID] = obj
	return nil
}

// UpdateObject replaces an existing object and stamps updated_at.
func (s *ObjectStore) UpdateObject(_ context.Context, obj knowledge.PersistedObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[obj.ID]; !exists {
		return errors.New("object not found")
	}
	obj.UpdatedAt = time.Now().UTC()
	s.objects[obj.ID] = obj
	return nil
}

// GetObject fetches an object by ID.
func (s *ObjectStore) GetObject(_ context.Context, objectID string) (knowledge.PersistedObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectID]
	if !ok {
		return knowledge.PersistedObject{}, errors.New("object not found")
	}
	return obj, nil
}
