package conductor

import (
	"context"
	"sort"
	"sync"
)

// Store is the durable key/value contract for workflow records. The record
// layout is an opaque byte slice to the store; the state machine owns the
// encoding.
type Store interface {

	// Put writes the record for a workflow ID, replacing any prior record.
	Put(ctx context.Context, workflowID string, record []byte) error

	// Get reads the record for a workflow ID. Returns ErrNotFound if the
	// workflow does not exist.
	Get(ctx context.Context, workflowID string) ([]byte, error)

	// ListIDs enumerates all persisted workflow IDs.
	ListIDs(ctx context.Context) ([]string, error)

	// Delete removes the record for a workflow ID. Deleting a missing
	// record is not an error; retention policy lives outside the core.
	Delete(ctx context.Context, workflowID string) error
}

// MemoryStore is a map-backed Store for tests and ephemeral runs.
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]byte{}}
}

func (s *MemoryStore) Put(ctx context.Context, workflowID string, record []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := make([]byte, len(record))
	copy(stored, record)
	s.records[workflowID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, workflowID string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(record))
	copy(out, record)
	return out, nil
}

func (s *MemoryStore) ListIDs(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Delete(ctx context.Context, workflowID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.records, workflowID)
	return nil
}
