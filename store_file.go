package conductor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// FileStore persists one JSON document per workflow under a data directory.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file-backed store rooted at dataDir. An empty
// dataDir defaults to ~/.conductor/workflows.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".conductor", "workflows")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) recordPath(workflowID string) string {
	return filepath.Join(s.dataDir, workflowID+".json")
}

func (s *FileStore) Put(ctx context.Context, workflowID string, record []byte) error {
	// Write-then-rename so a concurrent reader never observes a partial record.
	path := s.recordPath(workflowID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, record, 0644); err != nil {
		return &PersistenceError{Op: "put", WorkflowID: workflowID, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &PersistenceError{Op: "put", WorkflowID: workflowID, Err: err}
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, workflowID string) ([]byte, error) {
	data, err := os.ReadFile(s.recordPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get", WorkflowID: workflowID, Err: err}
	}
	return data, nil
}

func (s *FileStore) ListIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *FileStore) Delete(ctx context.Context, workflowID string) error {
	if err := os.Remove(s.recordPath(workflowID)); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "delete", WorkflowID: workflowID, Err: err}
	}
	return nil
}

// encodeState and decodeState define the persisted record layout. Timestamps
// serialize as RFC 3339 so records stay sortable as text.
func encodeState(state *WorkflowState) ([]byte, error) {
	return json.MarshalIndent(state, "", "  ")
}

func decodeState(record []byte) (*WorkflowState, error) {
	var state WorkflowState
	if err := json.Unmarshal(record, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
