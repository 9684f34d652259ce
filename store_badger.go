package conductor

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "workflow:"

// BadgerStore persists workflow records in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger database at the given path.
// Callers own the returned store and must Close it.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreWithDB wraps an existing badger database.
func NewBadgerStoreWithDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(workflowID string) []byte {
	return []byte(badgerKeyPrefix + workflowID)
}

func (s *BadgerStore) Put(ctx context.Context, workflowID string, record []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(workflowID), record)
	})
	if err != nil {
		return &PersistenceError{Op: "put", WorkflowID: workflowID, Err: err}
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, workflowID string) ([]byte, error) {
	var record []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(workflowID))
		if err != nil {
			return err
		}
		record, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", WorkflowID: workflowID, Err: err}
	}
	return record, nil
}

func (s *BadgerStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, key[len(badgerKeyPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return ids, nil
}

func (s *BadgerStore) Delete(ctx context.Context, workflowID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(workflowID))
	})
	if err != nil {
		return &PersistenceError{Op: "delete", WorkflowID: workflowID, Err: err}
	}
	return nil
}
