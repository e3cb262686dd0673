package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// MarkerStore records short-lived "already processed" markers with a TTL.
type MarkerStore struct {
	backend *Backend
}

// NewMarkerStore creates a MarkerStore on the shared backend.
func NewMarkerStore(backend *Backend) *MarkerStore {
	return &MarkerStore{backend: backend}
}

// SetIfAbsent writes a marker for key unless one already exists.
// Returns true when this call created the marker. A concurrent writer that
// wins the race causes a transaction conflict, which is reported as false.
func (m *MarkerStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	created := false
	err := m.backend.WithTx(func(tx *badger.Txn) error {
		k := makeMarkerKey(key)
		_, err := tx.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry(k, []byte{1})
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := tx.SetEntry(entry); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		created = true
		return nil
	}, true)
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	return created, err
}

// Delete removes the marker for key. Deleting a missing marker is not an error.
func (m *MarkerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeMarkerKey(key)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
