// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
)

// MessageStore implements storage.MessageStore for BadgerDB.
type MessageStore struct {
	backend *Backend
	idSeq   *badger.Sequence
	now     func() time.Time
}

var _ storage.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a new MessageStore.
func NewMessageStore(backend *Backend) (*MessageStore, error) {
	idSeq, err := backend.GetSequence(messageIDSeq)
	if err != nil {
		return nil, err
	}

	return &MessageStore{
		backend: backend,
		idSeq:   idSeq,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the ID sequence. The backend is closed by its owner.
func (s *MessageStore) Close() error {
	return s.idSeq.Release()
}

// Insert stores text as a new message with a sequence-assigned ID.
func (s *MessageStore) Insert(ctx context.Context, text string) (*core.StoredMessage, error) {
	return s.insertAt(ctx, text, s.now())
}

func (s *MessageStore) insertAt(ctx context.Context, text string, createdAt time.Time) (*core.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var msg *core.StoredMessage
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		nextID, err := s.idSeq.Next()
		if err != nil {
			return err
		}
		// BadgerDB sequences can return 0 on first call, so we skip it
		if nextID == 0 {
			nextID, err = s.idSeq.Next()
			if err != nil {
				return err
			}
		}

		msg = &core.StoredMessage{
			ID:        core.ID(nextID),
			Text:      text,
			CreatedAt: createdAt.Truncate(time.Microsecond),
		}

		if err := tx.Set(makeMessageKey(msg.ID), storage.MarshalStoredMessage(msg)); err != nil {
			return err
		}
		if err := tx.Set(makeMessageDateKey(msg.CreatedAt, msg.ID), storage.MarshalID(msg.ID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Get retrieves a single message by ID.
func (s *MessageStore) Get(ctx context.Context, id core.ID) (*core.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result *core.StoredMessage
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readMessage(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// List returns every stored message ordered by creation time.
func (s *MessageStore) List(ctx context.Context) ([]*core.StoredMessage, error) {
	return s.ListSince(ctx, time.UnixMicro(0))
}

// ListSince returns messages created at or after since, ordered by creation time.
func (s *MessageStore) ListSince(ctx context.Context, since time.Time) ([]*core.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*core.StoredMessage, 0)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		prefix := []byte(messageDatePrefix + ":")
		iter := tx.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()

		for iter.Seek(makePartialMessageDateKey(since)); iter.ValidForPrefix(prefix); iter.Next() {
			var id core.ID
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				id, err = storage.UnmarshalID(val)
				return err
			}); err != nil {
				return err
			}

			msg, err := readMessage(tx, id)
			if err != nil {
				return err
			}
			if msg != nil {
				results = append(results, msg)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func readMessage(tx *badger.Txn, id core.ID) (*core.StoredMessage, error) {
	item, err := tx.Get(makeMessageKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msg *core.StoredMessage
	err = item.Value(func(val []byte) error {
		var err error
		msg, err = storage.UnmarshalStoredMessage(val)
		return err
	})
	return msg, err
}
