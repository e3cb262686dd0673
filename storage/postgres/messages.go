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


package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/storage"
)

// MessageStore implements storage.MessageStore on the messages table.
type MessageStore struct {
	pool *pgxpool.Pool
}

var _ storage.MessageStore = (*MessageStore)(nil)

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Insert relies on BIGSERIAL and the created_at default for ID and timestamp assignment.
func (s *MessageStore) Insert(ctx context.Context, text string) (*core.StoredMessage, error) {
	defer observe("insert", time.Now())

	query := `
        INSERT INTO messages (message)
        VALUES ($1)
        RETURNING id, message, created_at
    `
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, text))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) Get(ctx context.Context, id core.ID) (*core.StoredMessage, error) {
	defer observe("get", time.Now())

	query := `
        SELECT id, message, created_at
        FROM messages
        WHERE id = $1
    `
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, nil
}

func (s *MessageStore) List(ctx context.Context) ([]*core.StoredMessage, error) {
	defer observe("list", time.Now())

	query := `
        SELECT id, message, created_at
        FROM messages
        ORDER BY created_at, id
    `
	return s.query(ctx, query)
}

func (s *MessageStore) ListSince(ctx context.Context, since time.Time) ([]*core.StoredMessage, error) {
	defer observe("list_since", time.Now())

	query := `
        SELECT id, message, created_at
        FROM messages
        WHERE created_at >= $1
        ORDER BY created_at, id
    `
	return s.query(ctx, query, since)
}

// Close is a no-op; the pool is closed by its owner.
func (s *MessageStore) Close() error {
	return nil
}

func (s *MessageStore) query(ctx context.Context, query string, args ...any) ([]*core.StoredMessage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	results := make([]*core.StoredMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return results, nil
}

func scanMessage(row pgx.Row) (*core.StoredMessage, error) {
	var (
		id  int64
		msg core.StoredMessage
	)
	if err := row.Scan(&id, &msg.Text, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.ID = core.ID(id)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

func observe(operation string, start time.Time) {
	metrics.RecordDBQueryDuration(operation, time.Since(start))
}
