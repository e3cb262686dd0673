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


package storage

import (
	"context"
	"time"

	"github.com/poiesic/maildigest/core"
)

// MessageStore persists processed message text.
// Implementations must be thread-safe and support concurrent access.
type MessageStore interface {
	// Insert stores text as a new message.
	// The store assigns the ID and CreatedAt atomically; concurrent inserts never share an ID.
	Insert(ctx context.Context, text string) (*core.StoredMessage, error)

	// Get retrieves a single message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	Get(ctx context.Context, id core.ID) (*core.StoredMessage, error)

	// List returns every stored message ordered by CreatedAt ascending.
	List(ctx context.Context) ([]*core.StoredMessage, error)

	// ListSince returns messages with CreatedAt >= since, ordered by CreatedAt ascending.
	ListSince(ctx context.Context, since time.Time) ([]*core.StoredMessage, error)

	// Close releases resources held by the store.
	Close() error
}

// VectorIndex stores message embeddings keyed by the message ID string.
type VectorIndex interface {
	// Upsert writes embeddings, replacing any existing entry with the same ID.
	Upsert(ctx context.Context, embeddings ...core.Embedding) error

	// FindSimilar returns entries with similarity >= minSimilarity, up to limit results.
	// Results are ordered by similarity score (highest first).
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.Match, error)

	// Missing returns the subset of ids that have no embedding, preserving input order.
	Missing(ctx context.Context, ids ...string) ([]string, error)

	// Close releases resources held by the index.
	Close() error
}
