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


// Package storage provides the storage abstraction layer for maildigest.
//
// Two interfaces decouple persistence from the pipeline:
//
//   - MessageStore: append-only store of processed message text. IDs and
//     timestamps are assigned by the store at insert time.
//   - VectorIndex: embeddings keyed by the decimal string of a message ID.
//
// Implementations live in subpackages: storage/badger (embedded, used by tests and
// single-node deployments) and storage/postgres (pgx with a pgvector column).
//
// The core never updates or deletes stored messages. A message may exist
// without an embedding when indexing failed after the insert; the reindex
// package repairs those gaps.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
package storage
