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


package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/storage"
)

const DefaultBatchSize = 100

// Config holds configuration for a sweep.
type Config struct {
	// BatchSize is the number of messages embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of messages)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embed and upsert call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Report summarizes one sweep.
type Report struct {
	Scanned int // stored messages checked
	Missing int // messages without a vector at the start of the sweep
	Indexed int
	Failed  int
	Skipped int // blank messages, never sent to the embedder
}

// Sweeper finds stored messages without an index entry and indexes them.
type Sweeper struct {
	store    storage.MessageStore
	index    storage.VectorIndex
	embedder ai.Embedder
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A nil config uses DefaultConfig; progress
// receives human readable output and may be nil.
func NewSweeper(store storage.MessageStore, index storage.VectorIndex, embedder ai.Embedder, config *Config, progress io.Writer) (*Sweeper, error) {
	if store == nil {
		return nil, ErrMessageStoreRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Sweeper{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reindex"),
	}, nil
}

// Run indexes every stored message that has no vector. A batch that still
// fails after retries is logged and skipped, and Run returns ErrIncomplete
// together with the report once all batches were attempted.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var report Report

	messages, err := s.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list messages: %w", err)
	}
	report.Scanned = len(messages)

	unindexed, err := s.unindexed(ctx, messages)
	if err != nil {
		return report, err
	}
	report.Missing = len(unindexed)

	var pending []*core.StoredMessage
	for _, m := range unindexed {
		if !m.Embeddable() {
			s.logger.Debug("skipping blank message", "id", m.ID)
			report.Skipped++
			continue
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		fmt.Fprintf(s.progress, "Vector index is complete (%d messages checked, %d blank)\n", report.Scanned, report.Skipped)
		return report, nil
	}

	fmt.Fprintf(s.progress, "Reindexing %d of %d messages (batch size: %d)\n",
		len(pending), report.Scanned, s.config.BatchSize)

	tracker := NewProgressTracker(s.progress, len(pending), s.config.ReportInterval)
	tracker.Start()

	for batch := range slices.Chunk(pending, s.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := s.indexBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Warn("batch could not be indexed",
				"first_id", batch[0].ID,
				"size", len(batch),
				"err", err)
			report.Failed += len(batch)
		} else {
			report.Indexed += len(batch)
			metrics.AddReindexed(len(batch))
		}
		tracker.Add(len(batch))
	}

	tracker.Finish()
	elapsed := tracker.Elapsed()
	fmt.Fprintf(s.progress, "Reindex complete. Indexed %d messages, %d failed, %d blank skipped, in %v\n",
		report.Indexed, report.Failed, report.Skipped, elapsed.Round(time.Millisecond))

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrIncomplete, report.Failed, report.Missing)
	}
	return report, nil
}

// unindexed returns the messages whose id has no vector in the index.
func (s *Sweeper) unindexed(ctx context.Context, messages []*core.StoredMessage) ([]*core.StoredMessage, error) {
	var pending []*core.StoredMessage
	for batch := range slices.Chunk(messages, s.config.BatchSize) {
		byID := make(map[string]*core.StoredMessage, len(batch))
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID.String()
			byID[ids[i]] = m
		}

		missing, err := s.index.Missing(ctx, ids...)
		if err != nil {
			return nil, fmt.Errorf("failed to check vector index: %w", err)
		}
		for _, id := range missing {
			pending = append(pending, byID[id])
		}
	}
	return pending, nil
}

// indexBatch embeds batch, normalizes the vectors and upserts them.
func (s *Sweeper) indexBatch(ctx context.Context, batch []*core.StoredMessage) error {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.Text
	}

	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return Permanent(fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingCount, len(batch), len(vectors)))
		}
		return nil
	}, s.config.MaxRetries, s.config.RetryDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([]core.Embedding, len(batch))
	for i, m := range batch {
		embeddings[i] = core.NewEmbedding(m.ID, NormalizeVector(vectors[i]))
	}

	err = RetryWithBackoff(ctx, func() error {
		return s.index.Upsert(ctx, embeddings...)
	}, s.config.MaxRetries, s.config.RetryDelay)
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}
