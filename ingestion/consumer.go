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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/dedupe"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/queue"
	"github.com/poiesic/maildigest/reindex"
	"github.com/poiesic/maildigest/storage"
)

// Outcome records how a single delivery was settled.
type Outcome string

const (
	// OutcomeIndexed: stored, embedded and upserted; acked.
	OutcomeIndexed Outcome = "indexed"
	// OutcomeStoredNotIndexed: stored but embedding or upsert failed; acked.
	OutcomeStoredNotIndexed Outcome = "stored_not_indexed"
	// OutcomeStoredBlank: stored with no text to embed; acked.
	OutcomeStoredBlank Outcome = "stored_blank"
	// OutcomeSkipped: unknown message type; acked without a write.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate: already processed per the dedup marker; acked without a write.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected: undecodable payload, or delivered too many times; rejected.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetried: store insert failed or the worker panicked; requeued.
	OutcomeRetried Outcome = "retried"
)

const (
	excerptLen           = 200
	defaultBatchSize     = 32
	defaultInsertRetries = 3
	defaultInsertDelay   = 200 * time.Millisecond
	defaultMaxDeliveries = 5
)

// BatchReport counts outcomes for one ProcessBatch call.
type BatchReport struct {
	Total    int
	Outcomes map[Outcome]int
}

// Count returns the number of deliveries settled with outcome o.
func (r BatchReport) Count(o Outcome) int {
	return r.Outcomes[o]
}

// Consumer drains the ingestion queue into the message store and vector index.
type Consumer struct {
	store     storage.MessageStore
	index     storage.VectorIndex
	embedder  ai.Embedder
	deduper   dedupe.Deduper
	pool      *ants.Pool
	batchSize int
	logger    *slog.Logger

	insertRetries int
	insertDelay   time.Duration
	maxDeliveries int
}

// Option configures a Consumer.
type Option func(*Consumer) error

// WithPoolSize sets the worker pool size for concurrent per-message processing.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(c *Consumer) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if c.pool != nil {
			c.pool.Release()
		}
		c.pool = pool
		return nil
	}
}

// WithBatchSize sets how many deliveries Run pulls per batch. Default 32.
func WithBatchSize(size int) Option {
	return func(c *Consumer) error {
		if size < 1 {
			size = 1
		}
		c.batchSize = size
		return nil
	}
}

// WithInsertRetry sets how many times one delivery tries the store insert,
// and the delay before the second try, doubled for each one after.
// Default is 3 attempts starting at 200ms.
func WithInsertRetry(attempts int, delay time.Duration) Option {
	return func(c *Consumer) error {
		if attempts < 1 {
			attempts = 1
		}
		c.insertRetries = attempts
		c.insertDelay = delay
		return nil
	}
}

// WithMaxDeliveries caps how often a message is handed back to the queue.
// A delivery that fails on its nth attempt is rejected instead of retried.
// Default is 5.
func WithMaxDeliveries(n int) Option {
	return func(c *Consumer) error {
		if n < 1 {
			n = 1
		}
		c.maxDeliveries = n
		return nil
	}
}

// WithDeduper enables processed-message markers. Without one, redeliveries
// are processed again.
func WithDeduper(d dedupe.Deduper) Option {
	return func(c *Consumer) error {
		c.deduper = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "consumer")
		return nil
	}
}

// NewConsumer creates a Consumer. Call Release when done.
func NewConsumer(store storage.MessageStore, index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Consumer, error) {
	if store == nil {
		return nil, ErrMessageStoreRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU()
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		store:     store,
		index:     index,
		embedder:  embedder,
		pool:      pool,
		batchSize: defaultBatchSize,
		logger:    slog.Default().With("component", "consumer"),

		insertRetries: defaultInsertRetries,
		insertDelay:   defaultInsertDelay,
		maxDeliveries: defaultMaxDeliveries,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

// Release releases the worker pool.
// The consumer should not be used after calling Release.
func (c *Consumer) Release() {
	if c.pool != nil {
		c.pool.Release()
	}
}

// Run pulls batches from source and processes them until ctx is cancelled or
// the source is closed. Every received delivery is settled before Run returns.
func (c *Consumer) Run(ctx context.Context, source queue.Source) error {
	c.logger.Info("consumer started", "batch_size", c.batchSize, "workers", c.pool.Cap())
	for {
		batch, err := source.Receive(ctx, c.batchSize)
		if len(batch) > 0 {
			report := c.ProcessBatch(context.WithoutCancel(ctx), batch)
			c.logger.Debug("batch processed", "total", report.Total, "outcomes", report.Outcomes)
		}
		switch {
		case ctx.Err() != nil:
			c.logger.Info("consumer stopped")
			return nil
		case errors.Is(err, queue.ErrClosed):
			c.logger.Info("queue closed, consumer stopped")
			return nil
		case err != nil:
			c.logger.Error("failed to receive batch", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessBatch processes every delivery concurrently and waits for all of them.
// One delivery's failure never affects its siblings.
func (c *Consumer) ProcessBatch(ctx context.Context, deliveries []queue.Delivery) BatchReport {
	report := BatchReport{Total: len(deliveries), Outcomes: make(map[Outcome]int)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(o Outcome) {
		mu.Lock()
		report.Outcomes[o]++
		mu.Unlock()
	}

	for _, d := range deliveries {
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			record(c.handle(ctx, d))
		})
		if err != nil {
			wg.Done()
			c.logger.Error("failed to schedule delivery, requeueing", "id", d.ID(), "err", err)
			c.settle(d, OutcomeRetried, d.Retry)
			record(OutcomeRetried)
		}
	}
	wg.Wait()
	return report
}

// handle runs the per-message sequence and settles the delivery.
func (c *Consumer) handle(ctx context.Context, d queue.Delivery) (outcome Outcome) {
	start := time.Now()
	logger := c.logger.With("delivery_id", d.ID())
	var markerKey string

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing message",
				"panic", r,
				"attempt", d.Attempts(),
				"excerpt", excerpt(d.Body()))
			if markerKey != "" {
				c.deduper.Release(ctx, markerKey)
			}
			outcome = c.retryOrReject(logger, d)
		}
		metrics.RecordConsumerOutcome(string(outcome), time.Since(start))
	}()

	msg, err := queue.Decode(d.Body())
	if err != nil {
		logger.Error("malformed queue payload, rejecting", "excerpt", excerpt(d.Body()), "err", err)
		return c.settle(d, OutcomeRejected, d.Reject)
	}
	if err := core.ValidateQueuedMessage(msg); err != nil {
		logger.Warn("skipping message", "type", msg.Type, "err", err)
		return c.settle(d, OutcomeSkipped, d.Ack)
	}

	if c.deduper != nil {
		key := dedupe.Key(d.ID(), d.Body())
		if !c.deduper.AcquireOnce(ctx, key) {
			return c.settle(d, OutcomeDuplicate, d.Ack)
		}
		markerKey = key
	}

	var stored *core.StoredMessage
	err = reindex.RetryWithBackoff(ctx, func() error {
		var insertErr error
		stored, insertErr = c.store.Insert(ctx, msg.Body)
		return insertErr
	}, c.insertRetries, c.insertDelay)
	if err != nil {
		logger.Error("failed to store message",
			"attempt", d.Attempts(),
			"excerpt", excerpt(d.Body()),
			"err", err)
		if markerKey != "" {
			c.deduper.Release(ctx, markerKey)
		}
		return c.retryOrReject(logger, d)
	}
	logger = logger.With("message_id", stored.ID)

	if !stored.Embeddable() {
		logger.Warn("message has no text to embed, stored without indexing")
		return c.settle(d, OutcomeStoredBlank, d.Ack)
	}

	if err := c.indexMessage(ctx, stored); err != nil {
		logger.Error("message stored but not indexed", "err", err)
		return c.settle(d, OutcomeStoredNotIndexed, d.Ack)
	}

	logger.Debug("message indexed")
	return c.settle(d, OutcomeIndexed, d.Ack)
}

func (c *Consumer) indexMessage(ctx context.Context, stored *core.StoredMessage) error {
	vectors, err := c.embedder.EmbedTexts(ctx, []string{stored.Text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: %w: expected 1, received %d", ai.ErrEmbeddingCount, len(vectors))
	}
	if err := c.index.Upsert(ctx, core.NewEmbedding(stored.ID, vectors[0])); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// retryOrReject hands d back to the queue, or dead-letters it once it has
// been delivered maxDeliveries times.
func (c *Consumer) retryOrReject(logger *slog.Logger, d queue.Delivery) Outcome {
	if d.Attempts() >= c.maxDeliveries {
		logger.Error("delivery limit reached, rejecting",
			"attempts", d.Attempts(),
			"max_deliveries", c.maxDeliveries,
			"excerpt", excerpt(d.Body()))
		return c.settle(d, OutcomeRejected, d.Reject)
	}
	return c.settle(d, OutcomeRetried, d.Retry)
}

// settle applies the settlement action and logs, but does not propagate, its failure.
func (c *Consumer) settle(d queue.Delivery, outcome Outcome, action func() error) Outcome {
	if err := action(); err != nil {
		c.logger.Error("failed to settle delivery",
			"delivery_id", d.ID(),
			"outcome", outcome,
			"excerpt", excerpt(d.Body()),
			"err", err)
	}
	return outcome
}

// excerpt returns at most excerptLen runes of body for log context.
func excerpt(body []byte) string {
	if utf8.RuneCount(body) <= excerptLen {
		return string(body)
	}
	runes := []rune(string(body))
	return string(runes[:excerptLen]) + "..."
}
