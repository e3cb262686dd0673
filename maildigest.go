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


// Package maildigest wires the storage, queue, deduplication and AI backends
// selected by a config.Config into the ingestion, summary, search and
// delivery components.
package maildigest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/ai/gemini"
	"github.com/poiesic/maildigest/ai/openai"
	"github.com/poiesic/maildigest/config"
	"github.com/poiesic/maildigest/dedupe"
	"github.com/poiesic/maildigest/delivery"
	"github.com/poiesic/maildigest/httpapi"
	"github.com/poiesic/maildigest/ingestion"
	"github.com/poiesic/maildigest/queue"
	"github.com/poiesic/maildigest/queue/memory"
	"github.com/poiesic/maildigest/queue/rabbitmq"
	"github.com/poiesic/maildigest/reindex"
	"github.com/poiesic/maildigest/search"
	"github.com/poiesic/maildigest/storage"
	"github.com/poiesic/maildigest/storage/badger"
	"github.com/poiesic/maildigest/storage/postgres"
	"github.com/poiesic/maildigest/summary"
	"github.com/redis/go-redis/v9"
)

// App holds the opened backends for one process.
type App struct {
	cfg      *config.Config
	backend  *badger.Backend
	pool     *pgxpool.Pool
	store    storage.MessageStore
	index    storage.VectorIndex
	provider ai.AIProvider
	deduper  dedupe.Deduper
	redis    *redis.Client
	logger   *slog.Logger

	mu        sync.Mutex
	local     localQueue
	publisher queue.Publisher
	source    queue.Source
}

// localQueue is an in-process queue serving as both ends of ingestion.
type localQueue interface {
	queue.Publisher
	queue.Source
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithProvider uses provider instead of building one from the AI config.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open validates cfg and opens the configured backends. Queue connections
// are opened on first use.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	app := &App{cfg: cfg, logger: o.logger}
	if err := app.openStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		var err error
		provider, err = newProvider(ctx, cfg.Provider())
		if err != nil {
			app.Close()
			return nil, err
		}
	}
	app.provider = provider

	if err := app.openDeduper(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func newProvider(ctx context.Context, cfg *ai.Config) (ai.AIProvider, error) {
	if cfg.Backend == ai.BackendGemini {
		return gemini.NewProvider(ctx, cfg)
	}
	return openai.NewProvider(cfg)
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, a.cfg.Storage.DSN, a.cfg.Storage.SlowQueryThreshold, a.logger)
		if err != nil {
			return err
		}
		a.pool = pool
		a.store = postgres.NewMessageStore(pool)
		a.index = postgres.NewVectorIndex(pool)
	default:
		backend, err := badger.OpenBackend(a.cfg.Storage.Path, false)
		if err != nil {
			return err
		}
		a.backend = backend
		store, err := badger.NewMessageStore(backend)
		if err != nil {
			return err
		}
		a.store = store
		a.index = badger.NewVectorIndex(backend, a.cfg.Storage.Dimension)
	}
	return nil
}

func (a *App) openDeduper(ctx context.Context) error {
	switch a.cfg.Dedupe.Backend {
	case config.DedupeRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Dedupe.RedisAddr,
			Password: a.cfg.Dedupe.RedisPassword,
			DB:       a.cfg.Dedupe.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unreachable, dedup will fail open", "addr", a.cfg.Dedupe.RedisAddr, "err", err)
		}
		a.deduper = dedupe.NewRedisDeduper(a.redis, a.cfg.Dedupe.TTL, a.logger)
	case config.DedupeBadger:
		a.deduper = dedupe.NewBadgerDeduper(a.backend, a.cfg.Dedupe.TTL, a.logger)
	}
	return nil
}

// Migrate creates the Postgres schema. It is a no-op for badger.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return postgres.Migrate(ctx, a.pool, a.cfg.Storage.Dimension)
}

// Config returns the configuration the app was opened with.
func (a *App) Config() *config.Config { return a.cfg }

func (a *App) MessageStore() storage.MessageStore { return a.store }

func (a *App) VectorIndex() storage.VectorIndex { return a.index }

func (a *App) Provider() ai.AIProvider { return a.provider }

// UsesLocalQueue reports whether publisher and consumer must share this process.
func (a *App) UsesLocalQueue() bool {
	return a.cfg.Queue.Backend != config.QueueRabbitMQ
}

// Publisher returns the ingestion queue publisher, connecting on first use.
func (a *App) Publisher() (queue.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.publisher != nil {
		return a.publisher, nil
	}
	if a.UsesLocalQueue() {
		q, err := a.localQueue()
		if err != nil {
			return nil, err
		}
		a.publisher = q
		return q, nil
	}
	p, err := rabbitmq.NewPublisher(a.rabbitConfig())
	if err != nil {
		return nil, err
	}
	a.publisher = p
	return p, nil
}

// Source returns the ingestion queue source, connecting on first use.
func (a *App) Source() (queue.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source != nil {
		return a.source, nil
	}
	if a.UsesLocalQueue() {
		q, err := a.localQueue()
		if err != nil {
			return nil, err
		}
		a.source = q
		return q, nil
	}
	s, err := rabbitmq.NewSource(a.rabbitConfig(), a.logger)
	if err != nil {
		return nil, err
	}
	a.source = s
	return s, nil
}

// localQueue must be called with mu held.
func (a *App) localQueue() (localQueue, error) {
	if a.local != nil {
		return a.local, nil
	}
	if a.cfg.Queue.Backend == config.QueueBadger {
		q, err := badger.NewQueue(a.backend, a.cfg.Queue.Capacity, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger queue: %w", err)
		}
		a.local = q
		return q, nil
	}
	a.logger.Warn("using the memory queue: accepted messages are lost if the process exits before they are consumed")
	a.local = memory.New(a.cfg.Queue.Capacity)
	return a.local, nil
}

func (a *App) rabbitConfig() rabbitmq.Config {
	return rabbitmq.Config{
		URL:                a.cfg.Queue.URL,
		Queue:              a.cfg.Queue.Name,
		DeadLetterExchange: a.cfg.Queue.DeadLetterExchange,
		Prefetch:           a.cfg.Queue.Prefetch,
	}
}

func (a *App) NewIngester() (*ingestion.Ingester, error) {
	publisher, err := a.Publisher()
	if err != nil {
		return nil, err
	}
	return ingestion.NewIngester(publisher, ingestion.WithIngesterLogger(a.logger))
}

// NewConsumer builds a consumer with the configured pool size, batch size
// and deduper. Call Release on the result when done.
func (a *App) NewConsumer(opts ...ingestion.Option) (*ingestion.Consumer, error) {
	base := []ingestion.Option{ingestion.WithLogger(a.logger)}
	if a.cfg.Consumer.Workers > 0 {
		base = append(base, ingestion.WithPoolSize(a.cfg.Consumer.Workers))
	}
	if a.cfg.Consumer.BatchSize > 0 {
		base = append(base, ingestion.WithBatchSize(a.cfg.Consumer.BatchSize))
	}
	if a.cfg.Consumer.InsertRetries > 0 {
		base = append(base, ingestion.WithInsertRetry(a.cfg.Consumer.InsertRetries, a.cfg.Consumer.InsertRetryDelay))
	}
	if a.cfg.Consumer.MaxDeliveries > 0 {
		base = append(base, ingestion.WithMaxDeliveries(a.cfg.Consumer.MaxDeliveries))
	}
	if a.deduper != nil {
		base = append(base, ingestion.WithDeduper(a.deduper))
	}
	return ingestion.NewConsumer(a.store, a.index, a.provider.Embedder(), append(base, opts...)...)
}

func (a *App) NewSummarizer() (*summary.Summarizer, error) {
	return summary.NewSummarizer(a.store, a.provider.Completer(),
		summary.WithWindow(a.cfg.Summary.Window),
		summary.WithLogger(a.logger))
}

func (a *App) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(a.store, a.index, a.provider, append([]search.Option{search.WithLogger(a.logger)}, opts...)...)
}

func (a *App) NewSweeper(cfg *reindex.Config, progress io.Writer) (*reindex.Sweeper, error) {
	return reindex.NewSweeper(a.store, a.index, a.provider.Embedder(), cfg, progress)
}

func (a *App) NewMailer() (*delivery.Mailer, error) {
	if err := a.cfg.ValidateMail(); err != nil {
		return nil, err
	}
	m := a.cfg.Mail
	return delivery.NewMailer(delivery.MailerConfig{
		Endpoint:   m.Endpoint,
		APIKey:     m.APIKey,
		From:       m.From,
		FromName:   m.FromName,
		To:         m.To,
		Subject:    m.Subject,
		Timeout:    m.Timeout,
		MaxRetries: m.MaxRetries,
	}, a.logger)
}

// NewScheduler builds the cron scheduler for summary delivery.
func (a *App) NewScheduler() (*delivery.Scheduler, error) {
	summarizer, err := a.NewSummarizer()
	if err != nil {
		return nil, err
	}
	mailer, err := a.NewMailer()
	if err != nil {
		return nil, err
	}
	return delivery.NewScheduler(a.cfg.Mail.Schedule, summarizer, mailer, delivery.WithSchedulerLogger(a.logger))
}

// NewServer builds the HTTP server with ingestion and search enabled.
func (a *App) NewServer() (*httpapi.Server, error) {
	summarizer, err := a.NewSummarizer()
	if err != nil {
		return nil, err
	}
	ingester, err := a.NewIngester()
	if err != nil {
		return nil, err
	}
	searcher, err := a.NewSearcher()
	if err != nil {
		return nil, err
	}
	return httpapi.NewServer(a.store, summarizer,
		httpapi.WithIngester(ingester),
		httpapi.WithSearcher(searcher),
		httpapi.WithLogger(a.logger))
}

// Close releases everything Open and the queue accessors created.
// It returns the first error and logs the rest.
func (a *App) Close() error {
	var errs []error
	closeWith := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Error("error closing "+name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	a.mu.Lock()
	if a.local != nil {
		closeWith("local queue", a.local.Close)
	} else {
		if a.publisher != nil {
			closeWith("queue publisher", a.publisher.Close)
		}
		if a.source != nil {
			closeWith("queue source", a.source.Close)
		}
	}
	a.mu.Unlock()

	if a.provider != nil {
		closeWith("AI provider", a.provider.Close)
	}
	if a.redis != nil {
		closeWith("redis", a.redis.Close)
	}
	if a.index != nil {
		closeWith("vector index", a.index.Close)
	}
	if a.store != nil {
		closeWith("message store", a.store.Close)
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.backend != nil {
		closeWith("backend storage", a.backend.Close)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
