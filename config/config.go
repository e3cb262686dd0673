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


// Package config loads maildigest settings from YAML, a .env file and
// MAILDIGEST_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/maildigest/ai"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

// Queue backends. The badger queue persists in the storage directory; the
// memory queue loses everything still queued when the process exits.
const (
	QueueBadger   = "badger"
	QueueMemory   = "memory"
	QueueRabbitMQ = "rabbitmq"
)

// Dedupe backends. The empty string disables deduplication.
const (
	DedupeNone   = ""
	DedupeRedis  = "redis"
	DedupeBadger = "badger"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	AI       AIConfig       `yaml:"ai"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Summary  SummaryConfig  `yaml:"summary"`
	Server   ServerConfig   `yaml:"server"`
	Mail     MailConfig     `yaml:"mail"`
}

// StorageConfig selects the message store and vector index.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path is the badger directory.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN                string        `yaml:"dsn"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// Dimension is the embedding width. Required for postgres, optional for badger.
	Dimension int `yaml:"dimension"`
}

// QueueConfig selects the ingestion queue.
type QueueConfig struct {
	Backend            string `yaml:"backend"`
	URL                string `yaml:"url"`
	Name               string `yaml:"name"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	Prefetch           int    `yaml:"prefetch"`
	// Capacity bounds the badger and memory queues.
	Capacity int `yaml:"capacity"`
}

// DedupeConfig configures processed-message markers.
type DedupeConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// AIConfig mirrors ai.Config with YAML keys.
type AIConfig struct {
	Backend         string  `yaml:"backend"`
	EmbeddingHost   string  `yaml:"embedding_host"`
	CompletionHost  string  `yaml:"completion_host"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	CompletionModel string  `yaml:"completion_model"`
	APIKey          string  `yaml:"api_key"`
	Temperature     float64 `yaml:"temperature"`
}

type ConsumerConfig struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
	// InsertRetries and InsertRetryDelay bound store insert retries within one delivery.
	InsertRetries    int           `yaml:"insert_retries"`
	InsertRetryDelay time.Duration `yaml:"insert_retry_delay"`
	// MaxDeliveries is how often a failing message is delivered before it is dead-lettered.
	MaxDeliveries int `yaml:"max_deliveries"`
}

type SummaryConfig struct {
	// Window limits the summary to recent messages. Zero means all messages.
	Window time.Duration `yaml:"window"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MailConfig configures summary delivery through a transactional mail API.
type MailConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	From       string        `yaml:"from"`
	FromName   string        `yaml:"from_name"`
	To         []string      `yaml:"to"`
	Subject    string        `yaml:"subject"`
	Schedule   string        `yaml:"schedule"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Default returns a configuration that runs entirely on the local machine.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			Backend:            StorageBadger,
			Path:               "maildigest.db",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
		Queue: QueueConfig{
			Backend:  QueueBadger,
			Name:     "maildigest.inbound",
			Prefetch: 32,
			Capacity: 1024,
		},
		Dedupe: DedupeConfig{
			TTL: 24 * time.Hour,
		},
		AI: AIConfig{
			Backend:         aiDefaults.Backend,
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			CompletionHost:  aiDefaults.CompletionHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			CompletionModel: aiDefaults.CompletionModel,
			Temperature:     aiDefaults.Temperature,
		},
		Consumer: ConsumerConfig{
			BatchSize:        32,
			InsertRetries:    3,
			InsertRetryDelay: 200 * time.Millisecond,
			MaxDeliveries:    5,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Mail: MailConfig{
			Endpoint:   "https://api.sendgrid.com/v3/mail/send",
			Subject:    "Your email digest",
			Schedule:   "0 7 * * *",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from MAILDIGEST_* environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Storage.Backend, "MAILDIGEST_STORAGE_BACKEND")
	setString(&c.Storage.Path, "MAILDIGEST_STORAGE_PATH")
	setString(&c.Storage.DSN, "MAILDIGEST_DATABASE_URL")
	setString(&c.Queue.Backend, "MAILDIGEST_QUEUE_BACKEND")
	setString(&c.Queue.URL, "MAILDIGEST_AMQP_URL")
	setString(&c.Queue.Name, "MAILDIGEST_QUEUE_NAME")
	setString(&c.Dedupe.Backend, "MAILDIGEST_DEDUPE_BACKEND")
	setString(&c.Dedupe.RedisAddr, "MAILDIGEST_REDIS_ADDR")
	setString(&c.Dedupe.RedisPassword, "MAILDIGEST_REDIS_PASSWORD")
	setString(&c.AI.Backend, "MAILDIGEST_AI_BACKEND")
	setString(&c.AI.APIKey, "MAILDIGEST_AI_API_KEY")
	setString(&c.AI.EmbeddingModel, "MAILDIGEST_EMBEDDING_MODEL")
	setString(&c.AI.CompletionModel, "MAILDIGEST_COMPLETION_MODEL")
	if host, ok := os.LookupEnv("MAILDIGEST_AI_HOST"); ok && host != "" {
		c.AI.EmbeddingHost = host
		c.AI.CompletionHost = host
	}
	setString(&c.AI.EmbeddingHost, "MAILDIGEST_EMBEDDING_HOST")
	setString(&c.AI.CompletionHost, "MAILDIGEST_COMPLETION_HOST")
	setString(&c.Server.Addr, "MAILDIGEST_HTTP_ADDR")
	setString(&c.Mail.Endpoint, "MAILDIGEST_MAIL_ENDPOINT")
	setString(&c.Mail.APIKey, "MAILDIGEST_MAIL_API_KEY")
	setString(&c.Mail.From, "MAILDIGEST_MAIL_FROM")
	setString(&c.Mail.Schedule, "MAILDIGEST_MAIL_SCHEDULE")
	if to, ok := os.LookupEnv("MAILDIGEST_MAIL_TO"); ok && to != "" {
		c.Mail.To = splitList(to)
	}

	if err := setInt(&c.Storage.Dimension, "MAILDIGEST_EMBEDDING_DIMENSION"); err != nil {
		return err
	}
	if err := setInt(&c.Consumer.Workers, "MAILDIGEST_CONSUMER_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&c.Consumer.MaxDeliveries, "MAILDIGEST_CONSUMER_MAX_DELIVERIES"); err != nil {
		return err
	}
	if err := setDuration(&c.Summary.Window, "MAILDIGEST_SUMMARY_WINDOW"); err != nil {
		return err
	}
	return setDuration(&c.Dedupe.TTL, "MAILDIGEST_DEDUPE_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Provider converts the AI section into an ai.Config.
func (c *Config) Provider() *ai.Config {
	return ai.NewConfig(
		ai.WithBackend(c.AI.Backend),
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithCompletionHost(c.AI.CompletionHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithCompletionModel(c.AI.CompletionModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithTemperature(c.AI.Temperature),
	)
}

// Validate checks the settings needed to open stores, queue and provider.
// Mail settings are checked separately by ValidateMail since only the
// delivery commands need them.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for badger", ErrInvalidConfig)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalidConfig)
		}
		if c.Storage.Dimension <= 0 {
			return fmt.Errorf("%w: storage.dimension is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.Dimension < 0 {
		return fmt.Errorf("%w: storage.dimension must not be negative", ErrInvalidConfig)
	}

	switch c.Queue.Backend {
	case QueueBadger:
		if c.Storage.Backend != StorageBadger {
			return fmt.Errorf("%w: badger queue requires badger storage", ErrInvalidConfig)
		}
	case QueueMemory:
	case QueueRabbitMQ:
		if c.Queue.URL == "" || c.Queue.Name == "" {
			return fmt.Errorf("%w: queue.url and queue.name are required for rabbitmq", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown queue backend %q", ErrInvalidConfig, c.Queue.Backend)
	}

	switch c.Dedupe.Backend {
	case DedupeNone:
	case DedupeRedis:
		if c.Dedupe.RedisAddr == "" {
			return fmt.Errorf("%w: dedupe.redis_addr is required for redis", ErrInvalidConfig)
		}
	case DedupeBadger:
		if c.Storage.Backend != StorageBadger {
			return fmt.Errorf("%w: badger dedupe requires badger storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown dedupe backend %q", ErrInvalidConfig, c.Dedupe.Backend)
	}

	if c.Summary.Window < 0 {
		return fmt.Errorf("%w: summary.window must not be negative", ErrInvalidConfig)
	}
	if c.Consumer.Workers < 0 || c.Consumer.BatchSize < 0 ||
		c.Consumer.InsertRetries < 0 || c.Consumer.InsertRetryDelay < 0 || c.Consumer.MaxDeliveries < 0 {
		return fmt.Errorf("%w: consumer settings must not be negative", ErrInvalidConfig)
	}

	if err := c.Provider().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateMail checks the settings needed to send summaries.
func (c *Config) ValidateMail() error {
	if c.Mail.Endpoint == "" {
		return fmt.Errorf("%w: mail.endpoint is required", ErrInvalidConfig)
	}
	if c.Mail.APIKey == "" {
		return fmt.Errorf("%w: mail.api_key is required", ErrInvalidConfig)
	}
	if c.Mail.From == "" {
		return fmt.Errorf("%w: mail.from is required", ErrInvalidConfig)
	}
	if len(c.Mail.To) == 0 {
		return fmt.Errorf("%w: mail.to needs at least one recipient", ErrInvalidConfig)
	}
	return nil
}
