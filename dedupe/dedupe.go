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


// Package dedupe records which queue deliveries have already been processed so
// that redeliveries can be acknowledged without inserting a second row.
//
// Deduplication is best effort: when the marker backend is unavailable the
// delivery is processed anyway.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage/badger"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a processed marker is kept.
const DefaultTTL = 24 * time.Hour

// Deduper guards a unit of work so it runs at most once per key within the TTL.
type Deduper interface {
	// AcquireOnce returns true if this is the first time key is seen.
	AcquireOnce(ctx context.Context, key string) bool

	// Release forgets key so a later redelivery is processed again.
	Release(ctx context.Context, key string)
}

// Key returns the marker key for a delivery: its message id when present,
// otherwise a content hash of the body.
func Key(messageID string, body []byte) string {
	if messageID != "" {
		return "id:" + messageID
	}
	return "hash:" + core.IDFromContent(string(body)).String()
}

// RedisDeduper stores markers with SET NX and a TTL.
type RedisDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDeduper{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "maildigest:dedup:",
		logger: logger.With("component", "redis-deduper"),
	}
}

func (d *RedisDeduper) AcquireOnce(ctx context.Context, key string) bool {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedup check failed, allowing processing", "key", key, "err", err)
		return true
	}
	if !ok {
		d.logger.Info("skipped duplicate delivery", "key", key)
	}
	return ok
}

func (d *RedisDeduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, d.prefix+key).Err(); err != nil {
		d.logger.Warn("failed to release dedup marker", "key", key, "err", err)
	}
}

// BadgerDeduper stores markers in the embedded database.
type BadgerDeduper struct {
	markers *badger.MarkerStore
	ttl     time.Duration
	logger  *slog.Logger
}

var _ Deduper = (*BadgerDeduper)(nil)

func NewBadgerDeduper(backend *badger.Backend, ttl time.Duration, logger *slog.Logger) *BadgerDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerDeduper{
		markers: badger.NewMarkerStore(backend),
		ttl:     ttl,
		logger:  logger.With("component", "badger-deduper"),
	}
}

func (d *BadgerDeduper) AcquireOnce(ctx context.Context, key string) bool {
	created, err := d.markers.SetIfAbsent(ctx, key, d.ttl)
	if err != nil {
		d.logger.Warn("dedup check failed, allowing processing", "key", key, "err", err)
		return true
	}
	if !created {
		d.logger.Info("skipped duplicate delivery", "key", key)
	}
	return created
}

func (d *BadgerDeduper) Release(ctx context.Context, key string) {
	if err := d.markers.Delete(ctx, key); err != nil {
		d.logger.Warn("failed to release dedup marker", "key", key, "err", err)
	}
}
