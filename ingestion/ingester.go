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

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/mailparse"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/queue"
)

// Ingester converts raw inbound email into queued messages.
type Ingester struct {
	publisher queue.Publisher
	logger    *slog.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester) error

// WithIngesterLogger sets a custom logger.
// Default is slog.Default().
func WithIngesterLogger(logger *slog.Logger) IngesterOption {
	return func(i *Ingester) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger.With("component", "ingester")
		return nil
	}
}

// NewIngester creates an Ingester that publishes to publisher.
func NewIngester(publisher queue.Publisher, opts ...IngesterOption) (*Ingester, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	i := &Ingester{
		publisher: publisher,
		logger:    slog.Default().With("component", "ingester"),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// Ingest parses email and enqueues its text.
// Malformed MIME is logged and the raw text is enqueued instead.
// Any publish failure is returned wrapped in ErrEnqueueFailed.
func (i *Ingester) Ingest(ctx context.Context, email core.RawEmail) error {
	content, err := mailparse.Parse(email.Raw)
	switch {
	case err == nil:
	case errors.Is(err, mailparse.ErrMalformed):
		metrics.IncrementIngest("malformed")
		i.logger.Warn("unparseable MIME, enqueueing raw text",
			"from", email.From,
			"to", email.To,
			"bytes", len(email.Raw),
			"err", err)
	case errors.Is(err, mailparse.ErrTruncated):
		metrics.IncrementIngest("truncated")
		i.logger.Warn("body part over size limit, enqueueing truncated text",
			"from", email.From,
			"to", email.To,
			"bytes", len(email.Raw),
			"kept", len(content.Text),
			"err", err)
	default:
		return err
	}

	if err := i.publisher.Publish(ctx, core.NewEmailMessage(content)); err != nil {
		metrics.IncrementIngest("failed")
		i.logger.Error("failed to enqueue email", "from", email.From, "to", email.To, "err", err)
		return fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	metrics.IncrementIngest("enqueued")
	i.logger.Debug("email enqueued", "from", email.From, "to", email.To, "length", len(content.Text))
	return nil
}
