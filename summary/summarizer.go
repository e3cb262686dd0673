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


package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/storage"
)

// Summarizer produces a Summary over the stored messages.
type Summarizer struct {
	store     storage.MessageStore
	completer ai.Completer
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer) error

// WithWindow limits the summary to messages created within d of now.
// Zero, the default, summarizes every stored message.
func WithWindow(d time.Duration) Option {
	return func(s *Summarizer) error {
		if d < 0 {
			return ErrInvalidWindow
		}
		s.window = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Summarizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "summarizer")
		return nil
	}
}

// NewSummarizer creates a Summarizer reading from store and completing with completer.
func NewSummarizer(store storage.MessageStore, completer ai.Completer, opts ...Option) (*Summarizer, error) {
	if store == nil {
		return nil, ErrMessageStoreRequired
	}
	if completer == nil {
		return nil, ErrCompleterRequired
	}

	s := &Summarizer{
		store:     store,
		completer: completer,
		now:       time.Now,
		logger:    slog.Default().With("component", "summarizer"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GenerateSummary reads the eligible messages and returns the completion text verbatim.
// Store and completion errors are wrapped and returned.
func (s *Summarizer) GenerateSummary(ctx context.Context) (core.Summary, error) {
	messages, err := s.eligible(ctx)
	if err != nil {
		metrics.IncrementSummary("store_error")
		return core.Summary{}, fmt.Errorf("failed to read messages: %w", err)
	}

	start := time.Now()
	text, err := s.completer.Complete(ctx, BuildPrompt(messages))
	if err != nil {
		metrics.IncrementSummary("completion_error")
		return core.Summary{}, fmt.Errorf("failed to generate summary: %w", err)
	}

	metrics.IncrementSummary("ok")
	s.logger.Info("summary generated",
		"messages", len(messages),
		"chars", len(text),
		"duration", time.Since(start))
	return core.Summary{Text: text}, nil
}

func (s *Summarizer) eligible(ctx context.Context) ([]*core.StoredMessage, error) {
	if s.window == 0 {
		return s.store.List(ctx)
	}
	return s.store.ListSince(ctx, s.now().Add(-s.window))
}
