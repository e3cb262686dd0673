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


package httpapi

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRecentWindow = 24 * time.Hour
	defaultSearchLimit  = 10
	maxSearchLimit      = 100
)

var (
	ErrMessageStoreRequired = errors.New("message store is required")
	ErrSummarizerRequired   = errors.New("summarizer is required")
)

// Summarizer produces the summary served on the catch-all route.
type Summarizer interface {
	GenerateSummary(ctx context.Context) (core.Summary, error)
}

// Ingester accepts inbound mail.
type Ingester interface {
	Ingest(ctx context.Context, email core.RawEmail) error
}

// Searcher answers similarity queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error)
}

// Server is the HTTP surface.
type Server struct {
	app          *fiber.App
	store        storage.MessageStore
	summarizer   Summarizer
	ingester     Ingester
	searcher     Searcher
	recentWindow time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithIngester enables POST /inbound.
func WithIngester(i Ingester) Option {
	return func(s *Server) { s.ingester = i }
}

// WithSearcher enables GET /search.
func WithSearcher(searcher Searcher) Option {
	return func(s *Server) { s.searcher = searcher }
}

// WithRecentWindow changes how far back GET / looks. Default 24 hours.
func WithRecentWindow(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.recentWindow = d
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "http")
		}
	}
}

// NewServer creates the server and registers its routes.
func NewServer(store storage.MessageStore, summarizer Summarizer, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, ErrMessageStoreRequired
	}
	if summarizer == nil {
		return nil, ErrSummarizerRequired
	}

	s := &Server{
		store:        store,
		summarizer:   summarizer,
		recentWindow: defaultRecentWindow,
		now:          time.Now,
		logger:       slog.Default().With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "maildigest",
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(s.observe)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Get("/search", s.handleSearch)
	s.app.Post("/inbound", s.handleInbound)
	s.app.Get("/", s.handleRecent)
	s.app.Use(s.handleSummary)

	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	metrics.RecordHTTPRequestDuration(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start))
	return err
}

// handleRecent returns messages created within the recent window.
func (s *Server) handleRecent(c *fiber.Ctx) error {
	messages, err := s.store.ListSince(c.UserContext(), s.now().Add(-s.recentWindow))
	if err != nil {
		s.logger.Error("failed to list recent messages", "err", err)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	if messages == nil {
		messages = []*core.StoredMessage{}
	}
	return c.JSON(messages)
}

func (s *Server) handleSummary(c *fiber.Ctx) error {
	summary, err := s.summarizer.GenerateSummary(c.UserContext())
	if err != nil {
		s.logger.Error("failed to generate summary", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(summary)
}

func (s *Server) handleInbound(c *fiber.Ctx) error {
	if s.ingester == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ingestion is not enabled"})
	}
	if len(c.Body()) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty message"})
	}

	email := core.RawEmail{
		From: c.Get("X-Mail-From"),
		To:   c.Get("X-Mail-To"),
		Raw:  bytes.Clone(c.Body()),
	}
	if err := s.ingester.Ingest(c.UserContext(), email); err != nil {
		s.logger.Error("failed to enqueue inbound message", "from", email.From, "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	if s.searcher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "search is not enabled"})
	}
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing q parameter"})
	}
	limit := c.QueryInt("limit", defaultSearchLimit)
	if limit <= 0 || limit > maxSearchLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 100"})
	}

	results, err := s.searcher.Search(c.UserContext(), query, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if results == nil {
		results = []core.SearchResult{}
	}
	return c.JSON(results)
}
