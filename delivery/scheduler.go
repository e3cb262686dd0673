package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/robfig/cron/v3"
)

// Summarizer produces the summary to send.
type Summarizer interface {
	GenerateSummary(ctx context.Context) (core.Summary, error)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}

// Scheduler periodically summarizes stored messages and sends the result.
type Scheduler struct {
	cron       *cron.Cron
	summarizer Summarizer
	sender     Sender
	timeout    time.Duration
	logger     *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickTimeout bounds a single summarize-and-send run. Default 5 minutes.
func WithTickTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithSchedulerLogger sets a custom logger.
// Default is slog.Default().
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "scheduler")
		}
	}
}

// NewScheduler registers a job on schedule, a standard five-field cron
// expression. Descriptors such as "@daily" and "@every 1h" are accepted too.
func NewScheduler(schedule string, summarizer Summarizer, sender Sender, opts ...SchedulerOption) (*Scheduler, error) {
	if summarizer == nil {
		return nil, ErrSummarizerRequired
	}
	if sender == nil {
		return nil, ErrSenderRequired
	}

	s := &Scheduler{
		summarizer: summarizer,
		sender:     sender,
		timeout:    5 * time.Minute,
		logger:     slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next", s.cron.Entries()[0].Next)
}

// Stop stops scheduling new runs. The returned context is done once a
// running tick has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce generates a summary and sends it.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	summary, err := s.summarizer.GenerateSummary(ctx)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, summary)
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("scheduled summary failed", "err", err)
		return
	}
	s.logger.Info("scheduled summary delivered")
}
