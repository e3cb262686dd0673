package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/maildigest"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/ingestion"
	"github.com/poiesic/maildigest/reindex"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	app, err := openAppWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	server, err := app.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	consumerDone := make(chan error, 1)
	if app.UsesLocalQueue() || c.Bool("consume") {
		consumer, err := app.NewConsumer()
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		defer consumer.Release()
		source, err := app.Source()
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		go func() { consumerDone <- consumer.Run(ctx, source) }()
	} else {
		close(consumerDone)
	}

	if c.Bool("deliver") {
		scheduler, err := app.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- server.Listen(cfg.Server.Addr) }()
	slog.Info("server listening", "addr", cfg.Server.Addr)

	select {
	case err := <-listenErr:
		stop()
		<-consumerDone
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "err", err)
	}
	<-consumerDone
	return nil
}

func consumeCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.UsesLocalQueue() {
		return errors.New("the local queue only works in-process; use serve or configure rabbitmq")
	}

	consumer, err := app.NewConsumer()
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer consumer.Release()

	source, err := app.Source()
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	return consumer.Run(ctx, source)
}

func ingestCommand(c *cli.Context) error {
	ctx := c.Context

	app, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	ingester, err := app.NewIngester()
	if err != nil {
		return fmt.Errorf("failed to create ingester: %w", err)
	}

	inputs := c.Args().Slice()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	count := 0
	for _, name := range inputs {
		raw, err := readInput(c.App.Reader, name)
		if err != nil {
			return err
		}
		email := core.RawEmail{From: c.String("from"), To: c.String("to"), Raw: raw}
		if err := ingester.Ingest(ctx, email); err != nil {
			return fmt.Errorf("failed to ingest %s: %w", name, err)
		}
		count++
	}
	fmt.Fprintf(c.App.Writer, "Enqueued %d message(s)\n", count)

	if !app.UsesLocalQueue() {
		return nil
	}
	return drainLocal(ctx, c.App.Writer, app, count)
}

// drainLocal processes messages just enqueued on the in-process queue.
func drainLocal(ctx context.Context, w io.Writer, app *maildigest.App, count int) error {
	consumer, err := app.NewConsumer()
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer consumer.Release()

	source, err := app.Source()
	if err != nil {
		return err
	}
	batch, err := source.Receive(ctx, count)
	if err != nil {
		return fmt.Errorf("failed to receive: %w", err)
	}
	report := consumer.ProcessBatch(ctx, batch)
	fmt.Fprintf(w, "Indexed %d, stored only %d, retried %d, rejected %d\n",
		report.Count(ingestion.OutcomeIndexed),
		report.Count(ingestion.OutcomeStoredNotIndexed),
		report.Count(ingestion.OutcomeRetried),
		report.Count(ingestion.OutcomeRejected))
	return nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func summarizeCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("window") {
		cfg.Summary.Window = c.Duration("window")
	}
	app, err := openAppWithConfig(c.Context, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	summarizer, err := app.NewSummarizer()
	if err != nil {
		return err
	}
	summary, err := summarizer.GenerateSummary(c.Context)
	if err != nil {
		return fmt.Errorf("failed to generate summary: %w", err)
	}
	fmt.Fprintln(c.App.Writer, summary.Text)
	return nil
}

func sendSummaryCommand(c *cli.Context) error {
	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer app.Close()

	scheduler, err := app.NewScheduler()
	if err != nil {
		return err
	}
	if err := scheduler.RunOnce(c.Context); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Summary sent to %s\n", strings.Join(app.Config().Mail.To, ", "))
	return nil
}

func reindexCommand(c *cli.Context) error {
	reindexConfig := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reindexConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reindexConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reindexConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer app.Close()

	sweeper, err := app.NewSweeper(reindexConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}

	cfg := app.Config()
	fmt.Fprintf(c.App.ErrWriter, "Storage: %s\n", cfg.Storage.Backend)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	report, err := sweeper.Run(c.Context)
	if err != nil {
		return fmt.Errorf("reindex failed (%d of %d indexed): %w", report.Indexed, report.Missing, err)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a search query is required")
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer app.Close()

	searcher, err := app.NewSearcher()
	if err != nil {
		return err
	}
	results, err := searcher.Search(c.Context, query, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(c.App.Writer, "%d: '%s' (%d)[%0.3f]\n", i, firstLine(hit.Message.Text), hit.Message.ID, hit.Score)
	}
	return nil
}

func migrateCommand(c *cli.Context) error {
	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Migrate(c.Context); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Schema is up to date (%s)\n", app.Config().Storage.Backend)
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
