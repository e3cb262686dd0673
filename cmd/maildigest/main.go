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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/maildigest"
	"github.com/poiesic/maildigest/config"
	"github.com/poiesic/maildigest/logging"
	"github.com/urfave/cli/v2"
)

// appOptions are passed to every maildigest.Open call.
var appOptions []maildigest.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "maildigest",
		Usage: "Ingest inbound email, index it and deliver LLM summaries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (console, json)",
				Value: "console",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"MAILDIGEST_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Environment files to load before reading configuration",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.addr)",
					},
					&cli.BoolFlag{
						Name:  "consume",
						Usage: "Run the queue consumer in this process (always on for the badger and memory queues)",
					},
					&cli.BoolFlag{
						Name:  "deliver",
						Usage: "Send summaries on the configured mail schedule",
					},
				},
			},
			{
				Name:   "consume",
				Usage:  "Consume queued messages until interrupted",
				Action: consumeCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Enqueue raw RFC 5322 messages from files or stdin",
				ArgsUsage: "[file...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "from",
						Usage: "Envelope sender",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "Envelope recipient",
					},
				},
			},
			{
				Name:   "summarize",
				Usage:  "Print a summary of stored messages",
				Action: summarizeCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "window",
						Usage: "Only summarize messages newer than this (overrides summary.window)",
					},
				},
			},
			{
				Name:   "send-summary",
				Usage:  "Generate a summary and mail it to the configured recipients",
				Action: sendSummaryCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Embed and index stored messages that have no vector",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of messages to embed in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N messages",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Find stored messages similar to a query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 5,
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Create the Postgres schema",
				Action: migrateCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	var logger *slog.Logger
	switch c.String("log-format") {
	case "console", "":
		logger = logging.New(level, c.App.ErrWriter)
	case "json":
		logger = logging.NewJSON(level, c.App.ErrWriter)
	default:
		return fmt.Errorf("invalid log format %q: must be console or json", c.String("log-format"))
	}
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}
	return config.Load(c.String("config"))
}

func openApp(ctx context.Context, c *cli.Context) (*maildigest.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return openAppWithConfig(ctx, cfg)
}

func openAppWithConfig(ctx context.Context, cfg *config.Config) (*maildigest.App, error) {
	app, err := maildigest.Open(ctx, cfg, append([]maildigest.Option{maildigest.WithLogger(slog.Default())}, appOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open maildigest: %w", err)
	}
	return app, nil
}
