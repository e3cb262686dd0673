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


package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/metrics"
	"github.com/poiesic/maildigest/reindex"
)

// Sender delivers a summary to its recipients.
type Sender interface {
	Send(ctx context.Context, summary core.Summary) error
}

// MailerConfig holds the mail API endpoint and the message envelope.
type MailerConfig struct {
	Endpoint string
	APIKey   string
	From     string
	FromName string
	To       []string
	Subject  string

	// Timeout bounds each HTTP attempt. Default 10s.
	Timeout time.Duration
	// MaxRetries is the number of attempts per Send. Default 3.
	MaxRetries int
	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// Mailer sends summaries through a SendGrid-compatible HTTP API.
type Mailer struct {
	cfg    MailerConfig
	client *http.Client
	logger *slog.Logger
}

var _ Sender = (*Mailer)(nil)

// NewMailer validates cfg and creates a Mailer.
func NewMailer(cfg MailerConfig, logger *slog.Logger) (*Mailer, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.From == "" {
		return nil, fmt.Errorf("%w: endpoint, api key and sender are required", ErrInvalidMailerConfig)
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidMailerConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Mailer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "mailer"),
	}, nil
}

// Send posts summary as a plain-text message to every configured recipient.
// 5xx, 429 and transport errors are retried; other non-2xx responses fail at once.
func (m *Mailer) Send(ctx context.Context, summary core.Summary) error {
	body, err := json.Marshal(m.request(summary))
	if err != nil {
		return err
	}

	err = reindex.RetryWithBackoff(ctx, func() error {
		return m.post(ctx, body)
	}, m.cfg.MaxRetries, m.cfg.RetryDelay)
	if err != nil {
		metrics.IncrementMailSent("error")
		return err
	}

	metrics.IncrementMailSent("ok")
	m.logger.Info("summary sent", "recipients", len(m.cfg.To))
	return nil
}

func (m *Mailer) request(summary core.Summary) mailRequest {
	to := make([]address, len(m.cfg.To))
	for i, email := range m.cfg.To {
		to[i] = address{Email: email}
	}
	return mailRequest{
		Personalizations: []personalization{{To: to}},
		From:             address{Email: m.cfg.From, Name: m.cfg.FromName},
		Subject:          m.cfg.Subject,
		Content:          []content{{Type: "text/plain", Value: summary.Text}},
	}
}

func (m *Mailer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return reindex.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("mail API request failed", "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		m.logger.Warn("mail API unavailable", "status", resp.StatusCode)
		return err
	}
	return reindex.Permanent(err)
}
