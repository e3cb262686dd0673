package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMailerConfig(endpoint string) MailerConfig {
	return MailerConfig{
		Endpoint:   endpoint,
		APIKey:     "secret-key",
		From:       "digest@example.com",
		FromName:   "Mail Digest",
		To:         []string{"alice@example.com", "bob@example.com"},
		Subject:    "Your email digest",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
}

func TestNewMailer_Validation(t *testing.T) {
	_, err := NewMailer(MailerConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidMailerConfig)

	cfg := testMailerConfig("http://localhost")
	cfg.To = nil
	_, err = NewMailer(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidMailerConfig)
}

func TestMailer_SendPayload(t *testing.T) {
	var (
		gotAuth string
		gotType string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	mailer, err := NewMailer(testMailerConfig(server.URL), nil)
	require.NoError(t, err)

	require.NoError(t, mailer.Send(context.Background(), core.Summary{Text: "Two meetings today."}))

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "application/json", gotType)

	want := map[string]any{
		"personalizations": []any{
			map[string]any{"to": []any{
				map[string]any{"email": "alice@example.com"},
				map[string]any{"email": "bob@example.com"},
			}},
		},
		"from":    map[string]any{"email": "digest@example.com", "name": "Mail Digest"},
		"subject": "Your email digest",
		"content": []any{
			map[string]any{"type": "text/plain", "value": "Two meetings today."},
		},
	}
	assert.Equal(t, want, gotBody)
}

func TestMailer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	mailer, err := NewMailer(testMailerConfig(server.URL), nil)
	require.NoError(t, err)

	require.NoError(t, mailer.Send(context.Background(), core.Summary{Text: "hi"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestMailer_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	mailer, err := NewMailer(testMailerConfig(server.URL), nil)
	require.NoError(t, err)

	err = mailer.Send(context.Background(), core.Summary{Text: "hi"})
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMailer_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"invalid key"}]}`))
	}))
	defer server.Close()

	mailer, err := NewMailer(testMailerConfig(server.URL), nil)
	require.NoError(t, err)

	err = mailer.Send(context.Background(), core.Summary{Text: "hi"})
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "invalid key")
	assert.Equal(t, int32(1), calls.Load())
}
