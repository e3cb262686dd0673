package ingestion

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/poiesic/maildigest/queue/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainEmail = "From: alice@example.com\r\nTo: bob@example.com\r\nSubject: hi\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nMeeting at 3pm"

func TestNewIngester_RequiresPublisher(t *testing.T) {
	_, err := NewIngester(nil)
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestIngest_EnqueuesEmailText(t *testing.T) {
	q := memory.New(4)
	defer q.Close()
	ingester, err := NewIngester(q)
	require.NoError(t, err)
	ctx := context.Background()

	err = ingester.Ingest(ctx, core.RawEmail{From: "alice@example.com", To: "bob@example.com", Raw: []byte(plainEmail)})
	require.NoError(t, err)

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.JSONEq(t, `{"type":"email","body":"Meeting at 3pm"}`, string(batch[0].Body()))
}

func TestIngest_MalformedEnqueuesRawText(t *testing.T) {
	q := memory.New(4)
	defer q.Close()
	ingester, err := NewIngester(q)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ingester.Ingest(ctx, core.RawEmail{Raw: []byte("no headers here")}))

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	msg, err := queue.Decode(batch[0].Body())
	require.NoError(t, err)
	assert.Equal(t, "no headers here", msg.Body)
}

func TestIngest_OversizedBodyIsTruncatedAndLogged(t *testing.T) {
	q := memory.New(4)
	defer q.Close()
	var logs bytes.Buffer
	ingester, err := NewIngester(q, WithIngesterLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	ctx := context.Background()

	raw := "From: alice@example.com\r\nContent-Type: text/plain\r\n\r\n" + strings.Repeat("y", 11<<20)
	require.NoError(t, ingester.Ingest(ctx, core.RawEmail{From: "alice@example.com", Raw: []byte(raw)}))

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	msg, err := queue.Decode(batch[0].Body())
	require.NoError(t, err)
	assert.Len(t, msg.Body, 10<<20)
	assert.Contains(t, logs.String(), "over size limit")
	assert.Contains(t, logs.String(), "kept=10485760")
}

func TestIngest_EnqueueFailureIsReported(t *testing.T) {
	q := memory.New(1)
	defer q.Close()
	ingester, err := NewIngester(q)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ingester.Ingest(ctx, core.RawEmail{Raw: []byte(plainEmail)}))

	err = ingester.Ingest(ctx, core.RawEmail{Raw: []byte(plainEmail)})
	assert.ErrorIs(t, err, ErrEnqueueFailed)
	assert.ErrorIs(t, err, queue.ErrFull)

	require.NoError(t, q.Close())
	err = ingester.Ingest(ctx, core.RawEmail{Raw: []byte(plainEmail)})
	assert.ErrorIs(t, err, queue.ErrClosed)
}
