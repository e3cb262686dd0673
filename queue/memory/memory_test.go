package memory

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PublishReceiveAck(t *testing.T) {
	q := New(10)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, core.QueuedMessage{Type: "email", Body: "a"}))
	require.NoError(t, q.Publish(ctx, core.QueuedMessage{Type: "email", Body: "b"}))

	batch, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.NotEqual(t, batch[0].ID(), batch[1].ID())

	msg, err := queue.Decode(batch[0].Body())
	require.NoError(t, err)
	assert.Equal(t, "a", msg.Body)

	for _, d := range batch {
		require.NoError(t, d.Ack())
	}
	assert.Equal(t, 2, q.Acked())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ReceiveRespectsMax(t *testing.T) {
	q := New(10)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.PublishRaw(ctx, []byte("x")))
	}

	batch, err := q.Receive(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_Full(t *testing.T) {
	q := New(1)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.PublishRaw(ctx, []byte("1")))
	assert.ErrorIs(t, q.PublishRaw(ctx, []byte("2")), queue.ErrFull)
}

func TestQueue_Closed(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.PublishRaw(context.Background(), []byte("1")), queue.ErrClosed)

	_, err := q.Receive(context.Background(), 1)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestQueue_ReceiveHonorsContext(t *testing.T) {
	q := New(1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelivery_RetryRequeuesWithSameID(t *testing.T) {
	q := New(2)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.PublishRaw(ctx, []byte("x")))
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	id := batch[0].ID()

	require.NoError(t, batch[0].Retry())
	assert.ErrorIs(t, batch[0].Ack(), queue.ErrAlreadySettled)

	again, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again[0].ID())
	assert.Equal(t, 1, batch[0].Attempts())
	assert.Equal(t, 2, again[0].Attempts())
}

func TestDelivery_RetryOnFullQueueKeepsMessage(t *testing.T) {
	q := New(1)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.PublishRaw(ctx, []byte("first")))
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.PublishRaw(ctx, []byte("second")))

	assert.ErrorIs(t, batch[0].Retry(), queue.ErrFull)
	assert.Equal(t, [][]byte{[]byte("first")}, q.DeadLetters())
	assert.Equal(t, 1, q.Len())
}

func TestDelivery_RejectDeadLetters(t *testing.T) {
	q := New(2)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.PublishRaw(ctx, []byte("{bad")))
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, batch[0].Reject())
	assert.Equal(t, [][]byte{[]byte("{bad")}, q.DeadLetters())
	assert.Equal(t, 0, q.Len())
}
