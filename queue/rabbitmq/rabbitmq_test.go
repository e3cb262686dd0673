package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	url := os.Getenv("MAILDIGEST_TEST_AMQP_URL")
	if url == "" {
		t.Skip("MAILDIGEST_TEST_AMQP_URL not set")
	}
	name := "maildigest-test-" + uuid.NewString()
	return Config{URL: url, Queue: name, DeadLetterExchange: name + ".dlx"}
}

func TestDialRequiresConfig(t *testing.T) {
	_, err := NewPublisher(Config{})
	assert.Error(t, err)
}

func TestPublishReceiveRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	pub, err := NewPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()

	src, err := NewSource(cfg, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, pub.Publish(ctx, core.QueuedMessage{Type: "email", Body: "Meeting at 3pm"}))

	batch, err := src.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.NotEmpty(t, batch[0].ID())

	msg, err := queue.Decode(batch[0].Body())
	require.NoError(t, err)
	assert.Equal(t, "Meeting at 3pm", msg.Body)
	require.NoError(t, batch[0].Ack())
}

func TestDeliveryAttempts(t *testing.T) {
	tests := []struct {
		name string
		d    amqp091.Delivery
		want int
	}{
		{"first delivery", amqp091.Delivery{}, 1},
		{"broker redelivery", amqp091.Delivery{Redelivered: true}, 2},
		{"quorum delivery count", amqp091.Delivery{Headers: amqp091.Table{"x-delivery-count": int64(3)}}, 4},
		{"republished", amqp091.Delivery{Headers: amqp091.Table{attemptsHeader: int32(2)}}, 3},
		{"higher header wins", amqp091.Delivery{Headers: amqp091.Table{
			attemptsHeader:     int32(4),
			"x-delivery-count": int64(1),
		}}, 5},
		{"unexpected header type", amqp091.Delivery{Headers: amqp091.Table{attemptsHeader: "7"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Delivery{d: tt.d}
			assert.Equal(t, tt.want, d.Attempts())
		})
	}
}

func TestRetryRecordsAttempts(t *testing.T) {
	cfg := testConfig(t)

	pub, err := NewPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()

	src, err := NewSource(cfg, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := core.QueuedMessage{Type: "email", Body: "retry me"}
	body, err := queue.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, msg))

	var id string
	for want := 1; want <= 3; want++ {
		batch, err := src.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, want, batch[0].Attempts())
		if id == "" {
			id = batch[0].ID()
		}
		assert.Equal(t, id, batch[0].ID())
		assert.Equal(t, body, batch[0].Body())
		if want < 3 {
			require.NoError(t, batch[0].Retry())
		} else {
			require.NoError(t, batch[0].Ack())
		}
	}
}
