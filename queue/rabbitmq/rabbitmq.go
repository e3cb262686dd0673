// Package rabbitmq implements the queue interfaces on RabbitMQ.
//
// Messages are published to the default exchange with the queue name as routing
// key, as persistent deliveries with a uuid MessageId. Publishes wait for a
// broker confirm. Consumers use manual acks; rejected messages are routed to
// the dead-letter exchange when one is configured.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/rabbitmq/amqp091-go"
)

// Config describes the broker topology.
type Config struct {
	URL   string
	Queue string

	// DeadLetterExchange, when set, is declared along with a "<queue>.dlq" queue
	// bound to it, and the main queue routes rejected messages there.
	DeadLetterExchange string

	// Prefetch bounds unacknowledged deliveries per consumer. Default 32.
	Prefetch int
}

// dial opens a connection and channel and declares the topology.
func dial(cfg Config) (*amqp091.Connection, *amqp091.Channel, error) {
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, nil, errors.New("rabbitmq: URL and Queue are required")
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func declare(ch *amqp091.Channel, cfg Config) error {
	var args amqp091.Table
	if cfg.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(
			cfg.DeadLetterExchange,
			"fanout",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		dlq, err := ch.QueueDeclare(cfg.Queue+".dlq", true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(dlq.Name, "", cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
		args = amqp091.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// Publisher implements queue.Publisher with publisher confirms.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
}

var _ queue.Publisher = (*Publisher)(nil)

func NewPublisher(cfg Config) (*Publisher, error) {
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, queue: cfg.Queue}, nil
}

// Publish blocks until the broker confirms the message or ctx is done.
func (p *Publisher) Publish(ctx context.Context, msg core.QueuedMessage) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	if p.conn.IsClosed() {
		return queue.ErrClosed
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",
		p.queue,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm: %w", err)
	}
	if !acked {
		return errors.New("publish: broker nacked message")
	}
	return nil
}

// IsConnected checks if the publisher connection is still alive.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *Publisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}

// attemptsHeader carries the delivery count on messages republished by Retry.
const attemptsHeader = "x-maildigest-attempts"

const republishTimeout = 10 * time.Second

// Source implements queue.Source with a manual-ack consumer.
type Source struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      string
	deliveries <-chan amqp091.Delivery
	logger     *slog.Logger
}

var _ queue.Source = (*Source)(nil)

func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 32
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}

	deliveries, err := ch.Consume(
		cfg.Queue,
		"maildigest-consumer",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	logger = logger.With("component", "rabbitmq-source", "queue", cfg.Queue)
	logger.Info("consumer initialized", "prefetch", prefetch, "dead_letter_exchange", cfg.DeadLetterExchange)

	return &Source{conn: conn, channel: ch, queue: cfg.Queue, deliveries: deliveries, logger: logger}, nil
}

func (s *Source) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	var batch []queue.Delivery
	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, queue.ErrClosed
		}
		batch = append(batch, &Delivery{d: d, source: s})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(batch) < max {
		select {
		case d, ok := <-s.deliveries:
			if !ok {
				return batch, nil
			}
			batch = append(batch, &Delivery{d: d, source: s})
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (s *Source) Close() error {
	_ = s.channel.Cancel("maildigest-consumer", false)
	_ = s.channel.Close()
	return s.conn.Close()
}

// republish publishes a copy of d at the tail of the queue with its
// attempt count recorded and waits for the broker confirm.
func (s *Source) republish(d *Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), republishTimeout)
	defer cancel()

	headers := amqp091.Table{}
	for k, v := range d.d.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(d.Attempts())

	confirm, err := s.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",
		s.queue,
		false,
		false,
		amqp091.Publishing{
			Headers:      headers,
			ContentType:  d.d.ContentType,
			DeliveryMode: amqp091.Persistent,
			MessageId:    d.d.MessageId,
			Timestamp:    d.d.Timestamp,
			Body:         d.d.Body,
		},
	)
	if err != nil {
		return fmt.Errorf("republish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("republish confirm: %w", err)
	}
	if !acked {
		return errors.New("republish: broker nacked message")
	}
	return nil
}

// Delivery wraps an amqp091 delivery.
type Delivery struct {
	d      amqp091.Delivery
	source *Source
}

var _ queue.Delivery = (*Delivery)(nil)

func (d *Delivery) ID() string   { return d.d.MessageId }
func (d *Delivery) Body() []byte { return d.d.Body }
func (d *Delivery) Ack() error   { return d.d.Ack(false) }

// Attempts reads the broker's x-delivery-count (quorum queues) or the count
// recorded by Retry, whichever is higher. A message requeued by the broker
// without either header counts as its second attempt.
func (d *Delivery) Attempts() int {
	prior := max(headerInt(d.d.Headers, "x-delivery-count"), headerInt(d.d.Headers, attemptsHeader))
	if prior == 0 && d.d.Redelivered {
		prior = 1
	}
	return prior + 1
}

// Retry republishes the message at the tail of the queue and acks the
// original. When the republish fails the original is requeued in place.
func (d *Delivery) Retry() error {
	if d.source == nil {
		return d.d.Nack(false, true)
	}
	if err := d.source.republish(d); err != nil {
		d.source.logger.Warn("republish failed, requeueing in place", "id", d.ID(), "err", err)
		return d.d.Nack(false, true)
	}
	return d.d.Ack(false)
}

func (d *Delivery) Reject() error {
	return d.d.Nack(false, false)
}

func headerInt(h amqp091.Table, key string) int {
	switch v := h[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
