// Package memory provides a bounded in-process implementation of the queue interfaces.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
)

type envelope struct {
	id       string
	body     []byte
	attempts int
}

// Queue is a bounded FIFO that implements both queue.Publisher and queue.Source.
// Retried deliveries go back to the tail; rejected deliveries are kept for inspection.
// Nothing survives the process: pending messages are lost on Close.
type Queue struct {
	items  chan envelope
	done   chan struct{}
	nextID atomic.Uint64

	mu         sync.Mutex
	closed     bool
	acked      int
	deadLetter [][]byte
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Source    = (*Queue)(nil)
)

// New creates a queue that holds at most capacity undelivered messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items: make(chan envelope, capacity),
		done:  make(chan struct{}),
	}
}

// Publish encodes msg and enqueues it without blocking.
func (q *Queue) Publish(ctx context.Context, msg core.QueuedMessage) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, body)
}

// PublishRaw enqueues an already encoded body. Returns queue.ErrFull when at capacity.
func (q *Queue) PublishRaw(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strconv.FormatUint(q.nextID.Add(1), 10)
	return q.push(envelope{id: id, body: body})
}

func (q *Queue) push(e envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case q.items <- e:
		return nil
	default:
		return queue.ErrFull
	}
}

// Receive waits for the first delivery, then drains up to max without blocking.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	var batch []queue.Delivery
	select {
	case e := <-q.items:
		batch = append(batch, q.delivery(e))
	case <-q.done:
		return nil, queue.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(batch) < max {
		select {
		case e := <-q.items:
			batch = append(batch, q.delivery(e))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (q *Queue) delivery(e envelope) *Delivery {
	e.attempts++
	return &Delivery{queue: q, env: e}
}

// Len returns the number of undelivered messages.
func (q *Queue) Len() int {
	return len(q.items)
}

// Acked returns how many deliveries have been acknowledged.
func (q *Queue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// DeadLetters returns the bodies of rejected deliveries.
func (q *Queue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.deadLetter...)
}

func (q *Queue) deadLettered(body []byte) {
	q.mu.Lock()
	q.deadLetter = append(q.deadLetter, body)
	q.mu.Unlock()
}

// Close stops Receive and rejects further publishes. Pending messages are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Delivery is a message handed out by Queue.Receive.
type Delivery struct {
	queue   *Queue
	env     envelope
	settled atomic.Bool
}

var _ queue.Delivery = (*Delivery)(nil)

func (d *Delivery) ID() string    { return d.env.id }
func (d *Delivery) Body() []byte  { return d.env.body }
func (d *Delivery) Attempts() int { return d.env.attempts }

func (d *Delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	d.queue.mu.Lock()
	d.queue.acked++
	d.queue.mu.Unlock()
	return nil
}

// Retry puts the message back at the tail with the same id. When the queue
// is full or closed the message is moved to the dead letters instead and the
// push error is returned.
func (d *Delivery) Retry() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	if err := d.queue.push(d.env); err != nil {
		d.queue.deadLettered(d.env.body)
		return err
	}
	return nil
}

func (d *Delivery) Reject() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	d.queue.deadLettered(d.env.body)
	return nil
}
