package badger

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/poiesic/maildigest/storage"
)

const queuePollInterval = 500 * time.Millisecond

// Queue is a bounded FIFO persisted on the shared backend. It implements
// queue.Publisher and queue.Source for a single process. A message stays on
// disk from Publish until it is acked or rejected, so anything still queued
// or in flight when the process stops is delivered again after a restart.
type Queue struct {
	backend  *Backend
	seq      *badger.Sequence
	capacity int
	logger   *slog.Logger

	notify chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	pending  int
	inflight map[string]bool
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Source    = (*Queue)(nil)
)

// NewQueue opens the queue stored in backend. Messages left by a previous
// process are counted against capacity and delivered first.
func NewQueue(backend *Backend, capacity int, logger *slog.Logger) (*Queue, error) {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	seq, err := backend.GetSequence(queueSeq)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		backend:  backend,
		seq:      seq,
		capacity: capacity,
		logger:   logger.With("component", "badger_queue"),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		inflight: make(map[string]bool),
	}

	err = backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(queueItemPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			q.pending++
		}
		return nil
	}, false)
	if err != nil {
		seq.Release()
		return nil, err
	}
	if q.pending > 0 {
		q.logger.Info("resuming persisted queue", "pending", q.pending)
	}
	return q, nil
}

// Publish encodes msg and persists it. Returns queue.ErrFull when at capacity.
func (q *Queue) Publish(ctx context.Context, msg core.QueuedMessage) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, body)
}

// PublishRaw persists an already encoded body.
func (q *Queue) PublishRaw(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	if q.pending >= q.capacity {
		return queue.ErrFull
	}
	if q.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	err := q.backend.WithTx(func(tx *badger.Txn) error {
		n, err := q.nextSeq()
		if err != nil {
			return err
		}
		entry := storage.QueueEntry{ID: strconv.FormatUint(n, 10), Body: body}
		if err := tx.Set(makeQueueKey(queueItemPrefix, n), storage.MarshalQueueEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}
	q.pending++
	q.signal()
	return nil
}

// Receive waits for the first undelivered message, then returns up to max
// without blocking further.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(queuePollInterval)
	defer timer.Stop()

	for {
		batch, err := q.take(max)
		if err != nil || len(batch) > 0 {
			return batch, err
		}

		timer.Reset(queuePollInterval)
		select {
		case <-q.notify:
		case <-timer.C:
		case <-q.done:
			return nil, queue.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take claims up to max stored messages that are not already in flight.
func (q *Queue) take(max int) ([]queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	if q.pending == len(q.inflight) {
		return nil, nil
	}

	var batch []queue.Delivery
	err := q.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueItemPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && len(batch) < max; iter.Next() {
			item := iter.Item()
			key := item.KeyCopy(nil)
			if q.inflight[string(key)] {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := storage.UnmarshalQueueEntry(val)
			if err != nil {
				// Hand the raw value out so the consumer rejects it as malformed.
				q.logger.Error("corrupt queue entry", "key", string(key), "err", err)
				entry = storage.QueueEntry{Body: val}
			}
			entry.Attempts++
			q.inflight[string(key)] = true
			batch = append(batch, &queueDelivery{queue: q, key: key, entry: entry})
		}
		return nil
	}, false)
	if err != nil {
		for _, d := range batch {
			delete(q.inflight, string(d.(*queueDelivery).key))
		}
		return nil, err
	}
	return batch, nil
}

// Len returns the number of stored messages not currently in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending - len(q.inflight)
}

// DeadLetters returns the bodies of rejected messages, oldest first.
func (q *Queue) DeadLetters() ([][]byte, error) {
	var out [][]byte
	err := q.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueDeadPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			val, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := storage.UnmarshalQueueEntry(val)
			if err != nil {
				out = append(out, val)
				continue
			}
			out = append(out, entry.Body)
		}
		return nil
	}, false)
	return out, err
}

// Close stops Receive and rejects further publishes. Stored messages are kept.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return q.seq.Release()
}

// nextSeq must be called with mu held.
func (q *Queue) nextSeq() (uint64, error) {
	n, err := q.seq.Next()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return q.seq.Next()
	}
	return n, nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// settle removes key from the live items and, when next is set, writes it
// under nextPrefix at a fresh sequence number.
func (q *Queue) settle(key []byte, nextPrefix string, next *storage.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer delete(q.inflight, string(key))
	if q.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	err := q.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(key); err != nil {
			return err
		}
		if next != nil {
			n, err := q.nextSeq()
			if err != nil {
				return err
			}
			if err := tx.Set(makeQueueKey(nextPrefix, n), storage.MarshalQueueEntry(*next)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}
	if nextPrefix != queueItemPrefix {
		q.pending--
	} else {
		q.signal()
	}
	return nil
}

type queueDelivery struct {
	queue   *Queue
	key     []byte
	entry   storage.QueueEntry
	settled atomic.Bool
}

func (d *queueDelivery) ID() string    { return d.entry.ID }
func (d *queueDelivery) Body() []byte  { return d.entry.Body }
func (d *queueDelivery) Attempts() int { return d.entry.Attempts }

func (d *queueDelivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	return d.queue.settle(d.key, "", nil)
}

// Retry moves the message to the tail with its attempt count recorded.
func (d *queueDelivery) Retry() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	return d.queue.settle(d.key, queueItemPrefix, &d.entry)
}

func (d *queueDelivery) Reject() error {
	if !d.settled.CompareAndSwap(false, true) {
		return queue.ErrAlreadySettled
	}
	return d.queue.settle(d.key, queueDeadPrefix, &d.entry)
}
