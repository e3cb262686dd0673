package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/queue"
	"github.com/poiesic/maildigest/storage"
	"github.com/poiesic/maildigest/storage/badger"
	"github.com/stretchr/testify/require"
)

// testDelivery implements queue.Delivery and records how it was settled.
type testDelivery struct {
	id       string
	body     []byte
	attempts int

	mu      sync.Mutex
	settled []string
}

func newTestDelivery(id, body string) *testDelivery {
	return &testDelivery{id: id, body: []byte(body)}
}

func emailDelivery(t *testing.T, id, text string) *testDelivery {
	t.Helper()
	body, err := queue.Encode(core.QueuedMessage{Type: core.MessageTypeEmail, Body: text})
	require.NoError(t, err)
	return &testDelivery{id: id, body: body}
}

func (d *testDelivery) ID() string   { return d.id }
func (d *testDelivery) Body() []byte { return d.body }
func (d *testDelivery) Ack() error   { return d.mark("ack") }

func (d *testDelivery) Attempts() int {
	if d.attempts == 0 {
		return 1
	}
	return d.attempts
}

func (d *testDelivery) Retry() error { return d.mark("retry") }
func (d *testDelivery) Reject() error {
	return d.mark("reject")
}

func (d *testDelivery) mark(action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = append(d.settled, action)
	return nil
}

func (d *testDelivery) settlements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.settled...)
}

// testStore wraps a real store and fails inserts whose text contains failOn.
type testStore struct {
	storage.MessageStore
	failOn string

	mu      sync.Mutex
	inserts int
}

func (s *testStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func (s *testStore) Insert(ctx context.Context, text string) (*core.StoredMessage, error) {
	s.mu.Lock()
	s.inserts++
	s.mu.Unlock()
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, errors.New("store unavailable")
	}
	return s.MessageStore.Insert(ctx, text)
}

// testIndex wraps a real index and records upserted ids.
type testIndex struct {
	storage.VectorIndex
	failUpsert bool

	mu  sync.Mutex
	ids []string
}

func (x *testIndex) Upsert(ctx context.Context, embeddings ...core.Embedding) error {
	x.mu.Lock()
	for _, e := range embeddings {
		x.ids = append(x.ids, e.ID)
	}
	x.mu.Unlock()
	if x.failUpsert {
		return errors.New("index unavailable")
	}
	return x.VectorIndex.Upsert(ctx, embeddings...)
}

func (x *testIndex) upserted() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.ids...)
}

type testDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
}

func newTestDeduper() *testDeduper {
	return &testDeduper{seen: make(map[string]bool)}
}

func (d *testDeduper) AcquireOnce(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func (d *testDeduper) Release(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	d.released = append(d.released, key)
}

func setupStores(t *testing.T) (*testStore, *testIndex) {
	t.Helper()
	store, index, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() {
		index.Close()
		store.Close()
		backend.Close()
	})
	return &testStore{MessageStore: store}, &testIndex{VectorIndex: index}
}

func toDeliveries(ds ...*testDelivery) []queue.Delivery {
	out := make([]queue.Delivery, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}
