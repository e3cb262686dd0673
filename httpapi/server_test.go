package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	messages []*core.StoredMessage
	err      error
}

func (f *fakeStore) Insert(ctx context.Context, text string) (*core.StoredMessage, error) {
	return nil, errors.New("not supported")
}

func (f *fakeStore) Get(ctx context.Context, id core.ID) (*core.StoredMessage, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) List(ctx context.Context) ([]*core.StoredMessage, error) {
	return f.ListSince(ctx, time.Time{})
}

func (f *fakeStore) ListSince(ctx context.Context, since time.Time) ([]*core.StoredMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*core.StoredMessage
	for _, m := range f.messages {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeSummarizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeSummarizer) GenerateSummary(ctx context.Context) (core.Summary, error) {
	f.calls++
	return core.Summary{Text: f.text}, f.err
}

type fakeIngester struct {
	got []core.RawEmail
	err error
}

func (f *fakeIngester) Ingest(ctx context.Context, email core.RawEmail) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, email)
	return nil
}

type fakeSearcher struct {
	query string
	limit int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	f.query, f.limit = query, limit
	return []core.SearchResult{{Message: &core.StoredMessage{ID: 1, Text: "invoice"}, Score: 0.9}}, nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store storage.MessageStore, summarizer Summarizer, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(store, summarizer, opts...)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func do(t *testing.T, s *Server, req *http.Request) (int, string) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, &fakeSummarizer{})
	assert.ErrorIs(t, err, ErrMessageStoreRequired)
	_, err = NewServer(&fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrSummarizerRequired)
}

func TestRecent_ReturnsLast24Hours(t *testing.T) {
	store := &fakeStore{messages: []*core.StoredMessage{
		{ID: 1, Text: "two days old", CreatedAt: fixedNow.Add(-48 * time.Hour)},
		{ID: 2, Text: "an hour old", CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: 3, Text: "just now", CreatedAt: fixedNow.Add(-time.Minute)},
	}}
	s := newTestServer(t, store, &fakeSummarizer{})

	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, status)

	var got []core.StoredMessage
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "an hour old", got[0].Text)
	assert.Equal(t, "just now", got[1].Text)
	assert.Contains(t, body, `"message":"just now"`)
}

func TestRecent_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{})
	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", body)
}

func TestRecent_StoreErrorIsPlainText500(t *testing.T) {
	s := newTestServer(t, &fakeStore{err: errors.New("database is locked")}, &fakeSummarizer{})
	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "database is locked", body)
}

func TestSummary_AnyOtherPath(t *testing.T) {
	summarizer := &fakeSummarizer{text: "Three emails about lunch."}
	s := newTestServer(t, &fakeStore{}, summarizer)

	for _, path := range []string{"/summary", "/anything/else"} {
		status, body := do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"summary":"Three emails about lunch."}`, body)
	}
	assert.Equal(t, 2, summarizer.calls)
}

func TestSummary_Error(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{err: errors.New("model unavailable")})
	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/summary", nil))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"model unavailable"}`, body)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{})
	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{})
	do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "maildigest_http_request_duration_seconds")
}

func TestInbound(t *testing.T) {
	ingester := &fakeIngester{}
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{}, WithIngester(ingester))

	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader("Subject: hi\r\n\r\nMeeting at 3pm"))
	req.Header.Set("X-Mail-From", "alice@example.com")
	req.Header.Set("X-Mail-To", "bob@example.com")

	status, _ := do(t, s, req)
	assert.Equal(t, http.StatusAccepted, status)
	require.Len(t, ingester.got, 1)
	assert.Equal(t, "alice@example.com", ingester.got[0].From)
	assert.Equal(t, "bob@example.com", ingester.got[0].To)
	assert.Equal(t, "Subject: hi\r\n\r\nMeeting at 3pm", string(ingester.got[0].Raw))
}

func TestInbound_Errors(t *testing.T) {
	t.Run("enqueue failure", func(t *testing.T) {
		s := newTestServer(t, &fakeStore{}, &fakeSummarizer{}, WithIngester(&fakeIngester{err: errors.New("queue full")}))
		status, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader("x")))
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})
	t.Run("empty body", func(t *testing.T) {
		s := newTestServer(t, &fakeStore{}, &fakeSummarizer{}, WithIngester(&fakeIngester{}))
		status, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/inbound", nil))
		assert.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("not enabled", func(t *testing.T) {
		s := newTestServer(t, &fakeStore{}, &fakeSummarizer{})
		status, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader("x")))
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	s := newTestServer(t, &fakeStore{}, &fakeSummarizer{}, WithSearcher(searcher))

	status, body := do(t, s, httptest.NewRequest(http.MethodGet, "/search?q=invoice&limit=5", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "invoice", searcher.query)
	assert.Equal(t, 5, searcher.limit)
	assert.Contains(t, body, `"score":0.9`)

	status, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/search", nil))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/search?q=x&limit=1000", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}
