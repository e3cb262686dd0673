package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
)

const (
	// DefaultMinSimilarity is the cosine similarity a hit needs to be returned.
	DefaultMinSimilarity float32 = 0.60

	verbatimBoost float32 = 0.3
)

// Searcher answers similarity queries over stored messages.
type Searcher struct {
	store         storage.MessageStore
	index         storage.VectorIndex
	embedder      ai.Embedder
	minSimilarity float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinSimilarity sets the similarity threshold. Default is DefaultMinSimilarity.
func WithMinSimilarity(min float32) Option {
	return func(s *Searcher) error {
		s.minSimilarity = min
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.MessageStore, index storage.VectorIndex, provider ai.AIProvider, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrMessageStoreRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		store:         store,
		index:         index,
		embedder:      provider.Embedder(),
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns up to limit messages similar to query, ranked by score.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	monitor.Start(query)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	matches, err := s.index.FindSimilar(ctx, embedding, s.minSimilarity, limit)
	if err != nil {
		s.logger.Error("error querying for similar messages", "err", err)
		return nil, err
	}
	monitor.AfterSemanticSearch(matches)

	results := make([]core.SearchResult, 0, len(matches))
	messages := make([]*core.StoredMessage, 0, len(matches))
	for _, match := range matches {
		id, err := core.ParseID(match.ID)
		if err != nil {
			s.logger.Warn("skipping index entry with malformed id", "id", match.ID, "err", err)
			continue
		}
		msg, err := s.store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("index entry without stored message", "id", match.ID)
			continue
		}
		if err != nil {
			s.logger.Error("error retrieving message", "id", match.ID, "err", err)
			return nil, err
		}
		messages = append(messages, msg)

		score := match.Score
		if containsAllQueryWords(msg.Text, query) {
			score += verbatimBoost
			monitor.VerbatimHit(msg)
		}
		results = append(results, core.SearchResult{Message: msg, Score: score})
	}
	monitor.AfterMessageRetrieval(messages)

	slices.SortStableFunc(results, func(a, b core.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	monitor.Finish(results)

	return results, nil
}
