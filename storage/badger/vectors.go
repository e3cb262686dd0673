package badger

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
)

// VectorIndex implements storage.VectorIndex for BadgerDB.
// Similarity search is a linear scan over all stored vectors.
type VectorIndex struct {
	backend   *Backend
	dimension int
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a VectorIndex. A dimension of 0 accepts vectors of any length.
func NewVectorIndex(backend *Backend, dimension int) *VectorIndex {
	return &VectorIndex{backend: backend, dimension: dimension}
}

// Close is a no-op; the backend is closed by its owner.
func (v *VectorIndex) Close() error {
	return nil
}

// Upsert writes embeddings in a single transaction.
func (v *VectorIndex) Upsert(ctx context.Context, embeddings ...core.Embedding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	for _, e := range embeddings {
		if err := core.ValidateEmbedding(e); err != nil {
			return err
		}
		if v.dimension > 0 && len(e.Values) != v.dimension {
			return storage.ErrDimensionMismatch
		}
	}

	return v.backend.WithTx(func(tx *badger.Txn) error {
		for _, e := range embeddings {
			if err := tx.Set(makeVectorKey(e.ID), storage.MarshalVector(e.Values)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// FindSimilar scans the index and returns entries ranked by cosine similarity.
func (v *VectorIndex) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.Match, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []core.Match
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var stored []float32
			if err := item.Value(func(val []byte) error {
				var err error
				stored, err = storage.UnmarshalVector(val)
				return err
			}); err != nil {
				return err
			}

			similarity := cosineSimilarity(vector, stored)
			if similarity >= minSimilarity {
				results = append(results, core.Match{
					ID:    strings.TrimPrefix(string(item.Key()), vectorPrefix+":"),
					Score: similarity,
				})
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b core.Match) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Missing returns the ids with no stored vector.
func (v *VectorIndex) Missing(ctx context.Context, ids ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var missing []string
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			_, err := tx.Get(makeVectorKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return missing, err
}

// cosineSimilarity returns 0 for mismatched or zero-length vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
