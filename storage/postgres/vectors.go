package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/maildigest/core"
	"github.com/poiesic/maildigest/storage"
)

// VectorIndex implements storage.VectorIndex on the message_vectors table.
// Vectors are passed in pgvector text form and cast server-side, so no type
// registration is needed on the pool.
type VectorIndex struct {
	pool *pgxpool.Pool
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

func NewVectorIndex(pool *pgxpool.Pool) *VectorIndex {
	return &VectorIndex{pool: pool}
}

func (v *VectorIndex) Upsert(ctx context.Context, embeddings ...core.Embedding) error {
	defer observe("upsert_vector", time.Now())

	for _, e := range embeddings {
		if err := core.ValidateEmbedding(e); err != nil {
			return err
		}
	}

	query := `
        INSERT INTO message_vectors (id, embedding)
        VALUES ($1, $2::vector)
        ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
    `
	batch := &pgx.Batch{}
	for _, e := range embeddings {
		batch.Queue(query, e.ID, pgvector.NewVector(e.Values).String())
	}
	if err := v.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

// FindSimilar ranks by cosine distance using the <=> operator.
func (v *VectorIndex) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.Match, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	defer observe("find_similar", time.Now())

	query := `
        SELECT id, 1 - (embedding <=> $1::vector) AS score
        FROM message_vectors
        WHERE 1 - (embedding <=> $1::vector) >= $2
        ORDER BY embedding <=> $1::vector, id
        LIMIT $3
    `
	rows, err := v.pool.Query(ctx, query, pgvector.NewVector(vector).String(), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var matches []core.Match
	for rows.Next() {
		var (
			m     core.Match
			score float64
		)
		if err := rows.Scan(&m.ID, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (v *VectorIndex) Missing(ctx context.Context, ids ...string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer observe("missing_vectors", time.Now())

	query := `
        SELECT id
        FROM message_vectors
        WHERE id = ANY($1)
    `
	rows, err := v.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("missing vectors: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Close is a no-op; the pool is closed by its owner.
func (v *VectorIndex) Close() error {
	return nil
}
