// Package postgres implements storage.MessageStore and storage.VectorIndex on
// PostgreSQL with the pgvector extension, using a pgx connection pool.
//
// Schema (see Migrate):
//
//	messages(id BIGSERIAL PRIMARY KEY, message TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now())
//	message_vectors(id TEXT PRIMARY KEY, embedding vector(N) NOT NULL)
//
// Integration tests run only when MAILDIGEST_TEST_POSTGRES_DSN is set.
package postgres
