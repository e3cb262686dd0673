package reindex

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	ErrMessageStoreRequired = errors.New("message store is required")
	ErrVectorIndexRequired  = errors.New("vector index is required")
	ErrEmbedderRequired     = errors.New("embedder is required")
)

// ErrIncomplete is returned by Sweeper.Run when at least one batch could not be indexed.
var ErrIncomplete = errors.New("some messages could not be indexed")
