package ingestion

import "errors"

var (
	// ErrPublisherRequired is returned when a queue publisher is not provided.
	ErrPublisherRequired = errors.New("queue publisher required")

	// ErrMessageStoreRequired is returned when a message store is not provided.
	ErrMessageStoreRequired = errors.New("message store required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEnqueueFailed is returned by Ingest when the message could not be enqueued.
	ErrEnqueueFailed = errors.New("enqueue failed")
)
