package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidQueuedMessage indicates a QueuedMessage failed validation.
	ErrInvalidQueuedMessage = errors.New("invalid queued message")

	// ErrUnknownMessageType indicates a queued message kind this build does not handle.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidEmbedding indicates an Embedding failed validation.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrEmptyID indicates the embedding ID is empty.
	ErrEmptyID = errors.New("id cannot be empty")

	// ErrEmptyVector indicates the embedding has no values.
	ErrEmptyVector = errors.New("vector cannot be empty")
)
