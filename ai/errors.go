package ai

import "errors"

var (
	// ErrInvalidConfig indicates a Config failed validation.
	ErrInvalidConfig = errors.New("ai config")

	// ErrEmptyResponse indicates the model returned no usable output.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrEmbeddingCount indicates the service returned a different number of vectors than inputs.
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)
