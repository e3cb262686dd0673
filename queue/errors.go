package queue

import "errors"

var (
	// ErrClosed indicates the queue has been closed.
	ErrClosed = errors.New("queue closed")

	// ErrFull indicates a bounded queue cannot accept more messages.
	ErrFull = errors.New("queue full")

	// ErrMalformedPayload indicates a delivery body is not a valid queued message.
	ErrMalformedPayload = errors.New("malformed queue payload")

	// ErrAlreadySettled indicates a delivery was acked, retried or rejected twice.
	ErrAlreadySettled = errors.New("delivery already settled")
)
