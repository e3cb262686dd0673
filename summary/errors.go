package summary

import "errors"

var (
	ErrMessageStoreRequired = errors.New("message store is required")
	ErrCompleterRequired    = errors.New("completer is required")
	ErrInvalidWindow        = errors.New("summary window must not be negative")
)
