package mailparse

import "errors"

// ErrMalformed indicates the input was not valid MIME. Parse still returns the
// raw input as text alongside this error.
var ErrMalformed = errors.New("malformed message")

// ErrTruncated indicates a body part was cut at the size limit. Parse still
// returns the text read up to the limit alongside this error.
var ErrTruncated = errors.New("body part truncated")
