package delivery

import "errors"

var (
	ErrInvalidMailerConfig = errors.New("invalid mailer configuration")
	ErrSendFailed          = errors.New("mail API rejected the message")
	ErrSummarizerRequired  = errors.New("summarizer is required")
	ErrSenderRequired      = errors.New("sender is required")
)
