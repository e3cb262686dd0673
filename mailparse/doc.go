// Package mailparse turns raw RFC 5322 messages into core.EmailContent.
//
// Parsing is built on github.com/emersion/go-message. Nested multipart
// structures are walked depth first, attachments are skipped, and non-UTF-8
// charsets are decoded via go-message/charset.
package mailparse
