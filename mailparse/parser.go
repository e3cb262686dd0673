// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/poiesic/maildigest/core"
)

// maxPartSize bounds how much of a single body part is read.
const maxPartSize = 10 << 20

// Parse extracts the message text from a raw RFC 5322 message.
//
// The first non-attachment text/plain part wins; otherwise the first text/html
// part is used; otherwise Text is empty. Parts in other charsets are decoded to UTF-8.
//
// When the input cannot be parsed as MIME, Parse returns the input itself
// (as valid UTF-8) together with an error wrapping ErrMalformed. A chosen part
// longer than maxPartSize is cut at that size and returned with an error
// wrapping ErrTruncated.
func Parse(raw []byte) (core.EmailContent, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return core.EmailContent{}, nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return fallback(raw, err)
	}

	var (
		plain, html                   *string
		plainTruncated, htmlTruncated bool
	)
	for plain == nil {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if text, ok := pick(plain, html); ok {
				return core.EmailContent{Text: text}, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			return fallback(raw, err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			// Attachments are ignored
			continue
		}

		contentType, _, ctErr := h.ContentType()
		if ctErr != nil && contentType == "" {
			contentType = "text/plain"
		}
		contentType = strings.ToLower(contentType)
		if contentType != "text/plain" && contentType != "text/html" {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize+1))
		if err != nil {
			return fallback(raw, err)
		}
		truncated := len(body) > maxPartSize
		if truncated {
			body = body[:maxPartSize]
		}
		text := strings.ToValidUTF8(string(body), "�")

		switch {
		case contentType == "text/plain":
			plain, plainTruncated = &text, truncated
		case html == nil:
			html, htmlTruncated = &text, truncated
		}
	}

	text, _ := pick(plain, html)
	if (plain != nil && plainTruncated) || (plain == nil && htmlTruncated) {
		return core.EmailContent{Text: text}, fmt.Errorf("%w: body part exceeds %d bytes", ErrTruncated, maxPartSize)
	}
	return core.EmailContent{Text: text}, nil
}

func pick(plain, html *string) (string, bool) {
	if plain != nil {
		return *plain, true
	}
	if html != nil {
		return *html, true
	}
	return "", false
}

func fallback(raw []byte, cause error) (core.EmailContent, error) {
	text := strings.ToValidUTF8(string(raw), "�")
	return core.EmailContent{Text: text}, fmt.Errorf("%w: %w", ErrMalformed, cause)
}
