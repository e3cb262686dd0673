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


package core

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// MessageTypeEmail is the queued message kind produced for inbound email.
const MessageTypeEmail = "email"

// ID is a unique identifier for stored messages.
// It is assigned by the message store at insert time.
type ID uint64

// String returns the decimal form of the ID, which is also the key used by
// the vector index.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// RawEmail is an inbound message as received from the mail boundary.
// It only lives for the duration of ingestion.
type RawEmail struct {
	From string
	To   string
	Raw  []byte
}

// EmailContent is the text extracted from a RawEmail.
type EmailContent struct {
	Text string
}

// QueuedMessage is the payload carried on the ingestion queue.
type QueuedMessage struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// NewEmailMessage wraps extracted email text for the ingestion queue.
func NewEmailMessage(content EmailContent) QueuedMessage {
	return QueuedMessage{Type: MessageTypeEmail, Body: content.Text}
}

// StoredMessage is a processed message persisted by the message store.
type StoredMessage struct {
	ID        ID        `json:"id"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"` // Assigned by the store at insert
}

// Embeddable reports whether the message has text worth embedding.
// Embedding endpoints reject empty input, so blank messages stay unindexed.
func (m *StoredMessage) Embeddable() bool {
	return strings.TrimSpace(m.Text) != ""
}

// Embedding is the vector for a StoredMessage, keyed by the message ID string.
type Embedding struct {
	ID     string
	Values []float32
}

// NewEmbedding builds the index entry for a stored message.
func NewEmbedding(id ID, values []float32) Embedding {
	return Embedding{ID: id.String(), Values: values}
}

// Summary is a generated digest of stored messages.
type Summary struct {
	Text string `json:"summary"`
}

// Match is a vector index hit.
type Match struct {
	ID    string
	Score float32
}

// SearchResult is a stored message with its similarity score.
type SearchResult struct {
	Message *StoredMessage `json:"message"`
	Score   float32        `json:"score"`
}
