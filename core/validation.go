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

import "fmt"

// ValidateQueuedMessage checks that a queued message can be handled by the consumer.
//
// Validation rules:
//   - Type must be MessageTypeEmail
//
// An empty Body is valid: a message with no extractable text is still stored.
func ValidateQueuedMessage(msg QueuedMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("%w: type is empty", ErrInvalidQueuedMessage)
	}
	if msg.Type != MessageTypeEmail {
		return fmt.Errorf("%w: %w %q", ErrInvalidQueuedMessage, ErrUnknownMessageType, msg.Type)
	}
	return nil
}

// ValidateEmbedding validates an Embedding before it is written to a vector index.
func ValidateEmbedding(e Embedding) error {
	if e.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyID)
	}
	if len(e.Values) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyVector)
	}
	return nil
}
