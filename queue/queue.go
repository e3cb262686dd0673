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


package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poiesic/maildigest/core"
)

// Publisher enqueues messages for the consumer.
// Publish returns only once the message is durably accepted by the queue.
type Publisher interface {
	Publish(ctx context.Context, msg core.QueuedMessage) error
	Close() error
}

// Delivery is one received message awaiting settlement.
// Exactly one of Ack, Retry or Reject should be called per delivery.
type Delivery interface {
	// ID is the broker-assigned message id, or "" if none was set.
	ID() string
	Body() []byte

	// Attempts counts deliveries of this message including this one, so a
	// first delivery reports 1.
	Attempts() int

	// Ack removes the message from the queue.
	Ack() error
	// Retry returns the message to the queue for redelivery with Attempts
	// incremented.
	Retry() error
	// Reject drops the message, routing it to a dead-letter queue when one is configured.
	Reject() error
}

// Source yields deliveries in batches.
type Source interface {
	// Receive blocks until at least one delivery is available or ctx is done,
	// then returns up to max deliveries without further blocking.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Close() error
}

// Encode serializes a queued message to its JSON wire form.
func Encode(msg core.QueuedMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses the JSON wire form. Payloads that are not a JSON object
// with a string "type" field are reported as ErrMalformedPayload.
func Decode(body []byte) (core.QueuedMessage, error) {
	var msg core.QueuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return core.QueuedMessage{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return msg, nil
}
