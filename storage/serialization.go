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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/maildigest/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalStoredMessage serializes a StoredMessage to bytes.
// Layout: varint id, length-prefixed text, varint unix micro timestamp.
func MarshalStoredMessage(msg *core.StoredMessage) []byte {
	ts := msg.CreatedAt.UnixMicro()
	size := varint.Uint64.Size(uint64(msg.ID)) + ord.String.Size(msg.Text) + varint.Int64.Size(ts)
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(msg.ID), buf)
	n += ord.String.Marshal(msg.Text, buf[n:])
	varint.Int64.Marshal(ts, buf[n:])
	return buf
}

// UnmarshalStoredMessage deserializes a StoredMessage from bytes.
func UnmarshalStoredMessage(data []byte) (*core.StoredMessage, error) {
	id, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", ErrSerializationFailed, err)
	}
	text, n1, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: text: %w", ErrSerializationFailed, err)
	}
	n += n1
	ts, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", ErrSerializationFailed, err)
	}
	return &core.StoredMessage{
		ID:        core.ID(id),
		Text:      text,
		CreatedAt: time.UnixMicro(ts).UTC(),
	}, nil
}

// MarshalVector serializes a vector as a varint length followed by fixed-width float32 values.
func MarshalVector(vector []float32) []byte {
	size := varint.Uint64.Size(uint64(len(vector)))
	for _, v := range vector {
		size += raw.Float32.Size(v)
	}
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(vector)), buf)
	for _, v := range vector {
		n += raw.Float32.Marshal(v, buf[n:])
	}
	return buf
}

// UnmarshalVector deserializes a vector produced by MarshalVector.
func UnmarshalVector(data []byte) ([]float32, error) {
	length, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector length: %w", ErrSerializationFailed, err)
	}
	if length > uint64(len(data)) {
		return nil, fmt.Errorf("%w: vector length %d exceeds data", ErrTruncatedData, length)
	}
	vector := make([]float32, length)
	for i := range vector {
		v, n1, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: vector element %d: %w", ErrSerializationFailed, i, err)
		}
		vector[i] = v
		n += n1
	}
	return vector, nil
}

// QueueEntry is one message held by a persistent queue.
type QueueEntry struct {
	ID       string
	Attempts int
	Body     []byte
}

// MarshalQueueEntry serializes a QueueEntry.
// Layout: length-prefixed id, varint attempts, length-prefixed body.
func MarshalQueueEntry(e QueueEntry) []byte {
	size := ord.String.Size(e.ID) + varint.Int.Size(e.Attempts) + ord.ByteSlice.Size(e.Body)
	buf := make([]byte, size)
	n := ord.String.Marshal(e.ID, buf)
	n += varint.Int.Marshal(e.Attempts, buf[n:])
	ord.ByteSlice.Marshal(e.Body, buf[n:])
	return buf
}

// UnmarshalQueueEntry deserializes a QueueEntry produced by MarshalQueueEntry.
func UnmarshalQueueEntry(data []byte) (QueueEntry, error) {
	id, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("%w: queue entry id: %w", ErrSerializationFailed, err)
	}
	attempts, n1, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return QueueEntry{}, fmt.Errorf("%w: queue entry attempts: %w", ErrSerializationFailed, err)
	}
	n += n1
	body, _, err := ord.ByteSlice.Unmarshal(data[n:])
	if err != nil {
		return QueueEntry{}, fmt.Errorf("%w: queue entry body: %w", ErrSerializationFailed, err)
	}
	return QueueEntry{ID: id, Attempts: attempts, Body: body}, nil
}
