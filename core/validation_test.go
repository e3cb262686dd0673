package core

import (
	"errors"
	"testing"
)

func TestValidateQueuedMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     QueuedMessage
		wantErr error
	}{
		{
			name:    "valid email",
			msg:     QueuedMessage{Type: MessageTypeEmail, Body: "hello"},
			wantErr: nil,
		},
		{
			name:    "email with empty body",
			msg:     QueuedMessage{Type: MessageTypeEmail},
			wantErr: nil,
		},
		{
			name:    "missing type",
			msg:     QueuedMessage{Body: "hello"},
			wantErr: ErrInvalidQueuedMessage,
		},
		{
			name:    "unknown type",
			msg:     QueuedMessage{Type: "sms", Body: "hello"},
			wantErr: ErrUnknownMessageType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQueuedMessage(tt.msg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateQueuedMessage() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateQueuedMessage() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidQueuedMessage) {
				t.Errorf("ValidateQueuedMessage() error = %v, should wrap ErrInvalidQueuedMessage", err)
			}
		})
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding Embedding
		wantErr   error
	}{
		{
			name:      "valid",
			embedding: Embedding{ID: "1", Values: []float32{0.5}},
		},
		{
			name:      "empty id",
			embedding: Embedding{Values: []float32{0.5}},
			wantErr:   ErrEmptyID,
		},
		{
			name:      "empty vector",
			embedding: Embedding{ID: "1"},
			wantErr:   ErrEmptyVector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.embedding)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateEmbedding() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrInvalidEmbedding) {
				t.Errorf("ValidateEmbedding() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
