package mock

import (
	"context"
	"sync"

	"github.com/poiesic/maildigest/ai"
)

// MockCompleter is a test double for ai.Completer that records every request.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	// If nil, returns Reply.
	CompleteFunc func(ctx context.Context, turns []ai.Turn) (string, error)

	// Reply is returned when CompleteFunc is nil.
	Reply string

	mu    sync.Mutex
	calls [][]ai.Turn
}

// NewMockCompleter creates a mock completer that answers with reply.
func NewMockCompleter(reply string) *MockCompleter {
	return &MockCompleter{Reply: reply}
}

func (m *MockCompleter) Complete(ctx context.Context, turns []ai.Turn) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]ai.Turn(nil), turns...))
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, turns)
	}
	return m.Reply, nil
}

// Calls returns a copy of the turns received by each call.
func (m *MockCompleter) Calls() [][]ai.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]ai.Turn(nil), m.calls...)
}

// LastTurns returns the turns of the most recent call, or nil.
func (m *MockCompleter) LastTurns() []ai.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
