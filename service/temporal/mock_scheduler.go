package temporal

import (
	"context"
	"sync"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu       sync.Mutex
	started  map[string]string // map[workflowID]kind
	startErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		started: make(map[string]string),
	}
}

// StartConfirmation records that a confirmation workflow was started.
func (m *MockScheduler) StartConfirmation(ctx context.Context, signature, kind string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return "", m.startErr
	}
	id := confirmationWorkflowID(signature)
	m.started[id] = kind
	return id, nil
}

// SetStartError makes StartConfirmation return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started reports whether confirmation was started for a signature, and with which kind.
func (m *MockScheduler) Started(signature string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, ok := m.started[confirmationWorkflowID(signature)]
	return kind, ok
}

// StartedCount returns the number of started workflows.
func (m *MockScheduler) StartedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// Reset clears all recorded workflows and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(map[string]string)
	m.startErr = nil
}
