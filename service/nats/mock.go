package nats

import (
	"context"
	"sync"
)

// MockPublisher records events in memory. It satisfies Publisher.
type MockPublisher struct {
	mu         sync.RWMutex
	events     []*SubmissionEvent
	batchCalls int
	err        error
	batchErr   error
	closed     bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishSubmission(ctx context.Context, event *SubmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// PublishSubmissionBatch records the whole batch or nothing.
func (m *MockPublisher) PublishSubmissionBatch(ctx context.Context, events []*SubmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchCalls++
	if m.batchErr != nil {
		return m.batchErr
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of everything published so far.
func (m *MockPublisher) GetPublishedEvents() []*SubmissionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*SubmissionEvent(nil), m.events...)
}

func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// GetPublishedEventsForSignature returns the events about one transaction,
// in publish order.
func (m *MockPublisher) GetPublishedEventsForSignature(signature string) []*SubmissionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*SubmissionEvent
	for _, e := range m.events {
		if e.Signature == signature {
			out = append(out, e)
		}
	}
	return out
}

// BatchCallCount reports how many times PublishSubmissionBatch was called.
func (m *MockPublisher) BatchCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCalls
}

func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
