package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	published    []*LifecycleEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{published: make([]*LifecycleEvent, 0)}
}

// PublishEvent records the event and returns any configured error.
func (m *MockPublisher) PublishEvent(ctx context.Context, event *LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PublishedEvents returns a copy of all published events.
func (m *MockPublisher) PublishedEvents() []*LifecycleEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*LifecycleEvent, len(m.published))
	copy(events, m.published)
	return events
}

// PublishedEventsOfKind returns events published with the given kind.
func (m *MockPublisher) PublishedEventsOfKind(kind string) []*LifecycleEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*LifecycleEvent, 0)
	for _, event := range m.published {
		if event.Kind == kind {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
