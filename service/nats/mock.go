package nats

import (
	"context"
	"sync"

	"github.com/brojonat/nftvault/service/txn"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*StateEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*StateEvent, 0),
	}
}

// Publish records the event and returns any configured error.
func (m *MockPublisher) Publish(ctx context.Context, event *StateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishState records the state as an event.
func (m *MockPublisher) PublishState(ctx context.Context, wallet string, state txn.State) error {
	return m.Publish(ctx, FromState(wallet, state))
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*StateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StateEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForWallet returns events published for a specific wallet.
func (m *MockPublisher) GetPublishedEventsForWallet(wallet string) []*StateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StateEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Wallet == wallet {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on Publish.
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
