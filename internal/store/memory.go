package store

import (
	"sync"
	"time"
)

// subscriberBuffer is the channel buffer size for each subscriber.
const subscriberBuffer = 32

// MemoryStore is an in-memory implementation of [Store].
//
// Updates are sent to subscribers non-blocking; if a subscriber's buffer is
// full, the update is dropped for that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	latest      OutputStatus
	subscribers map[chan OutputStatus]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a store whose latest status is "off".
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:      OutputStatus{Mode: "off", Result: "idle", ChangedAt: time.Now()},
		subscribers: make(map[chan OutputStatus]struct{}),
	}
}

// Update stores status as the latest and notifies all subscribers. The Seq
// field is assigned by the store.
func (m *MemoryStore) Update(status OutputStatus) {
	m.mu.Lock()
	status.Seq = m.latest.Seq + 1
	if status.ChangedAt.IsZero() {
		status.ChangedAt = time.Now()
	}
	m.latest = status
	m.mu.Unlock()

	m.notifySubscribers(status)
}

// Latest returns the most recent status.
func (m *MemoryStore) Latest() OutputStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Subscribe creates a new subscription.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan OutputStatus {
	ch := make(chan OutputStatus, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan OutputStatus) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *MemoryStore) SubscriberCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers)
}

func (m *MemoryStore) notifySubscribers(status OutputStatus) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- status:
		default:
			// subscriber is slow, drop the update
		}
	}
}
