package entitlement

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and for local runs without a
// Stripe key. It records every call so callers can assert on remote traffic.
type MemoryStore struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	active      map[string]bool
	calls       []string

	// FailOn makes the named operation ("find", "get", "active", "merge")
	// return an error.
	FailOn map[string]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[string]*Subscriber),
		active:      make(map[string]bool),
		FailOn:      make(map[string]error),
	}
}

// Put inserts or replaces a subscriber and its subscription state.
func (m *MemoryStore) Put(sub *Subscriber, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[sub.CustomerID] = cloneSubscriber(sub)
	m.active[sub.CustomerID] = active
}

// SetActive flips the subscription state of a customer.
func (m *MemoryStore) SetActive(customerID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[customerID] = active
}

// Snapshot returns a copy of the stored subscriber.
func (m *MemoryStore) Snapshot(customerID string) *Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSubscriber(m.subscribers[customerID])
}

// Calls returns the operations invoked so far.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MemoryStore) record(op string) error {
	m.calls = append(m.calls, op)
	if err := m.FailOn[op]; err != nil {
		return fmt.Errorf("memory store %s: %w", op, err)
	}
	return nil
}

func (m *MemoryStore) FindByAccessToken(_ context.Context, token string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("find"); err != nil {
		return nil, err
	}
	for _, sub := range m.subscribers {
		if token != "" && sub.Metadata[MetaAccessToken] == token {
			return cloneSubscriber(sub), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Get(_ context.Context, customerID string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get"); err != nil {
		return nil, err
	}
	sub, ok := m.subscribers[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubscriber(sub), nil
}

func (m *MemoryStore) HasActiveSubscription(_ context.Context, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("active"); err != nil {
		return false, err
	}
	return m.active[customerID], nil
}

func (m *MemoryStore) MergeMetadata(_ context.Context, customerID string, updates map[string]string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("merge"); err != nil {
		return nil, err
	}
	sub, ok := m.subscribers[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	sub.Metadata = MergeMetadata(sub.Metadata, updates)
	return cloneSubscriber(sub), nil
}
