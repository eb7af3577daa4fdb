package board

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. It is the default store for
// a single-process server and the store the engine tests run against.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	notifier *notifier
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     map[string]Document{},
		notifier: newNotifier(),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *MemoryStore) Create(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	now := m.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	m.notifier.notify(doc)
	return doc, nil
}

func (m *MemoryStore) Put(_ context.Context, id string, data string) (Document, error) {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return Document{}, ErrNotFound
	}
	doc.Data = data
	doc.UpdatedAt = m.now().UTC()
	m.docs[id] = doc
	m.mu.Unlock()
	m.notifier.notify(doc)
	return doc, nil
}

func (m *MemoryStore) Watch(_ context.Context, id string, fn func(Document)) (func(), error) {
	return m.notifier.add(id, fn), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
