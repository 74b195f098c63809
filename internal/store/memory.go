package store

import (
	"context"
	"sync"
)

// Memory is a Backend kept in process memory. Documents are copied on the way in
// and out, so callers never share maps with the store.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Document)}
}

func (m *Memory) Create(_ context.Context, collection string, doc Document) (Document, error) {
	doc = ensureID(doc)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(collection, doc.ID()) >= 0 {
		return nil, ErrConflict
	}
	m.collections[collection] = append(m.collections[collection], doc)
	return clone(doc), nil
}

func (m *Memory) Read(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(collection, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return clone(m.collections[collection][i]), nil
}

func (m *Memory) ReadAll(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.collections[collection]
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, clone(d))
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, collection, id string, partial Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(collection, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	updated := merge(m.collections[collection][i], partial)
	m.collections[collection][i] = updated
	return clone(updated), nil
}

func (m *Memory) Replace(_ context.Context, collection, id string, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(collection, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	m.collections[collection][i] = replacement(id, doc)
	return clone(m.collections[collection][i]), nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(collection, id)
	if i < 0 {
		return false, nil
	}
	docs := m.collections[collection]
	m.collections[collection] = append(docs[:i:i], docs[i+1:]...)
	return true, nil
}

func (m *Memory) FindByField(_ context.Context, collection, field string, value any) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.collections[collection] {
		if matches(d, field, value) {
			return clone(d), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindAllByField(_ context.Context, collection, field string, value any) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.collections[collection] {
		if matches(d, field, value) {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) indexOf(collection, id string) int {
	for i, d := range m.collections[collection] {
		if d.ID() == id {
			return i
		}
	}
	return -1
}
