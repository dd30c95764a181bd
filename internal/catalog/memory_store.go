package catalog

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps entries in process; it backs the cache in tests and
// when no shared backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (ms *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	entry, ok := ms.entries[key]
	if !ok {
		return nil, nil
	}
	return &Entry{Data: slices.Clone(entry.Data), Date: entry.Date}, nil
}

func (ms *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = Entry{Data: slices.Clone(entry.Data), Date: entry.Date}
	return nil
}

func (ms *MemoryStore) update(key string, fn func([]string) []string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.entries[key]
	if !ok {
		return
	}
	entry.Data = fn(entry.Data)
	ms.entries[key] = entry
}

func (ms *MemoryStore) Append(_ context.Context, key, item string) error {
	ms.update(key, func(data []string) []string { return appendItem(data, item) })
	return nil
}

func (ms *MemoryStore) Remove(_ context.Context, key, item string) error {
	ms.update(key, func(data []string) []string { return removeItem(data, item) })
	return nil
}

func (ms *MemoryStore) Replace(_ context.Context, key, old, item string) error {
	ms.update(key, func(data []string) []string { return appendItem(removeItem(data, old), item) })
	return nil
}

func appendItem(data []string, item string) []string {
	if slices.Contains(data, item) {
		return data
	}
	return append(slices.Clone(data), item)
}

func removeItem(data []string, item string) []string {
	return slices.DeleteFunc(slices.Clone(data), func(s string) bool { return s == item })
}
