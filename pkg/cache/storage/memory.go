package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage is an in-process PathStorage. It is the default backing
// store for tests and for hosts that do not want tokens on disk. One
// mutex covers the whole map, which trivially makes ReadModifyWrite
// linearizable per key.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.data[path]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), content...), nil
}

func (m *MemoryStorage) Write(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[path] = append([]byte(nil), content...)
	return nil
}

func (m *MemoryStorage) ReadModifyWrite(ctx context.Context, path string, modify func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := modify(append([]byte(nil), m.data[path]...))
	if err != nil {
		return err
	}
	m.data[path] = updated
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, path)
	return nil
}

func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if hasPathPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) DeleteContent(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.data {
		if hasPathPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

// hasPathPrefix matches on whole path segments so "ab" is not a prefix of
// "abc/d".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}
