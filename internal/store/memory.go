package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
)

// memoryStore keeps outputs in process memory.
type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		objects: make(map[string][]byte),
	}
}

// Put copies data into memory under a fresh key.
func (m *memoryStore) Put(ctx context.Context, name string, data []byte, contentType string) (Handle, error) {
	key := path.Join(uuid.NewString(), name)
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[key] = buf
	m.mu.Unlock()

	return Handle{
		Key:         key,
		URL:         "mem://" + key,
		Size:        int64(len(buf)),
		ContentType: contentType,
	}, nil
}

// Open returns a reader over the stored bytes.
func (m *memoryStore) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[h.Key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, h.Key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Release drops the stored bytes.
func (m *memoryStore) Release(ctx context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[h.Key]; !ok {
		return fmt.Errorf("%w: %s", ErrHandleNotFound, h.Key)
	}
	delete(m.objects, h.Key)
	return nil
}

// Len reports how many objects are currently held. Used by tests to detect leaks.
func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
