package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/macrolens/foodfacts/internal/domain"
)

// MemoryStorage is a thread-safe string key-value storage with a total size
// ceiling, mirroring browser local storage semantics. Sizes count key and
// value bytes.
type MemoryStorage struct {
	data  map[string]string
	size  int64
	quota int64
	mutex sync.RWMutex
}

var _ domain.KeyValueStorage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a storage limited to quota bytes (0 means unlimited)
func NewMemoryStorage(quota int64) *MemoryStorage {
	return &MemoryStorage{
		data:  make(map[string]string),
		quota: quota,
	}
}

// Get retrieves a value from the storage
func (m *MemoryStorage) Get(ctx context.Context, key string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return "", domain.ErrCacheMiss
	}

	return value, nil
}

// Set stores a value, failing with domain.ErrQuotaExceeded when it would not fit
func (m *MemoryStorage) Set(ctx context.Context, key, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	newSize := m.size + entrySize(key, value)
	if old, exists := m.data[key]; exists {
		newSize -= entrySize(key, old)
	}

	if m.quota > 0 && newSize > m.quota {
		return domain.ErrQuotaExceeded
	}

	m.data[key] = value
	m.size = newSize
	return nil
}

// Remove deletes a value from the storage
func (m *MemoryStorage) Remove(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if old, exists := m.data[key]; exists {
		m.size -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns all keys in sorted order
func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the number of bytes used (for debugging/monitoring)
func (m *MemoryStorage) Size() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.size
}

// Len returns the current number of items
func (m *MemoryStorage) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.data)
}

// Clear removes all items
func (m *MemoryStorage) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.data = make(map[string]string)
	m.size = 0
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
