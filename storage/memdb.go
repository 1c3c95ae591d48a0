package storage

import "sync"

// MemDB is a map-backed Database for tests and throwaway runs. Values are
// copied on the way in and out.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if value, ok := m.data[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return nil, ErrNotFound
}

func (m *MemDB) Put(key []byte, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// WriteBatch mirrors LevelDB.WriteBatch under a single lock.
func (m *MemDB) WriteBatch(entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		if value == nil {
			delete(m.data, key)
			continue
		}
		m.data[key] = append([]byte(nil), value...)
	}
	return nil
}

// Len reports the number of stored keys.
func (m *MemDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemDB) Close() error { return nil }
