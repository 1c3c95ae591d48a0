package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lendpool/storage"
)

var errInvalidSnapshot = errors.New("state: invalid snapshot revision")

// batchWriter is implemented by backends that can apply a commit atomically.
type batchWriter interface {
	WriteBatch(entries map[string][]byte) error
}

// journalEntry remembers the dirty value a key held before a write so the write
// can be undone.
type journalEntry struct {
	key     string
	prev    []byte
	hadPrev bool
}

// Manager provides RLP-encoded key/value access to protocol state. Writes are
// buffered in memory until Commit. Snapshot and RevertToSnapshot give callers
// all-or-nothing semantics for a single operation, mirroring the revision model
// of an EVM state database.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
	// revisions holds journal lengths indexed by snapshot id.
	revisions []int
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

func kvKey(key []byte) string {
	return string(ethcrypto.Keccak256(key))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the backend.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode: %w", err)
	}
	m.write(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode: %w", err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil)
	return nil
}

func (m *Manager) read(hashed string) ([]byte, error) {
	if value, ok := m.dirty[hashed]; ok {
		return value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	value, err := m.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) write(hashed string, value []byte) {
	prev, hadPrev := m.dirty[hashed]
	m.journal = append(m.journal, journalEntry{key: hashed, prev: prev, hadPrev: hadPrev})
	m.dirty[hashed] = value
}

// Snapshot returns a revision identifier for the current buffered state.
func (m *Manager) Snapshot() int {
	id := len(m.revisions)
	m.revisions = append(m.revisions, len(m.journal))
	return id
}

// RevertToSnapshot undoes every write recorded after the snapshot was taken.
// Snapshots taken after the reverted one become invalid.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.revisions) {
		panic(errInvalidSnapshot)
	}
	target := m.revisions[id]
	for i := len(m.journal) - 1; i >= target; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:target]
	m.revisions = m.revisions[:id]
}

// Dirty reports the number of keys buffered for the next commit.
func (m *Manager) Dirty() int {
	return len(m.dirty)
}

// Commit flushes every buffered write to the backing database and resets the
// journal. Backends that support batches receive the writes atomically.
func (m *Manager) Commit() error {
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if len(m.dirty) > 0 {
		if writer, ok := m.db.(batchWriter); ok {
			if err := writer.WriteBatch(m.dirty); err != nil {
				return fmt.Errorf("state: commit batch: %w", err)
			}
		} else {
			keys := make([]string, 0, len(m.dirty))
			for key := range m.dirty {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				value := m.dirty[key]
				var err error
				if value == nil {
					err = m.db.Delete([]byte(key))
				} else {
					err = m.db.Put([]byte(key), value)
				}
				if err != nil {
					return fmt.Errorf("state: commit %x: %w", key, err)
				}
			}
		}
	}
	m.Discard()
	return nil
}

// Discard drops every buffered write without touching the database.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.journal = nil
	m.revisions = nil
}
