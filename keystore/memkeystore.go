package keystore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// memoryKeyStore keeps keys for the life of the process. Tests and one-shot
// swaps use it when nothing should touch the disk.
type memoryKeyStore struct {
	lock sync.RWMutex
	keys map[string][]byte
}

func NewMemoryKeyStore() Keystore {
	return &memoryKeyStore{keys: make(map[string][]byte)}
}

func (m *memoryKeyStore) Put(name string, k PrivKey) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.keys[name]; ok {
		return fmt.Errorf("keystore: key %q already exists", name)
	}
	// callers may reuse k.Body
	m.keys[name] = bytes.Clone(k.Body)
	return nil
}

func (m *memoryKeyStore) Get(name string) (PrivKey, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	body, ok := m.keys[name]
	if !ok {
		return PrivKey{}, ErrKeyNotFound
	}
	return PrivKey{Body: bytes.Clone(body)}, nil
}

func (m *memoryKeyStore) Delete(name string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.keys[name]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	delete(m.keys, name)
	return nil
}

func (m *memoryKeyStore) List() ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	names := make([]string, 0, len(m.keys))
	for name := range m.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
