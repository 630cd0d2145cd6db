package merkle

import (
	"fmt"
	"sync"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/syndtr/goleveldb/leveldb"
)

// LeafStore persists the ordered leaf sequence of an accumulator.
type LeafStore interface {
	Len() (uint64, error)
	Leaf(index uint64) (common.Felt, error)
	IndexOf(leaf common.Felt) (uint64, bool, error)
	Append(leaf common.Felt) (uint64, error)
}

// MemLeafStore keeps leaves in memory.
type MemLeafStore struct {
	lock   sync.RWMutex
	leaves []common.Felt
	index  map[common.Felt]uint64
}

func NewMemLeafStore() *MemLeafStore {
	return &MemLeafStore{index: make(map[common.Felt]uint64)}
}

func (m *MemLeafStore) Len() (uint64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return uint64(len(m.leaves)), nil
}

func (m *MemLeafStore) Leaf(index uint64) (common.Felt, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if index >= uint64(len(m.leaves)) {
		return common.ZeroFelt, common.ErrLeafIndexOutOfRange.Wrapf("index %d, leaf count %d", index, len(m.leaves))
	}
	return m.leaves[index], nil
}

func (m *MemLeafStore) IndexOf(leaf common.Felt) (uint64, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	idx, ok := m.index[leaf]
	return idx, ok, nil
}

func (m *MemLeafStore) Append(leaf common.Felt) (uint64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.index[leaf]; ok {
		return 0, common.ErrDuplicateCommitment.Wrapf("leaf %s", leaf)
	}
	idx := uint64(len(m.leaves))
	m.leaves = append(m.leaves, leaf)
	m.index[leaf] = idx
	return idx, nil
}

// KVLeafStore keeps leaves in leveldb under a key prefix. It works on a
// database as well as on an open transaction.
type KVLeafStore struct {
	kv     store.KV
	prefix string
}

func NewKVLeafStore(kv store.KV, prefix string) *KVLeafStore {
	return &KVLeafStore{kv: kv, prefix: prefix}
}

func (s *KVLeafStore) countKey() []byte {
	return store.Key(s.prefix, []byte("count"))
}

func (s *KVLeafStore) leafKey(index uint64) []byte {
	return store.Uint64Key(s.prefix+"l/", index)
}

func (s *KVLeafStore) indexKey(leaf common.Felt) []byte {
	return store.Key(s.prefix+"c/", leaf[:])
}

func (s *KVLeafStore) Len() (uint64, error) {
	return store.GetUint64(s.kv, s.countKey())
}

func (s *KVLeafStore) Leaf(index uint64) (common.Felt, error) {
	raw, err := s.kv.Get(s.leafKey(index), nil)
	if store.IsNotFound(err) {
		return common.ZeroFelt, common.ErrLeafIndexOutOfRange.Wrapf("index %d", index)
	}
	if err != nil {
		return common.ZeroFelt, fmt.Errorf("fail to read leaf %d: %w", index, err)
	}
	return common.NewFeltFromBytes(raw)
}

func (s *KVLeafStore) IndexOf(leaf common.Felt) (uint64, bool, error) {
	raw, err := s.kv.Get(s.indexKey(leaf), nil)
	if store.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("fail to read leaf index: %w", err)
	}
	idx, err := store.DecodeUint64(raw)
	return idx, err == nil, err
}

func (s *KVLeafStore) Append(leaf common.Felt) (uint64, error) {
	if _, ok, err := s.IndexOf(leaf); err != nil {
		return 0, err
	} else if ok {
		return 0, common.ErrDuplicateCommitment.Wrapf("leaf %s", leaf)
	}
	idx, err := s.Len()
	if err != nil {
		return 0, fmt.Errorf("fail to read leaf count: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(s.leafKey(idx), leaf.Bytes())
	batch.Put(s.indexKey(leaf), store.EncodeUint64(idx))
	batch.Put(s.countKey(), store.EncodeUint64(idx+1))
	if err := s.kv.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("fail to append leaf: %w", err)
	}
	return idx, nil
}

// Leaves reads every leaf of s in order.
func Leaves(s LeafStore) ([]common.Felt, error) {
	n, err := s.Len()
	if err != nil {
		return nil, err
	}
	out := make([]common.Felt, 0, n)
	for i := uint64(0); i < n; i++ {
		leaf, err := s.Leaf(i)
		if err != nil {
			return nil, err
		}
		out = append(out, leaf)
	}
	return out, nil
}
