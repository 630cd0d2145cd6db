package note

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/crypter"
	"github.com/btcq-org/qswap/store"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// EncryptionPurpose is the purpose notes are sealed under.
const EncryptionPurpose = "note"

const (
	notePrefix      = "n/"
	secretPrefix    = "s/"
	nullifierPrefix = "x/"
)

// Store is the holder's durable note store, keyed by commitment.
type Store interface {
	// Put inserts a new note. It fails with ErrDuplicateSecret or
	// ErrDuplicateCommitment if either is already stored.
	Put(ctx context.Context, n *Note) error
	// Update rewrites an existing note.
	Update(ctx context.Context, n *Note) error
	Get(ctx context.Context, commitment common.Felt) (*Note, error)
	Delete(ctx context.Context, commitment common.Felt) error
	HasSecret(ctx context.Context, secret common.Felt) (bool, error)
	// List returns every note ordered by leaf index.
	List(ctx context.Context) ([]*Note, error)
}

func secretKey(secret common.Felt) []byte {
	// the secret itself never appears in a key
	sum := sha256.Sum256(secret[:])
	return store.Key(secretPrefix, sum[:])
}

// LevelDBStore seals each note with a Crypter and indexes it by commitment,
// secret digest and nullifier in one batch.
type LevelDBStore struct {
	lock    sync.Mutex
	db      *leveldb.DB
	crypter crypter.Crypter
}

func NewLevelDBStore(db *leveldb.DB, c crypter.Crypter) *LevelDBStore {
	return &LevelDBStore{db: db, crypter: c}
}

func (s *LevelDBStore) seal(ctx context.Context, n *Note) ([]byte, error) {
	plain, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("fail to encode note: %w", err)
	}
	sealed, err := s.crypter.Encrypt(ctx, plain, EncryptionPurpose)
	if err != nil {
		return nil, fmt.Errorf("fail to encrypt note: %w", err)
	}
	return []byte(sealed), nil
}

func (s *LevelDBStore) open(ctx context.Context, raw []byte) (*Note, error) {
	plain, err := s.crypter.Decrypt(ctx, string(raw), EncryptionPurpose)
	if err != nil {
		return nil, fmt.Errorf("fail to decrypt note: %w", err)
	}
	var n Note
	if err := json.Unmarshal(plain, &n); err != nil {
		return nil, fmt.Errorf("fail to decode note: %w", err)
	}
	return &n, nil
}

func (s *LevelDBStore) Put(ctx context.Context, n *Note) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if ok, err := s.db.Has(secretKey(n.Secret), nil); err != nil {
		return err
	} else if ok {
		return common.ErrDuplicateSecret.Wrapf("note %s", n.Commitment)
	}
	if ok, err := s.db.Has(store.Key(notePrefix, n.Commitment[:]), nil); err != nil {
		return err
	} else if ok {
		return common.ErrDuplicateCommitment.Wrapf("note %s", n.Commitment)
	}
	sealed, err := s.seal(ctx, n)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(store.Key(notePrefix, n.Commitment[:]), sealed)
	batch.Put(secretKey(n.Secret), n.Commitment.Bytes())
	batch.Put(store.Key(nullifierPrefix, n.Nullifier[:]), n.Commitment.Bytes())
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) Update(ctx context.Context, n *Note) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := store.Key(notePrefix, n.Commitment[:])
	if ok, err := s.db.Has(key, nil); err != nil {
		return err
	} else if !ok {
		return common.ErrNotFound.Wrapf("note %s", n.Commitment)
	}
	sealed, err := s.seal(ctx, n)
	if err != nil {
		return err
	}
	return s.db.Put(key, sealed, nil)
}

func (s *LevelDBStore) Get(ctx context.Context, commitment common.Felt) (*Note, error) {
	raw, err := s.db.Get(store.Key(notePrefix, commitment[:]), nil)
	if store.IsNotFound(err) {
		return nil, common.ErrNotFound.Wrapf("note %s", commitment)
	}
	if err != nil {
		return nil, err
	}
	return s.open(ctx, raw)
}

func (s *LevelDBStore) Delete(ctx context.Context, commitment common.Felt) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, err := s.Get(ctx, commitment)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(store.Key(notePrefix, commitment[:]))
	batch.Delete(secretKey(n.Secret))
	batch.Delete(store.Key(nullifierPrefix, n.Nullifier[:]))
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) HasSecret(_ context.Context, secret common.Felt) (bool, error) {
	return s.db.Has(secretKey(secret), nil)
}

func (s *LevelDBStore) List(ctx context.Context) ([]*Note, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(notePrefix)), nil)
	defer iter.Release()
	var notes []*Note
	for iter.Next() {
		n, err := s.open(ctx, iter.Value())
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].LeafIndex < notes[j].LeafIndex })
	return notes, nil
}

// MemStore is an unencrypted in-memory Store for tests and ephemeral use.
type MemStore struct {
	lock    sync.RWMutex
	notes   map[common.Felt]Note
	secrets map[common.Felt]common.Felt
}

func NewMemStore() *MemStore {
	return &MemStore{
		notes:   make(map[common.Felt]Note),
		secrets: make(map[common.Felt]common.Felt),
	}
}

func (m *MemStore) Put(_ context.Context, n *Note) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.secrets[n.Secret]; ok {
		return common.ErrDuplicateSecret.Wrapf("note %s", n.Commitment)
	}
	if _, ok := m.notes[n.Commitment]; ok {
		return common.ErrDuplicateCommitment.Wrapf("note %s", n.Commitment)
	}
	m.notes[n.Commitment] = *n
	m.secrets[n.Secret] = n.Commitment
	return nil
}

func (m *MemStore) Update(_ context.Context, n *Note) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.notes[n.Commitment]; !ok {
		return common.ErrNotFound.Wrapf("note %s", n.Commitment)
	}
	m.notes[n.Commitment] = *n
	return nil
}

func (m *MemStore) Get(_ context.Context, commitment common.Felt) (*Note, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	n, ok := m.notes[commitment]
	if !ok {
		return nil, common.ErrNotFound.Wrapf("note %s", commitment)
	}
	return &n, nil
}

func (m *MemStore) Delete(_ context.Context, commitment common.Felt) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	n, ok := m.notes[commitment]
	if !ok {
		return common.ErrNotFound.Wrapf("note %s", commitment)
	}
	delete(m.notes, commitment)
	delete(m.secrets, n.Secret)
	return nil
}

func (m *MemStore) HasSecret(_ context.Context, secret common.Felt) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.secrets[secret]
	return ok, nil
}

func (m *MemStore) List(_ context.Context) ([]*Note, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	notes := make([]*Note, 0, len(m.notes))
	for _, n := range m.notes {
		n := n
		notes = append(notes, &n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].LeafIndex < notes[j].LeafIndex })
	return notes, nil
}
