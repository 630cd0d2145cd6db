// Package store opens the goleveldb databases every durable component uses
// and defines the small KV surface shared by databases and transactions.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// KV is implemented by both *leveldb.DB and *leveldb.Transaction, so the same
// accessors work inside and outside an atomic ledger call.
type KV interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	Put(key, value []byte, wo *opt.WriteOptions) error
	Delete(key []byte, wo *opt.WriteOptions) error
	Write(batch *leveldb.Batch, wo *opt.WriteOptions) error
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

var (
	_ KV = (*leveldb.DB)(nil)
	_ KV = (*leveldb.Transaction)(nil)
)

func NewLevelDB(path string, compactOnInit bool) (*leveldb.DB, error) {
	// if path is empty, use in memory db
	if path == "" {
		memStorage := storage.NewMemStorage()
		return leveldb.Open(memStorage, nil)
	}

	// open the database (or create)
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open level db %s: %w", path, err)
	}

	// compact the database if configured
	if compactOnInit {
		log.Info().Str("path", path).Msg("compacting leveldb...")
		err = db.CompactRange(util.Range{})
		if err != nil {
			return nil, fmt.Errorf("failed to compact level db %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("leveldb compacted")
	}

	return db, nil
}

// Key joins a prefix and a suffix into a fresh slice.
func Key(prefix string, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	k = append(k, prefix...)
	return append(k, suffix...)
}

// Uint64Key encodes v big-endian so keys sort numerically.
func Uint64Key(prefix string, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return Key(prefix, b[:])
}

func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// GetUint64 reads a counter, returning 0 when absent.
func GetUint64(kv KV, key []byte) (uint64, error) {
	raw, err := kv.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return DecodeUint64(raw)
}

func IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}
