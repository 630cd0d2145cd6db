// Package keeper is the ledger-side mirror of the swap protocol: the on-ledger
// commitment accumulator and nullifier registry, the Bitcoin header chain and
// the authoritative swap state machine. Every entry point runs atomically in
// one leveldb transaction.
package keeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
)

type Keeper struct {
	lock     sync.RWMutex
	db       *leveldb.DB
	hasher   hasher.Hasher
	params   types.Params
	verifier types.OwnershipVerifier
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Keeper)

// WithOwnershipVerifier requires and checks an ownership proof on every spend.
func WithOwnershipVerifier(v types.OwnershipVerifier) Option {
	return func(k *Keeper) { k.verifier = v }
}

func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

func NewKeeper(db *leveldb.DB, h hasher.Hasher, params types.Params, opts ...Option) (*Keeper, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	k := &Keeper{
		db:     db,
		hasher: h,
		params: params,
		now:    time.Now,
		logger: log.With().Str("module", "swap_keeper").Logger(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Keeper) Params() types.Params {
	return k.params
}

// atomic runs fn in one transaction under the keeper lock. Any error
// discards every write fn made.
func (k *Keeper) atomic(fn func(tx *leveldb.Transaction) error) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	tx, err := k.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("fail to open transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fail to commit transaction: %w", err)
	}
	return nil
}

// view runs fn against committed state.
func (k *Keeper) view(fn func(kv store.KV) error) error {
	k.lock.RLock()
	defer k.lock.RUnlock()
	return fn(k.db)
}

func getJSON[T any](kv store.KV, key []byte, what string) (*T, error) {
	raw, err := kv.Get(key, nil)
	if store.IsNotFound(err) {
		return nil, common.ErrNotFound.Wrap(what)
	}
	if err != nil {
		return nil, fmt.Errorf("fail to read %s: %w", what, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("fail to decode %s: %w", what, err)
	}
	return &v, nil
}

func putJSON(kv store.KV, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fail to encode %T: %w", v, err)
	}
	return kv.Put(key, buf, nil)
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

func has(kv store.KV, key []byte) (bool, error) {
	ok, err := kv.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("fail to read store: %w", err)
	}
	return ok, nil
}

// emit appends an event to the log inside tx.
func (k *Keeper) emit(tx store.KV, e types.Event) error {
	seq, err := store.GetUint64(tx, []byte(types.EventCountKey))
	if err != nil {
		return fmt.Errorf("fail to read event count: %w", err)
	}
	e.Seq = seq
	e.Time = k.now().UTC()
	if err := putJSON(tx, store.Uint64Key(types.EventPrefix, seq), e); err != nil {
		return err
	}
	if err := tx.Put([]byte(types.EventCountKey), store.EncodeUint64(seq+1), nil); err != nil {
		return fmt.Errorf("fail to write event count: %w", err)
	}
	k.logger.Debug().Str("type", e.Type).Uint64("seq", seq).Interface("attributes", e.Attributes).Msg("event")
	return nil
}
