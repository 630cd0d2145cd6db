package note

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/merkle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxSecretDraws bounds how many fresh secrets are drawn before giving up on
// finding an unused one.
const maxSecretDraws = 8

// Engine creates notes and inserts their commitments into the holder's
// accumulator. Note creation is single-writer.
type Engine struct {
	lock   sync.Mutex
	hasher hasher.Hasher
	acc    *merkle.Accumulator
	store  Store
	rand   io.Reader
	now    func() time.Time
	logger zerolog.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithRandom sets the randomness source for generated secrets.
func WithRandom(r io.Reader) EngineOption {
	return func(e *Engine) { e.rand = r }
}

// WithClock sets the clock stamping CreatedAt.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(h hasher.Hasher, acc *merkle.Accumulator, s Store, opts ...EngineOption) *Engine {
	e := &Engine{
		hasher: h,
		acc:    acc,
		store:  s,
		now:    time.Now,
		logger: log.With().Str("module", "note_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Accumulator() *merkle.Accumulator {
	return e.acc
}

func (e *Engine) Hasher() hasher.Hasher {
	return e.hasher
}

// GenerateNote creates a note for recipient. When secret is nil a fresh one is
// drawn. The note gets the accumulator's current leaf count as its leaf index
// and its commitment is inserted.
func (e *Engine) GenerateNote(ctx context.Context, amount common.Amount, recipient common.Felt, secret *common.Felt) (*Note, error) {
	if err := common.ValidateAmount(amount); err != nil {
		return nil, err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	s, err := e.pickSecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	d, err := Derive(ctx, e.hasher, amount, recipient, s)
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.acc.Contains(d.Commitment); err != nil {
		return nil, err
	} else if exists {
		return nil, common.ErrDuplicateCommitment.Wrapf("commitment %s", d.Commitment)
	}
	leafIndex, err := e.acc.Len()
	if err != nil {
		return nil, err
	}

	n := &Note{
		Amount:            amount,
		RecipientIdentity: recipient,
		Secret:            s,
		Nullifier:         d.Nullifier,
		Commitment:        d.Commitment,
		AmountCommitment:  d.AmountCommitment,
		LeafIndex:         leafIndex,
		CreatedAt:         e.now().UTC(),
	}
	// the note is persisted before its leaf so a crash in between is healed by
	// Reconcile instead of leaving an orphan leaf
	if err := e.store.Put(ctx, n); err != nil {
		return nil, err
	}
	idx, err := e.acc.Insert(ctx, n.Commitment)
	if err != nil {
		if delErr := e.store.Delete(ctx, n.Commitment); delErr != nil {
			e.logger.Error().Err(delErr).Str("commitment", n.Commitment.Hex()).Msg("fail to roll back note")
		}
		return nil, err
	}
	if idx != leafIndex {
		return nil, fmt.Errorf("leaf index moved from %d to %d during insertion", leafIndex, idx)
	}
	e.logger.Info().Uint64("leaf_index", idx).Str("commitment", n.Commitment.Hex()).Msg("note generated")
	return n, nil
}

func (e *Engine) pickSecret(ctx context.Context, secret *common.Felt) (common.Felt, error) {
	if secret != nil {
		used, err := e.store.HasSecret(ctx, *secret)
		if err != nil {
			return common.ZeroFelt, err
		}
		if used {
			return common.ZeroFelt, common.ErrDuplicateSecret.Wrap("secret already backs a stored note")
		}
		return *secret, nil
	}
	for range maxSecretDraws {
		s, err := hasher.RandomFelt(e.hasher, e.rand)
		if err != nil {
			return common.ZeroFelt, err
		}
		used, err := e.store.HasSecret(ctx, s)
		if err != nil {
			return common.ZeroFelt, err
		}
		if !used && !s.IsZero() {
			return s, nil
		}
	}
	return common.ZeroFelt, fmt.Errorf("fail to draw an unused secret")
}

// RecomputeNote derives a note's fields without touching any state.
func (e *Engine) RecomputeNote(ctx context.Context, amount common.Amount, recipient, secret common.Felt) (*Note, error) {
	d, err := Derive(ctx, e.hasher, amount, recipient, secret)
	if err != nil {
		return nil, err
	}
	return &Note{
		Amount:            amount,
		RecipientIdentity: recipient,
		Secret:            secret,
		Nullifier:         d.Nullifier,
		Commitment:        d.Commitment,
		AmountCommitment:  d.AmountCommitment,
	}, nil
}

// ImportNote stores a note received from a counterparty (for example the
// payout note of a swap) and appends its commitment to the accumulator if it
// is not there yet.
func (e *Engine) ImportNote(ctx context.Context, amount common.Amount, recipient, secret common.Felt) (*Note, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	n, err := e.RecomputeNote(ctx, amount, recipient, secret)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = e.now().UTC()
	idx, exists, err := e.acc.Contains(n.Commitment)
	if err != nil {
		return nil, err
	}
	if !exists {
		if idx, err = e.acc.Len(); err != nil {
			return nil, err
		}
	}
	n.LeafIndex = idx
	if err := e.store.Put(ctx, n); err != nil {
		return nil, err
	}
	if !exists {
		if _, err := e.acc.Insert(ctx, n.Commitment); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (e *Engine) Load(ctx context.Context, commitment common.Felt) (*Note, error) {
	return e.store.Get(ctx, commitment)
}

func (e *Engine) ListNotes(ctx context.Context) ([]*Note, error) {
	return e.store.List(ctx)
}

// MarkSpent records that the holder consumed the note. The ledger's nullifier
// registry stays authoritative.
func (e *Engine) MarkSpent(ctx context.Context, commitment common.Felt) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	n, err := e.store.Get(ctx, commitment)
	if err != nil {
		return err
	}
	if n.Spent {
		return nil
	}
	n.Spent = true
	return e.store.Update(ctx, n)
}

// Reconcile re-inserts commitments of stored notes whose leaf never made it
// into the accumulator.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	notes, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, n := range notes {
		if _, ok, err := e.acc.Contains(n.Commitment); err != nil {
			return repaired, err
		} else if ok {
			continue
		}
		count, err := e.acc.Len()
		if err != nil {
			return repaired, err
		}
		if n.LeafIndex != count {
			return repaired, fmt.Errorf("note %s expects leaf %d but accumulator has %d leaves", n.Commitment, n.LeafIndex, count)
		}
		if _, err := e.acc.Insert(ctx, n.Commitment); err != nil {
			return repaired, err
		}
		repaired++
	}
	if repaired > 0 {
		e.logger.Warn().Int("repaired", repaired).Msg("reconciled notes missing from the accumulator")
	}
	return repaired, nil
}

// SyncLeaves brings the local accumulator up to date with leaves published on
// the ledger, starting at index from. A leaf already present at a different
// index means the local tree diverged from the ledger.
func (e *Engine) SyncLeaves(ctx context.Context, from uint64, leaves []common.Felt) (int, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	appended := 0
	for i, leaf := range leaves {
		want := from + uint64(i)
		existing, err := e.acc.Leaf(want)
		switch {
		case err == nil:
			if existing != leaf {
				return appended, common.ErrInvalidMerkleProof.Wrapf("local leaf %d is %s, ledger has %s", want, existing, leaf)
			}
			continue
		case !errors.Is(err, common.ErrLeafIndexOutOfRange):
			return appended, err
		}
		idx, err := e.acc.Insert(ctx, leaf)
		if err != nil {
			return appended, err
		}
		if idx != want {
			return appended, common.ErrInvalidMerkleProof.Wrapf("ledger leaf %d landed at local index %d", want, idx)
		}
		appended++
	}
	return appended, nil
}
