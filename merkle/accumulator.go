package merkle

import (
	"context"
	"sync"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Accumulator is the append-only commitment tree. All mutation and root
// recomputation is serialized by one mutex.
type Accumulator struct {
	lock   sync.Mutex
	hasher hasher.Hasher
	leaves LeafStore
	logger zerolog.Logger

	// levels is the tree computed for cachedCount leaves
	levels      [][]common.Felt
	cachedCount uint64
	cached      bool
}

func NewAccumulator(h hasher.Hasher, leaves LeafStore) *Accumulator {
	return &Accumulator{
		hasher: h,
		leaves: leaves,
		logger: log.With().Str("module", "accumulator").Logger(),
	}
}

// Insert appends leaf and returns its index. The cached root is invalidated.
func (a *Accumulator) Insert(ctx context.Context, leaf common.Felt) (uint64, error) {
	if leaf.IsZero() {
		return 0, common.ErrInvalidRequest.Wrap("zero leaf")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	idx, err := a.leaves.Append(leaf)
	if err != nil {
		return 0, err
	}
	a.cached = false
	a.logger.Debug().Uint64("index", idx).Str("leaf", leaf.Hex()).Msg("leaf inserted")
	return idx, nil
}

// Len returns the current leaf count.
func (a *Accumulator) Len() (uint64, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.leaves.Len()
}

// Leaf returns the leaf at index.
func (a *Accumulator) Leaf(index uint64) (common.Felt, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.leaves.Leaf(index)
}

// Contains reports whether leaf was inserted and at which index.
func (a *Accumulator) Contains(leaf common.Felt) (uint64, bool, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.leaves.IndexOf(leaf)
}

// Root returns the root over the current leaves, recomputing only when the
// leaf count changed since the last computation.
func (a *Accumulator) Root(ctx context.Context) (common.Felt, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	levels, err := a.levelsLocked(ctx)
	if err != nil || len(levels) == 0 {
		return common.ZeroFelt, err
	}
	return levels[len(levels)-1][0], nil
}

// Proof returns the sibling path of leafIndex against the current root.
func (a *Accumulator) Proof(ctx context.Context, leafIndex uint64) ([]common.Felt, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	levels, err := a.levelsLocked(ctx)
	if err != nil {
		return nil, err
	}
	return ProofFromLevels(levels, leafIndex)
}

// ProofWithRoot returns the sibling path and the root it was computed
// against, under a single lock so they always match.
func (a *Accumulator) ProofWithRoot(ctx context.Context, leafIndex uint64) ([]common.Felt, common.Felt, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	levels, err := a.levelsLocked(ctx)
	if err != nil {
		return nil, common.ZeroFelt, err
	}
	proof, err := ProofFromLevels(levels, leafIndex)
	if err != nil {
		return nil, common.ZeroFelt, err
	}
	return proof, levels[len(levels)-1][0], nil
}

// VerifyProof checks an inclusion proof with this accumulator's hasher.
func (a *Accumulator) VerifyProof(ctx context.Context, leaf common.Felt, proof []common.Felt, index uint64, root common.Felt) (bool, error) {
	return VerifyProof(ctx, a.hasher, leaf, proof, index, root)
}

func (a *Accumulator) levelsLocked(ctx context.Context) ([][]common.Felt, error) {
	n, err := a.leaves.Len()
	if err != nil {
		return nil, err
	}
	if a.cached && a.cachedCount == n {
		return a.levels, nil
	}
	leaves, err := Leaves(a.leaves)
	if err != nil {
		return nil, err
	}
	levels, err := BuildLevels(ctx, a.hasher, leaves)
	if err != nil {
		return nil, err
	}
	a.levels = levels
	a.cachedCount = n
	a.cached = true
	return levels, nil
}
