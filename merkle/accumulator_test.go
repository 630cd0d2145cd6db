package merkle

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHasher struct {
	inner hasher.Hasher
	calls atomic.Int64
}

func (c *countingHasher) Hash(ctx context.Context, inputs ...common.Felt) (common.Felt, error) {
	c.calls.Add(1)
	return c.inner.Hash(ctx, inputs...)
}

func leaf(v uint64) common.Felt {
	return common.NewFeltFromUint64(v)
}

func TestAccumulatorRoundTrip(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator(hasher.NewMiMC(), NewMemLeafStore())

	type snapshot struct {
		root  common.Felt
		proof []common.Felt
	}
	history := make(map[uint64]snapshot)

	for n := uint64(1); n <= 9; n++ {
		idx, err := acc.Insert(ctx, leaf(100+n))
		require.NoError(t, err)
		require.Equal(t, n-1, idx)

		root, err := acc.Root(ctx)
		require.NoError(t, err)
		for i := uint64(0); i < n; i++ {
			proof, err := acc.Proof(ctx, i)
			require.NoError(t, err)
			ok, err := acc.VerifyProof(ctx, leaf(101+i), proof, i, root)
			require.NoError(t, err)
			assert.True(t, ok, "leaf %d of %d", i, n)
		}
		p, err := acc.Proof(ctx, idx)
		require.NoError(t, err)
		history[idx] = snapshot{root: root, proof: p}
	}

	// proofs taken at insertion time keep verifying against their own root
	for idx, snap := range history {
		ok, err := acc.VerifyProof(ctx, leaf(101+idx), snap.proof, idx, snap.root)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestAccumulatorEdgeShapes(t *testing.T) {
	ctx := context.Background()
	h := hasher.NewMiMC()
	acc := NewAccumulator(h, NewMemLeafStore())

	root, err := acc.Root(ctx)
	require.NoError(t, err)
	assert.True(t, root.IsZero(), "empty root is zero")

	_, err = acc.Insert(ctx, leaf(7))
	require.NoError(t, err)
	root, err = acc.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, leaf(7), root, "a single leaf is its own root")
	proof, err := acc.Proof(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, proof)

	_, err = acc.Insert(ctx, leaf(8))
	require.NoError(t, err)
	_, err = acc.Insert(ctx, leaf(9))
	require.NoError(t, err)

	// three leaves: the odd node pairs with zero
	h01, err := h.Hash(ctx, leaf(7), leaf(8))
	require.NoError(t, err)
	h2z, err := h.Hash(ctx, leaf(9), common.ZeroFelt)
	require.NoError(t, err)
	want, err := h.Hash(ctx, h01, h2z)
	require.NoError(t, err)
	root, err = acc.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, root)

	proof, err = acc.Proof(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []common.Felt{common.ZeroFelt, h01}, proof)
}

func TestAccumulatorFourVersusThreeLeaves(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator(hasher.NewMiMC(), NewMemLeafStore())
	for i := uint64(0); i < 3; i++ {
		_, err := acc.Insert(ctx, leaf(i+1))
		require.NoError(t, err)
	}
	root3, err := acc.Root(ctx)
	require.NoError(t, err)

	_, err = acc.Insert(ctx, leaf(4))
	require.NoError(t, err)
	root4, err := acc.Root(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, root3, root4)

	proof, err := acc.Proof(ctx, 1)
	require.NoError(t, err)
	ok, err := acc.VerifyProof(ctx, leaf(2), proof, 1, root4)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = acc.VerifyProof(ctx, leaf(2), proof, 1, root3)
	require.NoError(t, err)
	assert.False(t, ok)

	// swapping the index parity must break the proof
	ok, err = acc.VerifyProof(ctx, leaf(2), proof, 0, root4)
	require.NoError(t, err)
	assert.False(t, ok)
	// index bits beyond the proof depth are rejected
	ok, err = acc.VerifyProof(ctx, leaf(2), proof, 1+4, root4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccumulatorRootCache(t *testing.T) {
	ctx := context.Background()
	h := &countingHasher{inner: hasher.NewMiMC()}
	acc := NewAccumulator(h, NewMemLeafStore())
	for i := uint64(1); i <= 5; i++ {
		_, err := acc.Insert(ctx, leaf(i))
		require.NoError(t, err)
	}
	assert.Zero(t, h.calls.Load(), "insert must not hash")

	first, err := acc.Root(ctx)
	require.NoError(t, err)
	calls := h.calls.Load()
	assert.Positive(t, calls)

	second, err := acc.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, h.calls.Load(), "cached root must not rehash")

	_, err = acc.Proof(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, calls, h.calls.Load(), "proof reuses the cached tree")

	_, err = acc.Insert(ctx, leaf(6))
	require.NoError(t, err)
	third, err := acc.Root(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Greater(t, h.calls.Load(), calls)
}

func TestAccumulatorFailures(t *testing.T) {
	ctx := context.Background()
	acc := NewAccumulator(hasher.NewMiMC(), NewMemLeafStore())
	_, err := acc.Proof(ctx, 0)
	assert.ErrorIs(t, err, common.ErrLeafIndexOutOfRange)

	_, err = acc.Insert(ctx, leaf(1))
	require.NoError(t, err)
	_, err = acc.Insert(ctx, leaf(1))
	assert.ErrorIs(t, err, common.ErrDuplicateCommitment)
	_, err = acc.Insert(ctx, common.ZeroFelt)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)

	_, err = acc.Proof(ctx, 1)
	assert.ErrorIs(t, err, common.ErrLeafIndexOutOfRange)

	idx, ok, err := acc.Contains(leaf(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, idx)
}

func TestKVLeafStorePersistence(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewLevelDB("", false)
	require.NoError(t, err)
	defer db.Close()

	acc := NewAccumulator(hasher.NewMiMC(), NewKVLeafStore(db, "acc/"))
	for i := uint64(1); i <= 6; i++ {
		_, err := acc.Insert(ctx, leaf(i*11))
		require.NoError(t, err)
	}
	root, err := acc.Root(ctx)
	require.NoError(t, err)

	reopened := NewAccumulator(hasher.NewMiMC(), NewKVLeafStore(db, "acc/"))
	n, err := reopened.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
	again, err := reopened.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, again)

	_, err = reopened.Insert(ctx, leaf(22))
	assert.ErrorIs(t, err, common.ErrDuplicateCommitment)
	_, err = reopened.Leaf(6)
	assert.ErrorIs(t, err, common.ErrLeafIndexOutOfRange)

	// a different prefix is an independent tree
	other := NewAccumulator(hasher.NewMiMC(), NewKVLeafStore(db, "other/"))
	n, err = other.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	mem := NewAccumulator(hasher.NewMiMC(), NewMemLeafStore())
	for i := uint64(1); i <= 6; i++ {
		_, err := mem.Insert(ctx, leaf(i*11))
		require.NoError(t, err)
	}
	memRoot, err := mem.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, memRoot)

	computed, err := ComputeRoot(ctx, hasher.NewMiMC(), []common.Felt{leaf(11), leaf(22), leaf(33), leaf(44), leaf(55), leaf(66)})
	require.NoError(t, err)
	assert.Equal(t, root, computed)
}
