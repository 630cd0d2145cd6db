package keeper_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcq-org/qswap/bitcoin/testutil"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/keeper"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

var (
	initiatorID = common.NewFeltFromUint64(0xa11ce)
	recipientID = common.NewFeltFromUint64(0xb0b)
	startTime   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// anyKey binds commitments nobody spends in a test
	anyKey = note.BindingPubKey(common.NewFeltFromUint64(0x0b1d))
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx     context.Context
	keeper  *keeper.Keeper
	clock   *clock
	hasher  hasher.Hasher
	engine  *note.Engine
	builder *note.SpendProofBuilder
}

func testParams() types.Params {
	return types.Params{
		MinConfirmations: 2,
		RootHistorySize:  3,
		MaxReorgDepth:    3,
		DefaultTimelock:  time.Hour,
		PowLimit:         chaincfg.RegressionNetParams.PowLimit,
	}
}

func initFixture(t *testing.T, opts ...keeper.Option) *fixture {
	t.Helper()
	db, err := store.NewLevelDB("", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &clock{now: startTime}
	h := hasher.NewMiMC()
	k, err := keeper.NewKeeper(db, h, testParams(), append([]keeper.Option{keeper.WithClock(c.Now)}, opts...)...)
	require.NoError(t, err)

	acc := merkle.NewAccumulator(h, merkle.NewMemLeafStore())
	return &fixture{
		ctx:     context.Background(),
		keeper:  k,
		clock:   c,
		hasher:  h,
		engine:  note.NewEngine(h, acc, note.NewMemStore(), note.WithClock(c.Now)),
		builder: note.NewSpendProofBuilder(h, acc, note.WithNullifierChecker(k)),
	}
}

// sync pulls ledger leaves the local wallet has not seen yet.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	local, err := f.engine.Accumulator().Len()
	require.NoError(t, err)
	leaves, err := f.keeper.GetLeaves(f.ctx, local, 0)
	require.NoError(t, err)
	_, err = f.engine.SyncLeaves(f.ctx, local, leaves)
	require.NoError(t, err)
}

// commitNote creates a note owned by owner and publishes it.
func (f *fixture) commitNote(t *testing.T, amount uint64, owner common.Felt) *note.Note {
	t.Helper()
	f.sync(t)
	n, err := f.engine.GenerateNote(f.ctx, common.NewAmount(amount), owner, nil)
	require.NoError(t, err)
	idx, err := f.keeper.CommitNote(f.ctx, &types.MsgCommitNote{Commitment: n.Commitment, BindingKey: note.BindingPubKey(n.Secret)})
	require.NoError(t, err)
	require.Equal(t, n.LeafIndex, idx)
	return n
}

func (f *fixture) spend(t *testing.T, n *note.Note, spender common.Felt) *note.SpendProof {
	t.Helper()
	f.sync(t)
	p, err := f.builder.BuildSpendProof(f.ctx, n, spender)
	require.NoError(t, err)
	return p
}

// fresh opens a note of amount for owner without publishing it and returns
// its secret and commitment.
func (f *fixture) fresh(t *testing.T, amount uint64, owner common.Felt) (common.Felt, common.Felt) {
	t.Helper()
	secret, err := common.RandomFelt(rand.Reader)
	require.NoError(t, err)
	d, err := note.Derive(f.ctx, f.hasher, common.NewAmount(amount), owner, secret)
	require.NoError(t, err)
	return secret, d.Commitment
}

type openSwap struct {
	swap          *types.Swap
	initiatorNote *note.Note
	recipientNote *note.Note
	secret        [32]byte
}

func (s *openSwap) secretHex() string {
	return hex.EncodeToString(s.secret[:])
}

// initiate opens a swap of a fresh initiator note for amount, paying a
// recipient note derived from an HTLC secret seeded with seed.
func (f *fixture) initiate(t *testing.T, amount uint64, seed byte) *openSwap {
	t.Helper()
	in := f.commitNote(t, amount, initiatorID)
	var secret [32]byte
	for i := range secret {
		secret[i] = seed + byte(i)
	}
	rsecret, err := note.RecipientSecret(f.ctx, f.hasher, secret, recipientID)
	require.NoError(t, err)
	out, err := f.engine.RecomputeNote(f.ctx, common.NewAmount(amount), recipientID, rsecret)
	require.NoError(t, err)
	hash := sha256.Sum256(secret[:])

	swap, err := f.keeper.InitiatePrivacySwap(f.ctx, &types.MsgInitiateSwap{
		Initiator:           initiatorID,
		InitiatorSpend:      f.spend(t, in, initiatorID),
		RecipientCommitment: out.Commitment,
		RecipientBindingKey: note.BindingPubKey(rsecret),
		HTLCSecretHash:      hex.EncodeToString(hash[:]),
	})
	require.NoError(t, err)

	f.sync(t)
	imported, err := f.engine.ImportNote(f.ctx, common.NewAmount(amount), recipientID, rsecret)
	require.NoError(t, err)
	require.Equal(t, swap.RecipientLeafIndex, imported.LeafIndex)
	return &openSwap{swap: swap, initiatorNote: in, recipientNote: imported, secret: secret}
}

// refundSecret is the secret of the note a refund of s returns to the
// initiator.
func refundSecret(s *openSwap) common.Felt {
	return common.NewFeltFromUint64(0x7e500 + uint64(s.secret[0]))
}

// refundMsg returns s to caller, signed with the binding key of signer.
func (f *fixture) refundMsg(t *testing.T, s *openSwap, signer, caller common.Felt) *types.MsgRefundSwap {
	t.Helper()
	secret := refundSecret(s)
	d, err := note.Derive(f.ctx, f.hasher, s.initiatorNote.Amount, initiatorID, secret)
	require.NoError(t, err)
	msg := &types.MsgRefundSwap{
		SwapID:           s.swap.SwapID,
		Caller:           caller,
		RefundCommitment: d.Commitment,
		RefundBindingKey: note.BindingPubKey(secret),
	}
	msg.Signature, err = types.SignRefund(f.ctx, f.hasher, signer, msg.SwapID, msg.RefundCommitment, msg.RefundBindingKey, caller)
	require.NoError(t, err)
	return msg
}

func (f *fixture) submitHeaders(t *testing.T, blocks ...*testutil.Block) {
	t.Helper()
	for _, b := range blocks {
		msg, err := types.NewMsgSubmitBlockHeader(b.Header)
		require.NoError(t, err)
		_, err = f.keeper.SubmitBlockHeader(f.ctx, msg)
		require.NoError(t, err)
	}
}

// mineChain mines length blocks starting at height 1 on the regtest genesis.
func mineChain(t *testing.T, length int, salt uint32) []*testutil.Block {
	t.Helper()
	blocks, err := testutil.MineChain(*chaincfg.RegressionNetParams.GenesisHash, 1, length, salt)
	require.NoError(t, err)
	return blocks
}

func lockMsg(t *testing.T, swapID common.Felt, b *testutil.Block, txIndex int) *types.MsgLockSwap {
	t.Helper()
	branch, pos, err := b.Branch(txIndex)
	require.NoError(t, err)
	return &types.MsgLockSwap{
		SwapID:      swapID,
		TxID:        b.TxID(txIndex),
		BlockHeight: b.Header.Height,
		MerkleProof: branch,
		TxIndex:     pos,
	}
}

func eventTypes(t *testing.T, f *fixture) []string {
	t.Helper()
	events, err := f.keeper.Events(f.ctx, 0, 0)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
