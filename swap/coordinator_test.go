package swap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/bitcoin/testutil"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/swap"
	"github.com/btcq-org/qswap/x/swap/keeper"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var (
	aliceID   = common.NewFeltFromUint64(0xa11ce)
	bobID     = common.NewFeltFromUint64(0xb0b)
	startTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	regtest   = &chaincfg.RegressionNetParams
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

// flakyLedger fails selected mutations with a transient error, either before
// they reach the ledger (refuse) or after they applied (lose).
type flakyLedger struct {
	ledger.Ledger

	mu     sync.Mutex
	refuse map[string]int
	lose   map[string]int
	calls  map[string]int
}

func newFlakyLedger(l ledger.Ledger) *flakyLedger {
	return &flakyLedger{
		Ledger: l,
		refuse: make(map[string]int),
		lose:   make(map[string]int),
		calls:  make(map[string]int),
	}
}

func (f *flakyLedger) enter(method string) (refuse, lose bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.refuse[method] > 0 {
		f.refuse[method]--
		return true, false
	}
	if f.lose[method] > 0 {
		f.lose[method]--
		return false, true
	}
	return false, false
}

func (f *flakyLedger) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

var errDropped = common.ErrRPCUnavailable.Wrap("connection reset by peer")

func (f *flakyLedger) CommitNote(ctx context.Context, msg *types.MsgCommitNote) (uint64, error) {
	refuse, lose := f.enter("commitNote")
	if refuse {
		return 0, errDropped
	}
	idx, err := f.Ledger.CommitNote(ctx, msg)
	if lose && err == nil {
		return 0, errDropped
	}
	return idx, err
}

func (f *flakyLedger) InitiatePrivacySwap(ctx context.Context, msg *types.MsgInitiateSwap) (*types.Swap, error) {
	refuse, lose := f.enter("initiatePrivacySwap")
	if refuse {
		return nil, errDropped
	}
	s, err := f.Ledger.InitiatePrivacySwap(ctx, msg)
	if lose && err == nil {
		return nil, errDropped
	}
	return s, err
}

func (f *flakyLedger) CompleteSwap(ctx context.Context, msg *types.MsgCompleteSwap) (*types.Swap, error) {
	refuse, lose := f.enter("completeSwap")
	if refuse {
		return nil, errDropped
	}
	s, err := f.Ledger.CompleteSwap(ctx, msg)
	if lose && err == nil {
		return nil, errDropped
	}
	return s, err
}

type party struct {
	id    common.Felt
	coord *swap.Coordinator
	key   *btcec.PrivateKey
}

type fixture struct {
	ctx    context.Context
	clock  *clock
	local  *ledger.Local
	ledger *flakyLedger
	node   *testutil.FakeNode
	alice  *party
	bob    *party
}

func testConfig() swap.Config {
	return swap.Config{
		MinConfirmations: 2,
		PollInterval:     10 * time.Millisecond,
		FeeConfTarget:    6,
		RetryAttempts:    3,
		RetryMaxWait:     5 * time.Second,
	}
}

func initFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: startTime}
	h := hasher.NewMiMC()
	local, err := ledger.OpenLocal("", h, types.Params{
		MinConfirmations: 2,
		RootHistorySize:  4,
		MaxReorgDepth:    3,
		DefaultTimelock:  time.Hour,
		PowLimit:         regtest.PowLimit,
	}, keeper.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	f := &fixture{
		ctx:    context.Background(),
		clock:  c,
		local:  local,
		ledger: newFlakyLedger(local),
		node:   testutil.NewFakeNode(),
	}
	newParty := func(id common.Felt) *party {
		engine := note.NewEngine(h, merkle.NewAccumulator(h, merkle.NewMemLeafStore()), note.NewMemStore(), note.WithClock(c.Now))
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		return &party{
			id:    id,
			coord: swap.NewCoordinator(testConfig(), f.ledger, f.node, engine, common.MockNet),
			key:   key,
		}
	}
	f.alice = newParty(aliceID)
	f.bob = newParty(bobID)
	return f
}

func (f *fixture) submitHeaders(t *testing.T, blocks ...*testutil.Block) {
	t.Helper()
	for _, b := range blocks {
		msg, err := types.NewMsgSubmitBlockHeader(b.Header)
		require.NoError(t, err)
		_, err = f.local.SubmitBlockHeader(f.ctx, msg)
		require.NoError(t, err)
	}
}

func (f *fixture) initiate(t *testing.T, amount uint64) *swap.InitiateResult {
	t.Helper()
	n, err := f.alice.coord.CommitNote(f.ctx, common.NewAmount(amount), aliceID)
	require.NoError(t, err)
	res, err := f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Note: n, Recipient: bobID})
	require.NoError(t, err)
	return res
}

// fundingTx pays value to h from a made up outpoint.
func fundingTx(t *testing.T, h *bitcoin.HTLC, value int64) *wire.MsgTx {
	t.Helper()
	pkScript, err := h.PkScript(regtest)
	require.NoError(t, err)
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}

// mineFunding mines tx at height 1 followed by confirmations-1 blocks.
func mineFunding(t *testing.T, tx *wire.MsgTx, confirmations int) []*testutil.Block {
	t.Helper()
	first, err := testutil.MineBlock(*regtest.GenesisHash, 1, append(testutil.FillerTxs(2, 9), tx))
	require.NoError(t, err)
	blocks := []*testutil.Block{first}
	if confirmations > 1 {
		more, err := testutil.MineChain(first.Hash(), 2, confirmations-1, 9)
		require.NoError(t, err)
		blocks = append(blocks, more...)
	}
	return blocks
}

func (f *fixture) prepareHTLC(t *testing.T, s *types.Swap) *bitcoin.HTLC {
	t.Helper()
	h, err := f.bob.coord.PrepareHTLC(s, f.alice.key.PubKey().SerializeCompressed(), f.bob.key.PubKey().SerializeCompressed(), 50_000, 0)
	require.NoError(t, err)
	return h
}

func payTo(t *testing.T, key *btcec.PrivateKey) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), regtest)
	require.NoError(t, err)
	return addr
}
