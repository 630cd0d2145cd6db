package swap_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/swap"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapEndToEnd(t *testing.T) {
	f := initFixture(t)

	res := f.initiate(t, 100)
	s := res.Swap
	assert.Equal(t, types.SwapInitiated, s.Status)
	hash := sha256.Sum256(res.Secret[:])
	assert.Equal(t, hex.EncodeToString(hash[:]), s.HTLCSecretHash)
	assert.Equal(t, res.RecipientCommitment, s.RecipientNoteCommitment)
	assert.True(t, startTime.Add(time.Hour).Equal(s.TimelockExpiry))

	initiatorNote, err := f.alice.coord.Engine().Load(f.ctx, s.InitiatorNoteCommitment)
	require.NoError(t, err)
	assert.True(t, initiatorNote.Spent)

	// bob funds the HTLC and locks the swap with it
	htlc := f.prepareHTLC(t, s)
	assert.Equal(t, hash, htlc.SecretHash)
	assert.EqualValues(t, s.TimelockExpiry.Unix(), htlc.Locktime)
	fund := fundingTx(t, htlc, 50_000)
	blocks := mineFunding(t, fund, 2)
	f.node.SetMain(blocks...)
	f.submitHeaders(t, blocks...)

	txid := fund.TxHash().String()
	out, err := f.bob.coord.AuditFunding(f.ctx, txid, htlc)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), out.Vout)
	assert.EqualValues(t, 50_000, out.Value)

	locked, err := f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	require.NoError(t, err)
	assert.Equal(t, types.SwapLocked, locked.Status)
	assert.Equal(t, txid, locked.BTCTxID)
	assert.Equal(t, int64(1), locked.BTCBlockHeight)

	// alice claims the bitcoin, revealing the secret
	claimID, err := f.alice.coord.SpendHTLC(f.ctx, swap.SpendRequest{
		HTLC:    htlc,
		Path:    bitcoin.ClaimPath,
		Funding: *out,
		Dest:    payTo(t, f.alice.key),
		Key:     f.alice.key,
		Secret:  &res.Secret,
	})
	require.NoError(t, err)
	mempool := f.node.Mempool()
	require.Len(t, mempool, 1)
	claim := mempool[0]
	assert.Equal(t, claimID, claim.TxHash().String())
	assert.Equal(t, txid, claim.TxIn[0].PreviousOutPoint.Hash.String())
	assert.Less(t, claim.TxOut[0].Value, int64(50_000))

	// bob learns the secret from the claim and completes the swap
	secret, err := swap.ExtractSecret(claim, htlc)
	require.NoError(t, err)
	assert.Equal(t, res.Secret, secret)

	done, err := f.bob.coord.Complete(f.ctx, swap.CompleteRequest{
		SwapID:    s.SwapID,
		Secret:    secret,
		Recipient: bobID,
		Amount:    common.NewAmount(100),
	})
	require.NoError(t, err)
	assert.Equal(t, types.SwapCompleted, done.Swap.Status)
	assert.Equal(t, hex.EncodeToString(secret[:]), done.Swap.RevealedSecret)
	require.NotNil(t, done.Output)
	assert.False(t, done.Output.Spent)
	assert.Equal(t, bobID, done.Output.RecipientIdentity)
	assert.True(t, done.Output.Amount.Equal(common.NewAmount(100)))
	assert.Equal(t, uint64(2), done.Output.LeafIndex)

	received, err := f.bob.coord.Engine().Load(f.ctx, s.RecipientNoteCommitment)
	require.NoError(t, err)
	assert.True(t, received.Spent)
	spent, err := f.local.IsNullifierSpent(f.ctx, received.Nullifier)
	require.NoError(t, err)
	assert.True(t, spent)

	// the output note is spendable and both wallets agree with the ledger
	root, err := f.local.GetMerkleRoot(f.ctx)
	require.NoError(t, err)
	for _, p := range []*party{f.alice, f.bob} {
		_, err := p.coord.SyncLeaves(f.ctx)
		require.NoError(t, err)
		local, err := p.coord.Engine().Accumulator().Root(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, root, local)
	}

	_, err = f.alice.coord.Refund(f.ctx, swap.RefundRequest{SwapID: s.SwapID})
	assert.ErrorIs(t, err, common.ErrInvalidSwapState)
}

func TestInitiateRejectsSpentNote(t *testing.T) {
	f := initFixture(t)
	res := f.initiate(t, 100)

	n, err := f.alice.coord.Engine().Load(f.ctx, res.Swap.InitiatorNoteCommitment)
	require.NoError(t, err)
	_, err = f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Note: n, Recipient: bobID})
	assert.ErrorIs(t, err, common.ErrNullifierAlreadySpent)

	// a stale copy still marked unspent is caught by the ledger's registry
	n.Spent = false
	_, err = f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Note: n, Recipient: bobID})
	assert.ErrorIs(t, err, common.ErrNullifierAlreadySpent)
	assert.Equal(t, 1, f.ledger.Calls("initiatePrivacySwap"))

	_, err = f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Recipient: bobID})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestLockGates(t *testing.T) {
	f := initFixture(t)
	s := f.initiate(t, 100).Swap
	htlc := f.prepareHTLC(t, s)
	fund := fundingTx(t, htlc, 50_000)
	txid := fund.TxHash().String()

	_, err := f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	assert.Error(t, err, "unknown transaction")

	_, err = f.node.SendRawTransaction(f.ctx, serialize(t, fund))
	require.NoError(t, err)
	_, err = f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	assert.ErrorIs(t, err, common.ErrTransactionNotConfirmed)

	blocks := mineFunding(t, fund, 2)
	f.node.SetMain(blocks[0])
	_, err = f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	assert.ErrorIs(t, err, common.ErrInsufficientConfirmations)

	// deep enough on bitcoin but the ledger has not seen the block
	f.node.SetMain(blocks...)
	_, err = f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	assert.ErrorIs(t, err, common.ErrTransactionNotConfirmed)

	f.submitHeaders(t, blocks...)
	locked, err := f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	require.NoError(t, err)
	assert.Equal(t, types.SwapLocked, locked.Status)

	again, err := f.bob.coord.Lock(f.ctx, s.SwapID, txid)
	require.NoError(t, err)
	assert.True(t, locked.UpdatedAt.Equal(again.UpdatedAt))

	_, err = f.bob.coord.Lock(f.ctx, s.SwapID, blocks[1].TxID(0))
	assert.ErrorIs(t, err, common.ErrInvalidSwapState)
}

func TestCompleteRejects(t *testing.T) {
	f := initFixture(t)
	res := f.initiate(t, 100)
	s := res.Swap

	req := swap.CompleteRequest{SwapID: s.SwapID, Secret: res.Secret, Recipient: bobID, Amount: common.NewAmount(100)}
	_, err := f.bob.coord.Complete(f.ctx, req)
	assert.ErrorIs(t, err, common.ErrInvalidSwapState, "not locked yet")

	htlc := f.prepareHTLC(t, s)
	fund := fundingTx(t, htlc, 50_000)
	blocks := mineFunding(t, fund, 2)
	f.node.SetMain(blocks...)
	f.submitHeaders(t, blocks...)
	_, err = f.bob.coord.Lock(f.ctx, s.SwapID, fund.TxHash().String())
	require.NoError(t, err)

	wrong := req
	wrong.Secret[0] ^= 1
	_, err = f.bob.coord.Complete(f.ctx, wrong)
	assert.ErrorIs(t, err, common.ErrSecretHashMismatch)

	wrong = req
	wrong.Amount = common.NewAmount(99)
	_, err = f.bob.coord.Complete(f.ctx, wrong)
	assert.ErrorIs(t, err, common.ErrCommitmentMismatch)

	wrong = req
	wrong.Recipient = aliceID
	_, err = f.bob.coord.Complete(f.ctx, wrong)
	assert.ErrorIs(t, err, common.ErrCommitmentMismatch)
	assert.Zero(t, f.ledger.Calls("completeSwap"))

	done, err := f.bob.coord.Complete(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, done.Output)
	require.NotNil(t, done.Swap.OutputCommitment)
	assert.Equal(t, done.Output.Commitment, *done.Swap.OutputCommitment)
}

func TestRefund(t *testing.T) {
	f := initFixture(t)
	s := f.initiate(t, 100).Swap

	_, err := f.alice.coord.Refund(f.ctx, swap.RefundRequest{SwapID: s.SwapID})
	assert.ErrorIs(t, err, common.ErrTimelockNotExpired)

	f.clock.Advance(time.Hour)
	// only the holder of the initiator note can sign
	_, err = f.bob.coord.Refund(f.ctx, swap.RefundRequest{SwapID: s.SwapID})
	assert.ErrorIs(t, err, common.ErrNotFound)

	res, err := f.alice.coord.Refund(f.ctx, swap.RefundRequest{SwapID: s.SwapID})
	require.NoError(t, err)
	assert.Equal(t, types.SwapExpired, res.Swap.Status)
	require.NotNil(t, res.Output)
	assert.Equal(t, aliceID, res.Output.RecipientIdentity)
	assert.True(t, res.Output.Amount.Equal(common.NewAmount(100)))
	require.NotNil(t, res.Swap.RefundCommitment)
	assert.Equal(t, res.Output.Commitment, *res.Swap.RefundCommitment)

	size, err := f.local.GetTreeSize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)

	// the refunded value can open a new swap
	again, err := f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Note: res.Output, Recipient: bobID, Timelock: 2 * time.Hour})
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(2*time.Hour).Equal(again.Swap.TimelockExpiry))
}

func TestMutationsSurviveLostResponses(t *testing.T) {
	f := initFixture(t)
	f.ledger.refuse["commitNote"] = 1
	n, err := f.alice.coord.CommitNote(f.ctx, common.NewAmount(100), aliceID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ledger.Calls("commitNote"))
	size, err := f.local.GetTreeSize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), size)

	f.ledger.lose["initiatePrivacySwap"] = 1
	res, err := f.alice.coord.Initiate(f.ctx, swap.InitiateRequest{Note: n, Recipient: bobID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.Calls("initiatePrivacySwap"))
	assert.Equal(t, types.SwapInitiated, res.Swap.Status)

	htlc := f.prepareHTLC(t, res.Swap)
	fund := fundingTx(t, htlc, 50_000)
	blocks := mineFunding(t, fund, 2)
	f.node.SetMain(blocks...)
	f.submitHeaders(t, blocks...)
	_, err = f.bob.coord.Lock(f.ctx, res.Swap.SwapID, fund.TxHash().String())
	require.NoError(t, err)

	f.ledger.lose["completeSwap"] = 1
	done, err := f.bob.coord.Complete(f.ctx, swap.CompleteRequest{
		SwapID:    res.Swap.SwapID,
		Secret:    res.Secret,
		Recipient: bobID,
		Amount:    common.NewAmount(100),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.Calls("completeSwap"))
	assert.Equal(t, types.SwapCompleted, done.Swap.Status)
}

func TestWaitForConfirmations(t *testing.T) {
	f := initFixture(t)
	s := f.initiate(t, 100).Swap
	fund := fundingTx(t, f.prepareHTLC(t, s), 50_000)
	txid := fund.TxHash().String()
	_, err := f.node.SendRawTransaction(f.ctx, serialize(t, fund))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(f.ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.bob.coord.WaitForConfirmations(ctx, txid)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	blocks := mineFunding(t, fund, 2)
	f.node.SetMain(blocks[0])
	go func() {
		time.Sleep(30 * time.Millisecond)
		f.node.SetMain(blocks...)
	}()
	ctx, cancel = context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	proof, err := f.bob.coord.WaitForConfirmations(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), proof.Confirmations)
	assert.Equal(t, blocks[0].Header.Hash, proof.BlockHash)
	assert.True(t, proof.Verify())
}
