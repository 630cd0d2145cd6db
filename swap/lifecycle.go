package swap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/x/swap/types"
)

// InitiateRequest opens a swap spending Note. A nil Secret draws a fresh HTLC
// secret. A zero Timelock uses the ledger default.
type InitiateRequest struct {
	Note      *note.Note
	Recipient common.Felt
	Secret    *[32]byte
	Timelock  time.Duration
}

// InitiateResult is what the initiator has to keep. Secret unlocks both the
// Bitcoin HTLC and the recipient note.
type InitiateResult struct {
	Swap                *types.Swap
	Secret              [32]byte
	RecipientCommitment common.Felt
}

// Initiate spends req.Note into a new swap. The recipient note carries the
// same amount and its secret is derived from the HTLC secret, so the recipient
// can only claim it once the secret is revealed.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Note == nil {
		return nil, common.ErrInvalidRequest.Wrap("no note to spend")
	}
	if req.Note.Spent {
		return nil, common.ErrNullifierAlreadySpent.Wrapf("note %s is already spent", req.Note.Commitment)
	}
	if req.Timelock < 0 || (req.Timelock > 0 && req.Timelock < time.Second) {
		return nil, common.ErrInvalidRequest.Wrapf("timelock %s", req.Timelock)
	}
	if _, err := c.SyncLeaves(ctx); err != nil {
		return nil, err
	}

	var secret [32]byte
	if req.Secret != nil {
		secret = *req.Secret
	} else if _, err := io.ReadFull(c.random, secret[:]); err != nil {
		return nil, err
	}
	secretHash := sha256.Sum256(secret[:])
	h := c.engine.Hasher()
	recipientSecret, err := note.RecipientSecret(ctx, h, secret, req.Recipient)
	if err != nil {
		return nil, err
	}
	recipientNote, err := c.engine.RecomputeNote(ctx, req.Note.Amount, req.Recipient, recipientSecret)
	if err != nil {
		return nil, err
	}

	initiator := req.Note.RecipientIdentity
	spend, err := c.builder.BuildSpendProof(ctx, req.Note, initiator)
	if err != nil {
		return nil, err
	}
	msg := &types.MsgInitiateSwap{
		Initiator:           initiator,
		InitiatorSpend:      spend,
		RecipientCommitment: recipientNote.Commitment,
		RecipientBindingKey: note.BindingPubKey(recipientSecret),
		HTLCSecretHash:      hex.EncodeToString(secretHash[:]),
		TimelockSeconds:     int64(req.Timelock / time.Second),
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	swapID, err := types.ComputeSwapID(ctx, h, secretHash, req.Note.Commitment, recipientNote.Commitment, initiator)
	if err != nil {
		return nil, err
	}

	var swap *types.Swap
	err = c.mutate(ctx, "initiatePrivacySwap", func() error {
		var err error
		swap, err = c.ledger.InitiatePrivacySwap(ctx, msg)
		return err
	}, func() (bool, error) {
		var err error
		swap, err = c.ledger.GetSwap(ctx, swapID)
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if err := c.engine.MarkSpent(ctx, req.Note.Commitment); err != nil {
		return nil, err
	}
	if _, err := c.SyncLeaves(ctx); err != nil {
		return nil, err
	}
	c.logger.Info().Str("swap_id", swap.SwapID.Hex()).Str("secret_hash", swap.HTLCSecretHash).Time("expiry", swap.TimelockExpiry).Msg("swap initiated")
	return &InitiateResult{
		Swap:                swap,
		Secret:              secret,
		RecipientCommitment: recipientNote.Commitment,
	}, nil
}

// Lock proves that txid funds the swap. The transaction must be buried under
// MinConfirmations blocks and its block must be on the ledger's header chain.
func (c *Coordinator) Lock(ctx context.Context, swapID common.Felt, txid string) (*types.Swap, error) {
	swap, err := c.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	switch {
	case swap.Status == types.SwapLocked && swap.BTCTxID == txid:
		return swap, nil
	case swap.Status != types.SwapInitiated:
		return nil, common.ErrInvalidSwapState.Wrapf("swap %s is %s, want %s", swapID, swap.Status, types.SwapInitiated)
	}

	proof, err := c.spv.GenerateSPVProof(ctx, txid)
	if err != nil {
		return nil, err
	}
	if !proof.Verify() {
		return nil, common.ErrInvalidMerkleProof.Wrapf("tx %s in block %s", txid, proof.BlockHash)
	}
	if proof.Confirmations < c.cfg.MinConfirmations {
		return nil, common.ErrInsufficientConfirmations.Wrapf("tx %s has %d confirmations, need %d", txid, proof.Confirmations, c.cfg.MinConfirmations)
	}
	if err := c.checkLedgerHeader(ctx, proof.BlockHeight, proof.BlockHash); err != nil {
		return nil, err
	}

	msg := &types.MsgLockSwap{
		SwapID:      swapID,
		TxID:        txid,
		BlockHeight: proof.BlockHeight,
		MerkleProof: proof.MerkleProof,
		TxIndex:     proof.TxIndex,
	}
	err = c.mutate(ctx, "lockSwapWithBTC", func() error {
		var err error
		swap, err = c.ledger.LockSwapWithBTC(ctx, msg)
		return err
	}, func() (bool, error) {
		var err error
		swap, err = c.ledger.GetSwap(ctx, swapID)
		if err != nil {
			return false, err
		}
		return swap.Status == types.SwapLocked && swap.BTCTxID == txid, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("swap_id", swapID.Hex()).Str("txid", txid).Int64("height", proof.BlockHeight).Msg("swap locked")
	return swap, nil
}

// checkLedgerHeader fails with ErrTransactionNotConfirmed until the relayer
// has brought the ledger's main chain to blockHash at height.
func (c *Coordinator) checkLedgerHeader(ctx context.Context, height int64, blockHash string) error {
	var hash string
	err := c.read(ctx, "getBlockHeader", func() error {
		h, err := c.ledger.GetBlockHeader(ctx, height)
		if err != nil {
			return err
		}
		hash = h.Hash
		return nil
	})
	switch {
	case errors.Is(err, common.ErrNotFound):
		return common.ErrTransactionNotConfirmed.Wrapf("ledger has no header at height %d yet", height)
	case err != nil:
		return err
	case hash != blockHash:
		return common.ErrTransactionNotConfirmed.Wrapf("ledger main chain has %s at height %d, not %s", hash, height, blockHash)
	}
	return nil
}

// CompleteRequest claims the recipient note of a locked swap. Recipient and
// Amount reopen the note.
type CompleteRequest struct {
	SwapID    common.Felt
	Secret    [32]byte
	Recipient common.Felt
	Amount    common.Amount
}

// CompleteResult holds the settled swap and the fresh note its value was
// re-committed to.
type CompleteResult struct {
	Swap   *types.Swap
	Output *note.Note
}

func (c *Coordinator) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	swap, err := c.getSwap(ctx, req.SwapID)
	if err != nil {
		return nil, err
	}
	if swap.Status != types.SwapLocked {
		return nil, common.ErrInvalidSwapState.Wrapf("swap %s is %s, want %s", req.SwapID, swap.Status, types.SwapLocked)
	}
	sum := sha256.Sum256(req.Secret[:])
	if hex.EncodeToString(sum[:]) != swap.HTLCSecretHash {
		return nil, common.ErrSecretHashMismatch.Wrapf("swap %s", req.SwapID)
	}

	h := c.engine.Hasher()
	recipientSecret, err := note.RecipientSecret(ctx, h, req.Secret, req.Recipient)
	if err != nil {
		return nil, err
	}
	reopened, err := c.engine.RecomputeNote(ctx, req.Amount, req.Recipient, recipientSecret)
	if err != nil {
		return nil, err
	}
	if reopened.Commitment != swap.RecipientNoteCommitment {
		return nil, common.ErrCommitmentMismatch.Wrapf("swap %s pays %s, reopened note is %s", req.SwapID, swap.RecipientNoteCommitment, reopened.Commitment)
	}
	n, err := c.adopt(ctx, req.Amount, req.Recipient, recipientSecret)
	if err != nil {
		return nil, err
	}

	output, err := c.freshNote(ctx, req.Amount, req.Recipient)
	if err != nil {
		return nil, err
	}
	spend, err := c.builder.BuildSpendProof(ctx, n, req.Recipient)
	if err != nil {
		return nil, err
	}
	msg := &types.MsgCompleteSwap{
		SwapID:           req.SwapID,
		Secret:           hex.EncodeToString(req.Secret[:]),
		RecipientSpend:   spend,
		OutputCommitment: output.Commitment,
		OutputBindingKey: note.BindingPubKey(output.Secret),
	}
	err = c.mutate(ctx, "completeSwap", func() error {
		var err error
		swap, err = c.ledger.CompleteSwap(ctx, msg)
		return err
	}, func() (bool, error) {
		return c.ledger.IsNullifierSpent(ctx, spend.Nullifier)
	})
	if err != nil {
		return nil, err
	}
	if swap == nil || swap.Status != types.SwapCompleted {
		if swap, err = c.getSwap(ctx, req.SwapID); err != nil {
			return nil, err
		}
	}
	if err := c.engine.MarkSpent(ctx, n.Commitment); err != nil {
		return nil, err
	}
	res := &CompleteResult{Swap: swap}
	if res.Output, err = c.adopt(ctx, output.Amount, output.RecipientIdentity, output.Secret); err != nil {
		return nil, err
	}
	c.logger.Info().Str("swap_id", req.SwapID.Hex()).Str("output", output.Commitment.Hex()).Msg("swap completed")
	return res, nil
}

// RefundRequest returns an expired swap to the initiator as a fresh note of
// the swapped amount.
type RefundRequest struct {
	SwapID common.Felt
}

type RefundResult struct {
	Swap   *types.Swap
	Output *note.Note
}

// Refund signs the refund with the binding key of the spent initiator note,
// which must be in the local note store.
func (c *Coordinator) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	swap, err := c.getSwap(ctx, req.SwapID)
	if err != nil {
		return nil, err
	}
	if swap.Status != types.SwapLocked && swap.Status != types.SwapInitiated {
		return nil, common.ErrInvalidSwapState.Wrapf("swap %s is %s", req.SwapID, swap.Status)
	}
	spent, err := c.engine.Load(ctx, swap.InitiatorNoteCommitment)
	if err != nil {
		return nil, err
	}

	output, err := c.freshNote(ctx, spent.Amount, swap.Initiator)
	if err != nil {
		return nil, err
	}
	msg := &types.MsgRefundSwap{
		SwapID:           req.SwapID,
		Caller:           swap.Initiator,
		RefundCommitment: output.Commitment,
		RefundBindingKey: note.BindingPubKey(output.Secret),
	}
	msg.Signature, err = types.SignRefund(ctx, c.engine.Hasher(), spent.Secret, req.SwapID, msg.RefundCommitment, msg.RefundBindingKey, msg.Caller)
	if err != nil {
		return nil, err
	}

	err = c.mutate(ctx, "refundSwap", func() error {
		var err error
		swap, err = c.ledger.RefundSwap(ctx, msg)
		return err
	}, func() (bool, error) {
		var err error
		swap, err = c.ledger.GetSwap(ctx, req.SwapID)
		if err != nil {
			return false, err
		}
		return swap.Status == types.SwapRefunded || swap.Status == types.SwapExpired, nil
	})
	if err != nil {
		return nil, err
	}
	res := &RefundResult{Swap: swap}
	if res.Output, err = c.adopt(ctx, output.Amount, output.RecipientIdentity, output.Secret); err != nil {
		return nil, err
	}
	c.logger.Info().Str("swap_id", req.SwapID.Hex()).Str("status", string(swap.Status)).Msg("swap refunded")
	return res, nil
}
