package keeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// CompleteSwap settles a locked swap: the revealed secret must hash to the
// swap's secret hash and the recipient must spend the escrowed note into a
// fresh output note. A locked swap stays completable after its timelock until
// it is refunded.
func (k *Keeper) CompleteSwap(ctx context.Context, msg *types.MsgCompleteSwap) (*types.Swap, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	secret, err := types.DecodeHash32("secret", msg.Secret)
	if err != nil {
		return nil, err
	}
	spend := msg.RecipientSpend

	var swap *types.Swap
	err = k.atomic(func(tx *leveldb.Transaction) error {
		var err error
		if swap, err = getSwap(tx, msg.SwapID); err != nil {
			return err
		}
		if swap.Status != types.SwapLocked {
			return common.ErrInvalidSwapState.Wrapf("swap %s is %s, want %s", swap.SwapID, swap.Status, types.SwapLocked)
		}
		sum := sha256.Sum256(secret[:])
		if hex.EncodeToString(sum[:]) != swap.HTLCSecretHash {
			return common.ErrSecretHashMismatch.Wrapf("swap %s", swap.SwapID)
		}
		if spend.Commitment != swap.RecipientNoteCommitment {
			return common.ErrCommitmentMismatch.Wrapf("swap %s pays %s, spend proof is for %s", swap.SwapID, swap.RecipientNoteCommitment, spend.Commitment)
		}
		if err := k.verifySpend(ctx, tx, spend); err != nil {
			return err
		}
		if err := k.spendNote(tx, spend); err != nil {
			return err
		}
		if _, err := k.appendCommitment(ctx, tx, msg.OutputCommitment, msg.OutputBindingKey); err != nil {
			return err
		}
		if err := tx.Delete(store.Key(types.EscrowPrefix, swap.RecipientNoteCommitment[:]), nil); err != nil {
			return err
		}

		nullifier := spend.Nullifier
		swap.RevealedSecret = msg.Secret
		swap.RecipientNullifier = &nullifier
		output := msg.OutputCommitment
		swap.OutputCommitment = &output
		swap.Status = types.SwapCompleted
		if err := k.setSwap(tx, swap); err != nil {
			return err
		}
		return k.emit(tx, types.NewEvent(types.EventTypeSwapCompleted,
			types.AttributeKeySwapID, swap.SwapID.Hex(),
			types.AttributeKeySecret, msg.Secret,
			types.AttributeKeyNullifier, nullifier.Hex(),
		))
	})
	if err != nil {
		return nil, err
	}
	k.logger.Info().Str("swap_id", swap.SwapID.Hex()).Msg("swap completed")
	return swap, nil
}

// RefundSwap returns a swap to its initiator once the timelock has elapsed:
// a locked swap becomes REFUNDED, an initiated one EXPIRED. The refund
// commitment, a fresh note of the initiator, is appended to the accumulator.
// The recipient note stays escrowed for good.
func (k *Keeper) RefundSwap(ctx context.Context, msg *types.MsgRefundSwap) (*types.Swap, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	var swap *types.Swap
	err := k.atomic(func(tx *leveldb.Transaction) error {
		var err error
		if swap, err = getSwap(tx, msg.SwapID); err != nil {
			return err
		}
		var next types.SwapStatus
		switch swap.Status {
		case types.SwapLocked:
			next = types.SwapRefunded
		case types.SwapInitiated:
			next = types.SwapExpired
		default:
			return common.ErrInvalidSwapState.Wrapf("swap %s is %s", swap.SwapID, swap.Status)
		}
		if msg.Caller != swap.Initiator {
			return common.ErrUnauthorizedSpender.Wrapf("only the initiator may refund swap %s", swap.SwapID)
		}
		if !swap.IsExpired(k.now()) {
			return common.ErrTimelockNotExpired.Wrapf("swap %s expires at %s", swap.SwapID, swap.TimelockExpiry)
		}
		if err := types.VerifyRefund(ctx, k.hasher, swap.InitiatorBindingKey, msg); err != nil {
			return err
		}
		if _, err := k.appendCommitment(ctx, tx, msg.RefundCommitment, msg.RefundBindingKey); err != nil {
			return err
		}
		if swap.BTCBlockHash != "" {
			if err := tx.Delete(blockIndexKey(types.BlockSwapPrefix, swap.BTCBlockHash, swap.SwapID.Hex()), nil); err != nil {
				return err
			}
		}

		refund := msg.RefundCommitment
		swap.RefundCommitment = &refund
		swap.Status = next
		if err := k.setSwap(tx, swap); err != nil {
			return err
		}
		event := types.EventTypeSwapRefunded
		if next == types.SwapExpired {
			event = types.EventTypeSwapExpired
		}
		return k.emit(tx, types.NewEvent(event,
			types.AttributeKeySwapID, swap.SwapID.Hex(),
			types.AttributeKeyStatus, string(next),
		))
	})
	if err != nil {
		return nil, err
	}
	k.logger.Info().Str("swap_id", swap.SwapID.Hex()).Str("status", string(swap.Status)).Msg("swap refunded")
	return swap, nil
}
