package keeper

import (
	"context"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// InitiatePrivacySwap spends the initiator's note and opens a swap paying the
// recipient commitment. The recipient note is appended to the accumulator and
// escrowed: it can only be spent by completing this swap.
func (k *Keeper) InitiatePrivacySwap(ctx context.Context, msg *types.MsgInitiateSwap) (*types.Swap, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	secretHash, err := types.DecodeHash32("htlc secret hash", msg.HTLCSecretHash)
	if err != nil {
		return nil, err
	}
	spend := msg.InitiatorSpend
	swapID, err := types.ComputeSwapID(ctx, k.hasher, secretHash, spend.Commitment, msg.RecipientCommitment, msg.Initiator)
	if err != nil {
		return nil, err
	}
	timelock := k.params.DefaultTimelock
	if msg.TimelockSeconds > 0 {
		timelock = time.Duration(msg.TimelockSeconds) * time.Second
	}

	var swap *types.Swap
	err = k.atomic(func(tx *leveldb.Transaction) error {
		swapKey := store.Key(types.SwapPrefix, swapID[:])
		exists, err := has(tx, swapKey)
		if err != nil {
			return err
		}
		if exists {
			return common.ErrInvalidSwapState.Wrapf("swap %s already exists", swapID)
		}
		escrowed, err := has(tx, store.Key(types.EscrowPrefix, spend.Commitment[:]))
		if err != nil {
			return err
		}
		if escrowed {
			return common.ErrInvalidRequest.Wrapf("note %s is escrowed by a swap", spend.Commitment)
		}
		if err := k.verifySpend(ctx, tx, spend); err != nil {
			return err
		}
		if err := k.spendNote(tx, spend); err != nil {
			return err
		}
		recipientIndex, err := k.appendCommitment(ctx, tx, msg.RecipientCommitment, msg.RecipientBindingKey)
		if err != nil {
			return err
		}
		if err := tx.Put(store.Key(types.EscrowPrefix, msg.RecipientCommitment[:]), swapID.Bytes(), nil); err != nil {
			return err
		}

		now := k.now().UTC()
		swap = &types.Swap{
			SwapID:                  swapID,
			Initiator:               msg.Initiator,
			InitiatorNoteCommitment: spend.Commitment,
			InitiatorNullifier:      spend.Nullifier,
			RecipientNoteCommitment: msg.RecipientCommitment,
			RecipientLeafIndex:      recipientIndex,
			InitiatorBindingKey:     spend.BindingPubKey,
			HTLCSecretHash:          msg.HTLCSecretHash,
			TimelockExpiry:          now.Add(timelock),
			Status:                  types.SwapInitiated,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if err := putJSON(tx, swapKey, swap); err != nil {
			return err
		}
		return k.emit(tx, types.NewEvent(types.EventTypeSwapInitiated,
			types.AttributeKeySwapID, swapID.Hex(),
			types.AttributeKeyNullifier, spend.Nullifier.Hex(),
			types.AttributeKeyCommitment, msg.RecipientCommitment.Hex(),
		))
	})
	if err != nil {
		return nil, err
	}
	k.logger.Info().Str("swap_id", swapID.Hex()).Time("expiry", swap.TimelockExpiry).Msg("swap initiated")
	return swap, nil
}

func getSwap(kv store.KV, swapID common.Felt) (*types.Swap, error) {
	return getJSON[types.Swap](kv, store.Key(types.SwapPrefix, swapID[:]), "swap "+swapID.Hex())
}

func (k *Keeper) setSwap(tx store.KV, swap *types.Swap) error {
	swap.UpdatedAt = k.now().UTC()
	return putJSON(tx, store.Key(types.SwapPrefix, swap.SwapID[:]), swap)
}
