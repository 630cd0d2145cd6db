package keeper

import (
	"context"
	"fmt"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// VerifyBTCTransaction proves txid against the main chain header at height
// once it has MinConfirmations. Verifying an already valid transaction
// returns the stored record.
func (k *Keeper) VerifyBTCTransaction(ctx context.Context, msg *types.MsgVerifyBTCTransaction) (*types.VerifiedTx, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	var vtx *types.VerifiedTx
	err := k.atomic(func(tx *leveldb.Transaction) error {
		var err error
		vtx, err = k.verifyTx(tx, msg.TxID, msg.BlockHeight, msg.MerkleProof, msg.TxIndex)
		return err
	})
	return vtx, err
}

func (k *Keeper) verifyTx(tx store.KV, txid string, height int64, proof []string, index uint32) (*types.VerifiedTx, error) {
	vtxKey := store.Key(types.VerifiedTxPrefix, []byte(txid))
	existing, err := getJSON[types.VerifiedTx](tx, vtxKey, "verified tx "+txid)
	if err == nil && existing.Valid {
		return existing, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	header, err := mainChainHeader(tx, height)
	if isNotFound(err) {
		return nil, common.ErrTransactionNotConfirmed.Wrapf("tx %s: no main chain header at %d", txid, height)
	}
	if err != nil {
		return nil, err
	}
	tip, err := tipRecord(tx)
	if err != nil {
		return nil, err
	}
	if confirmations := tip.Header.Height - height + 1; confirmations < k.params.MinConfirmations {
		return nil, common.ErrInsufficientConfirmations.Wrapf("tx %s has %d confirmations, need %d", txid, confirmations, k.params.MinConfirmations)
	}
	if !bitcoin.VerifyMerkleProof(txid, proof, index, header.MerkleRoot) {
		return nil, common.ErrInvalidMerkleProof.Wrapf("tx %s at index %d of block %s", txid, index, header.Hash)
	}

	vtx := &types.VerifiedTx{
		TxID:       txid,
		BlockHash:  header.Hash,
		Height:     height,
		TxIndex:    index,
		VerifiedAt: k.now().UTC(),
		Valid:      true,
	}
	if err := putJSON(tx, vtxKey, vtx); err != nil {
		return nil, err
	}
	if err := tx.Put(blockIndexKey(types.BlockTxPrefix, header.Hash, txid), nil, nil); err != nil {
		return nil, fmt.Errorf("fail to index tx: %w", err)
	}
	return vtx, k.emit(tx, types.NewEvent(types.EventTypeTxVerified,
		types.AttributeKeyTxID, txid,
		types.AttributeKeyBlockHash, header.Hash,
		types.AttributeKeyHeight, types.Int64Attr(height),
	))
}

// LockSwapWithBTC moves an initiated swap to LOCKED once its BTC funding
// transaction is verified. A transaction locks at most one swap.
func (k *Keeper) LockSwapWithBTC(ctx context.Context, msg *types.MsgLockSwap) (*types.Swap, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	var swap *types.Swap
	err := k.atomic(func(tx *leveldb.Transaction) error {
		var err error
		if swap, err = getSwap(tx, msg.SwapID); err != nil {
			return err
		}
		if swap.Status != types.SwapInitiated {
			return common.ErrInvalidSwapState.Wrapf("swap %s is %s, want %s", swap.SwapID, swap.Status, types.SwapInitiated)
		}
		if swap.IsExpired(k.now()) {
			return common.ErrInvalidSwapState.Wrapf("swap %s timelock elapsed at %s", swap.SwapID, swap.TimelockExpiry)
		}
		lockKey := store.Key(types.LockedTxPrefix, []byte(msg.TxID))
		if raw, err := tx.Get(lockKey, nil); err == nil {
			return common.ErrInvalidRequest.Wrapf("tx %s already locks swap %x", msg.TxID, raw)
		} else if !store.IsNotFound(err) {
			return err
		}
		vtx, err := k.verifyTx(tx, msg.TxID, msg.BlockHeight, msg.MerkleProof, msg.TxIndex)
		if err != nil {
			return err
		}

		swap.BTCTxID = vtx.TxID
		swap.BTCBlockHash = vtx.BlockHash
		swap.BTCBlockHeight = vtx.Height
		swap.Status = types.SwapLocked
		if err := k.setSwap(tx, swap); err != nil {
			return err
		}
		if err := tx.Put(lockKey, swap.SwapID.Bytes(), nil); err != nil {
			return err
		}
		if err := tx.Put(blockIndexKey(types.BlockSwapPrefix, vtx.BlockHash, swap.SwapID.Hex()), nil, nil); err != nil {
			return err
		}
		return k.emit(tx, types.NewEvent(types.EventTypeSwapLocked,
			types.AttributeKeySwapID, swap.SwapID.Hex(),
			types.AttributeKeyTxID, vtx.TxID,
			types.AttributeKeyBlockHash, vtx.BlockHash,
		))
	})
	if err != nil {
		return nil, err
	}
	k.logger.Info().Str("swap_id", swap.SwapID.Hex()).Str("txid", swap.BTCTxID).Msg("swap locked")
	return swap, nil
}
