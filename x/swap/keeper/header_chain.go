package keeper

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// SubmitBlockHeader adds a header to the chain. The first header anchors the
// chain. Later headers must extend a known header. Extending a header below
// the tip records a fork, and the fork becomes the main chain once it is
// strictly longer, provided it branches off at most MaxReorgDepth blocks
// below the tip. Resubmitting a known header is a no-op.
func (k *Keeper) SubmitBlockHeader(ctx context.Context, msg *types.MsgSubmitBlockHeader) (*types.HeaderRecord, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	h, err := msg.DecodedHeader()
	if err != nil {
		return nil, err
	}
	if err := h.CheckHash(); err != nil {
		return nil, err
	}
	if k.params.PowLimit != nil {
		if err := h.CheckProofOfWork(k.params.PowLimit); err != nil {
			return nil, err
		}
	}

	var rec *types.HeaderRecord
	err = k.atomic(func(tx *leveldb.Transaction) error {
		existing, err := getHeaderRecord(tx, h.Hash)
		if err == nil {
			rec = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		tip, err := tipRecord(tx)
		if err != nil {
			return err
		}
		if tip == nil {
			rec = &types.HeaderRecord{Header: h, MainChain: true, ChainWork: h.Work().String()}
			k.logger.Info().Str("hash", h.Hash).Int64("height", h.Height).Msg("header chain anchored")
			return k.extendMainChain(tx, rec)
		}

		parent, err := getHeaderRecord(tx, h.PrevBlockHash)
		if isNotFound(err) {
			return common.ErrChainContinuityViolation.Wrapf("header %s at %d: unknown parent %s", h.Hash, h.Height, h.PrevBlockHash)
		}
		if err != nil {
			return err
		}
		if h.Height != parent.Header.Height+1 {
			return common.ErrChainContinuityViolation.Wrapf("header %s claims height %d on parent at %d", h.Hash, h.Height, parent.Header.Height)
		}
		work := new(big.Int).Add(parent.Work(), h.Work())
		rec = &types.HeaderRecord{Header: h, ChainWork: work.String()}
		if parent.Header.Hash == tip.Header.Hash {
			rec.MainChain = true
			return k.extendMainChain(tx, rec)
		}
		return k.addForkHeader(tx, tip, parent, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (k *Keeper) extendMainChain(tx store.KV, rec *types.HeaderRecord) error {
	if err := k.setMainChain(tx, rec); err != nil {
		return err
	}
	if err := tx.Put([]byte(types.TipKey), []byte(rec.Header.Hash), nil); err != nil {
		return fmt.Errorf("fail to write tip: %w", err)
	}
	return k.emit(tx, types.NewEvent(types.EventTypeHeaderAccepted,
		types.AttributeKeyBlockHash, rec.Header.Hash,
		types.AttributeKeyHeight, types.Int64Attr(rec.Header.Height),
	))
}

func (k *Keeper) setMainChain(tx store.KV, rec *types.HeaderRecord) error {
	rec.MainChain = true
	if err := putJSON(tx, headerKey(rec.Header.Hash), rec); err != nil {
		return err
	}
	return tx.Put(heightKey(rec.Header.Height), []byte(rec.Header.Hash), nil)
}

// addForkHeader stores rec on a side branch and switches to that branch if it
// is now longer than the main chain.
func (k *Keeper) addForkHeader(tx store.KV, tip, parent, rec *types.HeaderRecord) error {
	// collect the side branch back to where it leaves the main chain
	branch := []*types.HeaderRecord{rec}
	ancestor := parent
	for !ancestor.MainChain {
		branch = append(branch, ancestor)
		next, err := getHeaderRecord(tx, ancestor.Header.PrevBlockHash)
		if err != nil {
			return fmt.Errorf("fail to walk fork at %s: %w", ancestor.Header.Hash, err)
		}
		ancestor = next
	}
	depth := tip.Header.Height - ancestor.Header.Height
	if depth > k.params.MaxReorgDepth {
		return common.ErrChainContinuityViolation.Wrapf("header %s forks %d blocks below the tip (max %d)", rec.Header.Hash, depth, k.params.MaxReorgDepth)
	}

	if rec.Header.Height <= tip.Header.Height {
		if err := putJSON(tx, headerKey(rec.Header.Hash), rec); err != nil {
			return err
		}
		k.logger.Info().Str("hash", rec.Header.Hash).Int64("height", rec.Header.Height).Int64("fork_depth", depth).Msg("fork header recorded")
		return k.emit(tx, types.NewEvent(types.EventTypeHeaderForked,
			types.AttributeKeyBlockHash, rec.Header.Hash,
			types.AttributeKeyHeight, types.Int64Attr(rec.Header.Height),
		))
	}

	for height := tip.Header.Height; height > ancestor.Header.Height; height-- {
		if err := k.orphanBlock(tx, height); err != nil {
			return err
		}
	}
	// branch runs tip to ancestor
	for i := len(branch) - 1; i > 0; i-- {
		if err := k.setMainChain(tx, branch[i]); err != nil {
			return err
		}
	}
	if err := k.extendMainChain(tx, rec); err != nil {
		return err
	}
	k.logger.Warn().Str("old_tip", tip.Header.Hash).Str("new_tip", rec.Header.Hash).Int64("depth", depth).Msg("chain reorganized")
	return k.emit(tx, types.NewEvent(types.EventTypeChainReorg,
		types.AttributeKeyOldTip, tip.Header.Hash,
		types.AttributeKeyNewTip, rec.Header.Hash,
		types.AttributeKeyDepth, types.Int64Attr(depth),
	))
}

// orphanBlock removes the main chain block at height: its verified
// transactions become invalid and swaps locked by them return to INITIATED.
func (k *Keeper) orphanBlock(tx store.KV, height int64) error {
	raw, err := tx.Get(heightKey(height), nil)
	if err != nil {
		return fmt.Errorf("fail to read main chain at %d: %w", height, err)
	}
	hash := string(raw)
	rec, err := getHeaderRecord(tx, hash)
	if err != nil {
		return err
	}
	rec.MainChain = false
	if err := putJSON(tx, headerKey(hash), rec); err != nil {
		return err
	}
	if err := tx.Delete(heightKey(height), nil); err != nil {
		return err
	}

	txids, err := collectSuffixes(tx, blockIndexPrefix(types.BlockTxPrefix, hash))
	if err != nil {
		return err
	}
	for _, txid := range txids {
		vtx, err := getJSON[types.VerifiedTx](tx, store.Key(types.VerifiedTxPrefix, []byte(txid)), "verified tx "+txid)
		if err != nil {
			return err
		}
		vtx.Valid = false
		if err := putJSON(tx, store.Key(types.VerifiedTxPrefix, []byte(txid)), vtx); err != nil {
			return err
		}
		if err := tx.Delete(blockIndexKey(types.BlockTxPrefix, hash, txid), nil); err != nil {
			return err
		}
		if err := k.emit(tx, types.NewEvent(types.EventTypeTxInvalidated,
			types.AttributeKeyTxID, txid,
			types.AttributeKeyBlockHash, hash,
		)); err != nil {
			return err
		}
	}

	swapIDs, err := collectSuffixes(tx, blockIndexPrefix(types.BlockSwapPrefix, hash))
	if err != nil {
		return err
	}
	for _, id := range swapIDs {
		if err := tx.Delete(blockIndexKey(types.BlockSwapPrefix, hash, id), nil); err != nil {
			return err
		}
		swapID, err := common.ParseFelt(id)
		if err != nil {
			return fmt.Errorf("bad swap index entry %q: %w", id, err)
		}
		swap, err := getSwap(tx, swapID)
		if err != nil {
			return err
		}
		if swap.Status != types.SwapLocked {
			continue
		}
		if err := tx.Delete(store.Key(types.LockedTxPrefix, []byte(swap.BTCTxID)), nil); err != nil {
			return err
		}
		swap.ClearBTC()
		swap.Status = types.SwapInitiated
		if err := k.setSwap(tx, swap); err != nil {
			return err
		}
		k.logger.Warn().Str("swap_id", id).Str("block", hash).Msg("swap lock orphaned, back to initiated")
		if err := k.emit(tx, types.NewEvent(types.EventTypeSwapReverted,
			types.AttributeKeySwapID, id,
			types.AttributeKeyBlockHash, hash,
		)); err != nil {
			return err
		}
	}
	return nil
}

func headerKey(hash string) []byte {
	return store.Key(types.HeaderPrefix, []byte(hash))
}

func heightKey(height int64) []byte {
	return store.Uint64Key(types.HeightPrefix, uint64(height))
}

func blockIndexPrefix(prefix, blockHash string) []byte {
	return []byte(prefix + blockHash + "/")
}

func blockIndexKey(prefix, blockHash, id string) []byte {
	return []byte(prefix + blockHash + "/" + id)
}

// collectSuffixes lists the keys under prefix with the prefix stripped.
func collectSuffixes(kv store.KV, prefix []byte) ([]string, error) {
	it := kv.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(prefix):]))
	}
	return out, it.Error()
}

func getHeaderRecord(kv store.KV, hash string) (*types.HeaderRecord, error) {
	return getJSON[types.HeaderRecord](kv, headerKey(hash), "header "+hash)
}

// tipRecord returns the main chain tip, or nil before the chain is anchored.
func tipRecord(kv store.KV) (*types.HeaderRecord, error) {
	raw, err := kv.Get([]byte(types.TipKey), nil)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail to read tip: %w", err)
	}
	return getHeaderRecord(kv, string(raw))
}

// mainChainHeader returns the main chain header at height.
func mainChainHeader(kv store.KV, height int64) (*bitcoin.BlockHeader, error) {
	if height < 0 {
		return nil, common.ErrNotFound.Wrapf("height %d", height)
	}
	raw, err := kv.Get(heightKey(height), nil)
	if store.IsNotFound(err) {
		return nil, common.ErrNotFound.Wrapf("no main chain header at %d", height)
	}
	if err != nil {
		return nil, fmt.Errorf("fail to read main chain at %d: %w", height, err)
	}
	rec, err := getHeaderRecord(kv, string(raw))
	if err != nil {
		return nil, err
	}
	return &rec.Header, nil
}
