package keeper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// MaxPageSize caps list queries.
const MaxPageSize = 1000

func (k *Keeper) GetSwap(_ context.Context, swapID common.Felt) (swap *types.Swap, err error) {
	err = k.view(func(kv store.KV) error {
		swap, err = getSwap(kv, swapID)
		return err
	})
	return swap, err
}

func (k *Keeper) IsNullifierSpent(_ context.Context, nullifier common.Felt) (spent bool, err error) {
	err = k.view(func(kv store.KV) error {
		spent, err = isNullifierSpent(kv, nullifier)
		return err
	})
	return spent, err
}

// GetMerkleRoot returns the current accumulator root, zero when empty.
func (k *Keeper) GetMerkleRoot(_ context.Context) (root common.Felt, err error) {
	err = k.view(func(kv store.KV) error {
		root, err = currentRoot(kv)
		return err
	})
	return root, err
}

func (k *Keeper) IsKnownRoot(_ context.Context, root common.Felt) (known bool, err error) {
	err = k.view(func(kv store.KV) error {
		known, err = k.isKnownRoot(kv, root)
		return err
	})
	return known, err
}

func (k *Keeper) GetTreeSize(_ context.Context) (size uint64, err error) {
	err = k.view(func(kv store.KV) error {
		size, err = merkle.NewKVLeafStore(kv, types.LeafPrefix).Len()
		return err
	})
	return size, err
}

// GetLeaves pages through the accumulator leaves starting at from.
func (k *Keeper) GetLeaves(_ context.Context, from, limit uint64) ([]common.Felt, error) {
	if limit == 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var leaves []common.Felt
	err := k.view(func(kv store.KV) error {
		ls := merkle.NewKVLeafStore(kv, types.LeafPrefix)
		n, err := ls.Len()
		if err != nil {
			return err
		}
		for i := from; i < n && uint64(len(leaves)) < limit; i++ {
			leaf, err := ls.Leaf(i)
			if err != nil {
				return err
			}
			leaves = append(leaves, leaf)
		}
		return nil
	})
	return leaves, err
}

// GetBlockHeader returns the main chain header at height.
func (k *Keeper) GetBlockHeader(_ context.Context, height int64) (header *bitcoin.BlockHeader, err error) {
	err = k.view(func(kv store.KV) error {
		header, err = mainChainHeader(kv, height)
		return err
	})
	return header, err
}

// GetHeaderRecord returns any accepted header, main chain or fork.
func (k *Keeper) GetHeaderRecord(_ context.Context, hash string) (rec *types.HeaderRecord, err error) {
	err = k.view(func(kv store.KV) error {
		rec, err = getHeaderRecord(kv, hash)
		return err
	})
	return rec, err
}

// GetLatestHeight returns the main chain tip height. It fails with
// ErrNotFound before the chain is anchored.
func (k *Keeper) GetLatestHeight(_ context.Context) (height int64, err error) {
	err = k.view(func(kv store.KV) error {
		tip, err := tipRecord(kv)
		if err != nil {
			return err
		}
		if tip == nil {
			return common.ErrNotFound.Wrap("no headers submitted")
		}
		height = tip.Header.Height
		return nil
	})
	return height, err
}

func (k *Keeper) GetVerifiedTx(_ context.Context, txid string) (vtx *types.VerifiedTx, err error) {
	err = k.view(func(kv store.KV) error {
		vtx, err = getJSON[types.VerifiedTx](kv, store.Key(types.VerifiedTxPrefix, []byte(txid)), "verified tx "+txid)
		return err
	})
	return vtx, err
}

// Events returns up to limit events with sequence numbers from from onwards.
func (k *Keeper) Events(_ context.Context, from, limit uint64) ([]types.Event, error) {
	if limit == 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var events []types.Event
	err := k.view(func(kv store.KV) error {
		it := kv.NewIterator(&util.Range{
			Start: store.Uint64Key(types.EventPrefix, from),
			Limit: util.BytesPrefix([]byte(types.EventPrefix)).Limit,
		}, nil)
		defer it.Release()
		for it.Next() && uint64(len(events)) < limit {
			var e types.Event
			if err := json.Unmarshal(it.Value(), &e); err != nil {
				return fmt.Errorf("fail to decode event: %w", err)
			}
			events = append(events, e)
		}
		return it.Error()
	})
	return events, err
}
