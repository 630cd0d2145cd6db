package keeper

import (
	"context"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// CommitNote appends commitment to the ledger accumulator and returns its
// leaf index.
func (k *Keeper) CommitNote(ctx context.Context, msg *types.MsgCommitNote) (uint64, error) {
	if err := msg.ValidateBasic(); err != nil {
		return 0, err
	}
	var index uint64
	err := k.atomic(func(tx *leveldb.Transaction) error {
		var err error
		index, err = k.appendCommitment(ctx, tx, msg.Commitment, msg.BindingKey)
		return err
	})
	return index, err
}

// appendCommitment inserts c with its binding key, recomputes the root and
// pushes it into the root history ring.
func (k *Keeper) appendCommitment(ctx context.Context, tx store.KV, c common.Felt, bindingKey []byte) (uint64, error) {
	leaves := merkle.NewKVLeafStore(tx, types.LeafPrefix)
	index, err := leaves.Append(c)
	if err != nil {
		return 0, err
	}
	if err := tx.Put(store.Key(types.BindingKeyPrefix, c[:]), bindingKey, nil); err != nil {
		return 0, fmt.Errorf("fail to register binding key: %w", err)
	}
	all, err := merkle.Leaves(leaves)
	if err != nil {
		return 0, err
	}
	root, err := merkle.ComputeRoot(ctx, k.hasher, all)
	if err != nil {
		return 0, fmt.Errorf("fail to compute root: %w", err)
	}
	if err := k.pushRoot(tx, root); err != nil {
		return 0, err
	}
	return index, k.emit(tx, types.NewEvent(types.EventTypeNoteCommitted,
		types.AttributeKeyCommitment, c.Hex(),
		types.AttributeKeyLeafIndex, types.Uint64Attr(index),
		types.AttributeKeyRoot, root.Hex(),
	))
}

func (k *Keeper) pushRoot(tx store.KV, root common.Felt) error {
	count, err := store.GetUint64(tx, []byte(types.RootHistoryCountKey))
	if err != nil {
		return fmt.Errorf("fail to read root history: %w", err)
	}
	slot := count % uint64(k.params.RootHistorySize)
	batch := new(leveldb.Batch)
	batch.Put(store.Uint64Key(types.RootHistoryPrefix, slot), root.Bytes())
	batch.Put([]byte(types.RootHistoryCountKey), store.EncodeUint64(count+1))
	batch.Put([]byte(types.RootKey), root.Bytes())
	if err := tx.Write(batch, nil); err != nil {
		return fmt.Errorf("fail to write root: %w", err)
	}
	return nil
}

func currentRoot(kv store.KV) (common.Felt, error) {
	raw, err := kv.Get([]byte(types.RootKey), nil)
	if store.IsNotFound(err) {
		return common.ZeroFelt, nil
	}
	if err != nil {
		return common.ZeroFelt, fmt.Errorf("fail to read root: %w", err)
	}
	return common.NewFeltFromBytes(raw)
}

// isKnownRoot reports whether root is one of the last RootHistorySize roots.
// The zero root of the empty tree is never known.
func (k *Keeper) isKnownRoot(kv store.KV, root common.Felt) (bool, error) {
	if root.IsZero() {
		return false, nil
	}
	count, err := store.GetUint64(kv, []byte(types.RootHistoryCountKey))
	if err != nil {
		return false, fmt.Errorf("fail to read root history: %w", err)
	}
	slots := min(count, uint64(k.params.RootHistorySize))
	for slot := uint64(0); slot < slots; slot++ {
		raw, err := kv.Get(store.Uint64Key(types.RootHistoryPrefix, slot), nil)
		if err != nil {
			return false, fmt.Errorf("fail to read root slot %d: %w", slot, err)
		}
		if common.Felt(raw) == root {
			return true, nil
		}
	}
	return false, nil
}

func isNullifierSpent(kv store.KV, nullifier common.Felt) (bool, error) {
	return has(kv, store.Key(types.NullifierPrefix, nullifier[:]))
}

// spendNote is the registry's check-and-set. It consumes both the nullifier
// and the commitment of p, so a note cannot be spent twice under different
// nullifiers.
func (k *Keeper) spendNote(tx store.KV, p *note.SpendProof) error {
	spent, err := isNullifierSpent(tx, p.Nullifier)
	if err != nil {
		return err
	}
	if spent {
		return common.ErrNullifierAlreadySpent.Wrapf("nullifier %s", p.Nullifier)
	}
	consumed, err := has(tx, store.Key(types.SpentCommitmentPrefix, p.Commitment[:]))
	if err != nil {
		return err
	}
	if consumed {
		return common.ErrNullifierAlreadySpent.Wrapf("commitment %s is already spent", p.Commitment)
	}
	batch := new(leveldb.Batch)
	batch.Put(store.Key(types.NullifierPrefix, p.Nullifier[:]), []byte{1})
	batch.Put(store.Key(types.SpentCommitmentPrefix, p.Commitment[:]), p.Nullifier.Bytes())
	if err := tx.Write(batch, nil); err != nil {
		return fmt.Errorf("fail to mark nullifier: %w", err)
	}
	return k.emit(tx, types.NewEvent(types.EventTypeNullifierSpent, types.AttributeKeyNullifier, p.Nullifier.Hex()))
}
