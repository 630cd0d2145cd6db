package keeper

import (
	"bytes"
	"context"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/x/swap/types"
)

// verifySpend checks everything about p except its nullifier: the root is
// recent, the commitment is included under it, the binding key is the one
// registered with the commitment, the binding signature holds and, when a
// verifier is configured, the ownership proof verifies.
func (k *Keeper) verifySpend(ctx context.Context, kv store.KV, p *note.SpendProof) error {
	known, err := k.isKnownRoot(kv, p.MerkleRoot)
	if err != nil {
		return err
	}
	if !known {
		return common.ErrUnknownRoot.Wrapf("root %s", p.MerkleRoot)
	}
	if err := note.VerifyInclusion(ctx, k.hasher, p); err != nil {
		return err
	}
	registered, err := kv.Get(store.Key(types.BindingKeyPrefix, p.Commitment[:]), nil)
	if store.IsNotFound(err) {
		return common.ErrUnauthorizedSpender.Wrapf("commitment %s has no binding key", p.Commitment)
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(registered, p.BindingPubKey) {
		return common.ErrUnauthorizedSpender.Wrapf("commitment %s is bound to another key", p.Commitment)
	}
	if err := note.VerifyBinding(ctx, k.hasher, p); err != nil {
		return err
	}
	if k.verifier != nil {
		if len(p.OwnershipProof) == 0 {
			return common.ErrInvalidProof.Wrapf("nullifier %s: ownership proof is required", p.Nullifier)
		}
		if err := k.verifier.VerifyOwnership(p.OwnershipProof, p.Commitment, p.Nullifier, p.Spender); err != nil {
			return err
		}
	}
	return nil
}
