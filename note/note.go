// Package note creates privacy notes, keeps them encrypted at rest and builds
// the spend proofs that consume them.
package note

import (
	"context"
	"fmt"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
)

// Note is a committed value owned by whoever knows Secret.
type Note struct {
	Amount            common.Amount `json:"amount"`
	RecipientIdentity common.Felt   `json:"recipient_identity"`
	Secret            common.Felt   `json:"secret"`
	Nullifier         common.Felt   `json:"nullifier"`
	Commitment        common.Felt   `json:"commitment"`
	AmountCommitment  common.Felt   `json:"amount_commitment"`
	LeafIndex         uint64        `json:"leaf_index"`
	CreatedAt         time.Time     `json:"created_at"`
	Spent             bool          `json:"spent"`
}

// Derived holds the hash-derived fields of a note.
type Derived struct {
	Commitment       common.Felt
	Nullifier        common.Felt
	AmountCommitment common.Felt
}

// Derive computes
//
//	commitment       = H3(amount, recipient, secret)
//	nullifier        = H2(secret, recipient)
//	amountCommitment = H2(amount, secret)
func Derive(ctx context.Context, h hasher.Hasher, amount common.Amount, recipient, secret common.Felt) (Derived, error) {
	amt, err := common.AmountFelt(amount)
	if err != nil {
		return Derived{}, err
	}
	if !recipient.IsValid() {
		return Derived{}, common.ErrInvalidRequest.Wrapf("recipient %s is not a field element", recipient)
	}
	if !secret.IsValid() {
		return Derived{}, common.ErrInvalidRequest.Wrap("secret is not a field element")
	}
	var d Derived
	if d.Commitment, err = h.Hash(ctx, amt, recipient, secret); err != nil {
		return Derived{}, fmt.Errorf("fail to compute commitment: %w", err)
	}
	if d.Nullifier, err = h.Hash(ctx, secret, recipient); err != nil {
		return Derived{}, fmt.Errorf("fail to compute nullifier: %w", err)
	}
	if d.AmountCommitment, err = h.Hash(ctx, amt, secret); err != nil {
		return Derived{}, fmt.Errorf("fail to compute amount commitment: %w", err)
	}
	return d, nil
}

// RecipientSecret derives the secret of the note a swap pays out, so that
// revealing the HTLC secret is what lets the recipient spend it:
// H2(reduce(htlcSecret), recipient).
func RecipientSecret(ctx context.Context, h hasher.Hasher, htlcSecret [32]byte, recipient common.Felt) (common.Felt, error) {
	return h.Hash(ctx, common.Felt(htlcSecret).Reduce(), recipient)
}
