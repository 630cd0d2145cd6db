package types

import (
	"context"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/note"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ComputeSwapID is H4(reduce(secretHash), initiatorCommitment,
// recipientCommitment, initiator).
func ComputeSwapID(ctx context.Context, h hasher.Hasher, secretHash [32]byte, initiatorCommitment, recipientCommitment, initiator common.Felt) (common.Felt, error) {
	return h.Hash(ctx, common.Felt(secretHash).Reduce(), initiatorCommitment, recipientCommitment, initiator)
}

// RefundMessage is H4(swapID, refundCommitment, reduce(refundBindingKey),
// caller).
func RefundMessage(ctx context.Context, h hasher.Hasher, swapID, refundCommitment common.Felt, refundBindingKey []byte, caller common.Felt) (common.Felt, error) {
	var key common.Felt
	copy(key[:], refundBindingKey)
	return h.Hash(ctx, swapID, refundCommitment, key.Reduce(), caller)
}

// SignRefund signs a refund with the binding key of the note the initiator
// spent into the swap.
func SignRefund(ctx context.Context, h hasher.Hasher, noteSecret, swapID, refundCommitment common.Felt, refundBindingKey []byte, caller common.Felt) ([]byte, error) {
	m, err := RefundMessage(ctx, h, swapID, refundCommitment, refundBindingKey, caller)
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(note.BindingKey(noteSecret), m[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifyRefund checks the signature of msg against the x-only binding key.
func VerifyRefund(ctx context.Context, h hasher.Hasher, bindingKey []byte, msg *MsgRefundSwap) error {
	pub, err := schnorr.ParsePubKey(bindingKey)
	if err != nil {
		return common.ErrInvalidSignature.Wrapf("binding key: %s", err)
	}
	s, err := schnorr.ParseSignature(msg.Signature)
	if err != nil {
		return common.ErrInvalidSignature.Wrapf("refund signature: %s", err)
	}
	m, err := RefundMessage(ctx, h, msg.SwapID, msg.RefundCommitment, msg.RefundBindingKey, msg.Caller)
	if err != nil {
		return err
	}
	if !s.Verify(m[:], pub) {
		return common.ErrInvalidSignature.Wrapf("refund of swap %s", msg.SwapID)
	}
	return nil
}
