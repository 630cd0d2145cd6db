package types

import (
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/hashicorp/go-multierror"
)

// MsgCompleteSwap reveals the HTLC secret and spends the recipient note of a
// locked swap into OutputCommitment, a fresh note of the recipient.
type MsgCompleteSwap struct {
	SwapID common.Felt `json:"swap_id"`
	// Secret is the hex encoded 32-byte HTLC preimage.
	Secret           string           `json:"secret"`
	RecipientSpend   *note.SpendProof `json:"recipient_spend"`
	OutputCommitment common.Felt      `json:"output_commitment"`
	OutputBindingKey []byte           `json:"output_binding_key"`
}

func (m *MsgCompleteSwap) ValidateBasic() error {
	var err error
	if e := validateFelt("swap id", m.SwapID); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateHashHex("secret", m.Secret); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateFelt("output commitment", m.OutputCommitment); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateBindingKey("output binding key", m.OutputBindingKey); e != nil {
		err = multierror.Append(err, e)
	}
	if e := ValidateSpendProof(m.RecipientSpend); e != nil {
		return multierror.Append(err, e)
	}
	if m.RecipientSpend.Commitment == m.OutputCommitment {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrap("output commitment equals the spent note"))
	}
	return err
}

// MsgRefundSwap returns an expired swap to its initiator by committing
// RefundCommitment. Signature is a BIP-340 signature by the initiator's
// binding key over RefundMessage.
type MsgRefundSwap struct {
	SwapID           common.Felt `json:"swap_id"`
	Caller           common.Felt `json:"caller"`
	RefundCommitment common.Felt `json:"refund_commitment"`
	RefundBindingKey []byte      `json:"refund_binding_key"`
	Signature        []byte      `json:"signature"`
}

func (m *MsgRefundSwap) ValidateBasic() error {
	var err error
	if e := validateFelt("swap id", m.SwapID); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateFelt("caller", m.Caller); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateFelt("refund commitment", m.RefundCommitment); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateBindingKey("refund binding key", m.RefundBindingKey); e != nil {
		err = multierror.Append(err, e)
	}
	if len(m.Signature) != BindingSignatureLength {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("signature is %d bytes", len(m.Signature)))
	}
	return err
}
