package types

import (
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/hashicorp/go-multierror"
)

// MsgInitiateSwap spends the initiator's note into a swap paying
// RecipientCommitment once the HTLC secret is revealed.
type MsgInitiateSwap struct {
	Initiator           common.Felt      `json:"initiator"`
	InitiatorSpend      *note.SpendProof `json:"initiator_spend"`
	RecipientCommitment common.Felt      `json:"recipient_commitment"`
	RecipientBindingKey []byte           `json:"recipient_binding_key"`
	// HTLCSecretHash is the hex encoded sha256 of the HTLC secret.
	HTLCSecretHash string `json:"htlc_secret_hash"`
	// TimelockSeconds of zero selects the ledger default.
	TimelockSeconds int64 `json:"timelock_seconds,omitempty"`
}

func (m *MsgInitiateSwap) ValidateBasic() error {
	var err error
	if e := validateFelt("initiator", m.Initiator); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateFelt("recipient commitment", m.RecipientCommitment); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateBindingKey("recipient binding key", m.RecipientBindingKey); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateHashHex("htlc secret hash", m.HTLCSecretHash); e != nil {
		err = multierror.Append(err, e)
	}
	if m.TimelockSeconds < 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("negative timelock %d", m.TimelockSeconds))
	}
	if e := ValidateSpendProof(m.InitiatorSpend); e != nil {
		return multierror.Append(err, e)
	}
	if m.InitiatorSpend.Spender != m.Initiator {
		err = multierror.Append(err, common.ErrUnauthorizedSpender.Wrapf("spend proof is bound to %s, not the initiator", m.InitiatorSpend.Spender))
	}
	if m.InitiatorSpend.Commitment == m.RecipientCommitment {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrap("recipient commitment equals the spent note"))
	}
	return err
}
