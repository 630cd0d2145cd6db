package types

import (
	"github.com/btcq-org/qswap/common"
	"github.com/hashicorp/go-multierror"
)

// MsgCommitNote appends a note commitment to the ledger accumulator.
// BindingKey is the x-only key derived from the note secret; spends of the
// note must be signed by it.
type MsgCommitNote struct {
	Commitment common.Felt `json:"commitment"`
	BindingKey []byte      `json:"binding_key"`
}

func (m *MsgCommitNote) ValidateBasic() error {
	var err error
	if e := validateFelt("commitment", m.Commitment); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateBindingKey("binding key", m.BindingKey); e != nil {
		err = multierror.Append(err, e)
	}
	return err
}
