package types

import (
	"github.com/btcq-org/qswap/common"
	"github.com/hashicorp/go-multierror"
)

// MsgLockSwap proves the Bitcoin HTLC funding transaction of a swap.
type MsgLockSwap struct {
	SwapID      common.Felt `json:"swap_id"`
	TxID        string      `json:"txid"`
	BlockHeight int64       `json:"block_height"`
	MerkleProof []string    `json:"merkle_proof"`
	TxIndex     uint32      `json:"tx_index"`
}

func (m *MsgLockSwap) ValidateBasic() error {
	var err error
	if e := validateFelt("swap id", m.SwapID); e != nil {
		err = multierror.Append(err, e)
	}
	if m.BlockHeight < 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("negative block height %d", m.BlockHeight))
	}
	if e := validateMerkleBranch(m.TxID, m.MerkleProof); e != nil {
		err = multierror.Append(err, e)
	}
	return err
}

// MsgVerifyBTCTransaction proves a Bitcoin transaction against the ledger's
// header chain.
type MsgVerifyBTCTransaction struct {
	TxID        string   `json:"txid"`
	BlockHeight int64    `json:"block_height"`
	MerkleProof []string `json:"merkle_proof"`
	TxIndex     uint32   `json:"tx_index"`
}

func (m *MsgVerifyBTCTransaction) ValidateBasic() error {
	var err error
	if m.BlockHeight < 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("negative block height %d", m.BlockHeight))
	}
	if e := validateMerkleBranch(m.TxID, m.MerkleProof); e != nil {
		err = multierror.Append(err, e)
	}
	return err
}
