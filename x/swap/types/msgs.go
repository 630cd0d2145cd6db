package types

import (
	"encoding/hex"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/hashicorp/go-multierror"
)

const (
	// HashHexLength is the length of a hex encoded txid, block hash or
	// sha256 digest.
	HashHexLength = 64
	// MaxMerkleProofLength bounds a Bitcoin merkle branch. Blocks would need
	// over 2^32 transactions to exceed it.
	MaxMerkleProofLength = 32
	// MaxAccumulatorDepth bounds the sibling path of an accumulator proof.
	MaxAccumulatorDepth = 64
	// MaxOwnershipProofSize bounds an attached ownership proof in bytes.
	MaxOwnershipProofSize = 64 * 1024
	// BindingKeyLength and BindingSignatureLength are the BIP-340 sizes.
	BindingKeyLength       = 32
	BindingSignatureLength = 64
)

// Msg is implemented by every ledger entry point's request.
type Msg interface {
	ValidateBasic() error
}

func validateHashHex(field, value string) error {
	if len(value) != HashHexLength {
		return common.ErrInvalidRequest.Wrapf("%s must be %d hex characters, got %d", field, HashHexLength, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return common.ErrInvalidRequest.Wrapf("%s is not valid hex: %v", field, err)
	}
	return nil
}

// DecodeHash32 decodes a hex encoded 32-byte value.
func DecodeHash32(field, value string) ([32]byte, error) {
	var out [32]byte
	if err := validateHashHex(field, value); err != nil {
		return out, err
	}
	raw, _ := hex.DecodeString(value)
	copy(out[:], raw)
	return out, nil
}

func validateFelt(field string, f common.Felt) error {
	if f.IsZero() {
		return common.ErrInvalidRequest.Wrapf("%s is required", field)
	}
	if !f.IsValid() {
		return common.ErrInvalidRequest.Wrapf("%s is not a field element", field)
	}
	return nil
}

// validateBindingKey checks that key is an x-only BIP-340 public key.
func validateBindingKey(field string, key []byte) error {
	if len(key) != BindingKeyLength {
		return common.ErrInvalidRequest.Wrapf("%s is %d bytes, want %d", field, len(key), BindingKeyLength)
	}
	if _, err := schnorr.ParsePubKey(key); err != nil {
		return common.ErrInvalidRequest.Wrapf("%s: %v", field, err)
	}
	return nil
}

func validateMerkleBranch(txid string, branch []string) error {
	var err error
	if e := validateHashHex("txid", txid); e != nil {
		err = multierror.Append(err, e)
	}
	if len(branch) > MaxMerkleProofLength {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("merkle proof has %d elements (max %d)", len(branch), MaxMerkleProofLength))
	}
	for i, h := range branch {
		if e := validateHashHex("merkle proof element", h); e != nil {
			err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("element %d: %v", i, e))
		}
	}
	return err
}

// ValidateSpendProof checks the shape of p: field elements in range, path
// length and signature sizes. Cryptographic checks happen in the keeper.
func ValidateSpendProof(p *note.SpendProof) error {
	if p == nil {
		return common.ErrInvalidRequest.Wrap("spend proof is required")
	}
	var err error
	for _, f := range []struct {
		name  string
		value common.Felt
	}{
		{"merkle root", p.MerkleRoot},
		{"nullifier", p.Nullifier},
		{"commitment", p.Commitment},
		{"spender", p.Spender},
	} {
		if e := validateFelt(f.name, f.value); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if len(p.ProofElements) > MaxAccumulatorDepth {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("proof has %d elements (max %d)", len(p.ProofElements), MaxAccumulatorDepth))
	}
	for i, el := range p.ProofElements {
		if !el.IsValid() {
			err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("proof element %d is not a field element", i))
		}
	}
	if len(p.BindingPubKey) != BindingKeyLength {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("binding key is %d bytes", len(p.BindingPubKey)))
	}
	if len(p.BindingSignature) != BindingSignatureLength {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("binding signature is %d bytes", len(p.BindingSignature)))
	}
	if len(p.OwnershipProof) > MaxOwnershipProofSize {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("ownership proof too large: %d bytes", len(p.OwnershipProof)))
	}
	return err
}
