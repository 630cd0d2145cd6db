package zk

import (
	"bytes"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"
)

// Verifier checks ownership proofs against a fixed verifying key.
type Verifier struct {
	vk plonk.VerifyingKey
}

func NewVerifier(vk plonk.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// NewVerifierFromBytes builds a verifier from a serialized verifying key.
func NewVerifierFromBytes(vkBytes []byte) (*Verifier, error) {
	vk, err := DeserializeVerifyingKey(vkBytes)
	if err != nil {
		return nil, err
	}
	return NewVerifier(vk), nil
}

// Verify fails with ErrInvalidProof unless proofBytes proves ownership of the
// note described by inputs.
func (v *Verifier) Verify(proofBytes []byte, inputs PublicInputs) error {
	if len(proofBytes) < MinProofLen || len(proofBytes) > MaxProofLen {
		return common.ErrInvalidProof.Wrapf("proof length %d", len(proofBytes))
	}
	proof := plonk.NewProof(CurveID)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return common.ErrInvalidProof.Wrapf("fail to decode proof: %s", err)
	}
	witness, err := frontend.NewWitness(inputs.assignment(), CurveID.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("fail to create public witness: %w", err)
	}
	if err := plonk.Verify(proof, v.vk, witness); err != nil {
		return common.ErrInvalidProof.Wrapf("commitment %s: %s", inputs.Commitment, err)
	}
	return nil
}

// VerifyingKeyBytes returns the serialized verifying key.
func (v *Verifier) VerifyingKeyBytes() ([]byte, error) {
	return SerializeVerifyingKey(v.vk)
}

// VerifyOwnership checks proofBytes for the note with the given public
// fields. It lets the ledger use the verifier without importing gnark types.
func (v *Verifier) VerifyOwnership(proofBytes []byte, commitment, nullifier, recipient common.Felt) error {
	return v.Verify(proofBytes, PublicInputs{
		Commitment: commitment,
		Nullifier:  nullifier,
		Recipient:  recipient,
	})
}
