package zk

import (
	"bytes"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

const (
	// MaxProofLen bounds an encoded proof. PLONK proofs over BN254 are well
	// under a kilobyte.
	MaxProofLen = 64 * 1024
	// MinProofLen rejects obviously truncated proofs before parsing.
	MinProofLen = 100
)

// Prover generates ownership proofs. It implements note.OwnershipProver.
type Prover struct {
	cs constraint.ConstraintSystem
	pk plonk.ProvingKey
}

func NewProver(cs constraint.ConstraintSystem, pk plonk.ProvingKey) *Prover {
	return &Prover{cs: cs, pk: pk}
}

func ProverFromSetup(setup *SetupResult) *Prover {
	return NewProver(setup.ConstraintSystem, setup.ProvingKey)
}

// ProveOwnership returns the encoded PLONK proof that the caller knows amount
// and secret opening commitment and nullifier for recipient.
func (p *Prover) ProveOwnership(amount common.Amount, recipient, secret, commitment, nullifier common.Felt) ([]byte, error) {
	assignment, err := NewOwnershipAssignment(amount, recipient, secret, commitment, nullifier)
	if err != nil {
		return nil, err
	}
	witness, err := frontend.NewWitness(assignment, CurveID.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("fail to create witness: %w", err)
	}
	proof, err := plonk.Prove(p.cs, p.pk, witness)
	if err != nil {
		return nil, common.ErrInvalidProof.Wrapf("fail to prove ownership: %s", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("fail to serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}
