// Package zk proves, without revealing the note opening, that the prover knows
// the amount and secret behind a note commitment and its nullifier.
package zk

import (
	"github.com/btcq-org/qswap/common"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// OwnershipCircuit proves
//
//	MiMC(amount, recipient, secret) == commitment
//	MiMC(secret, recipient)         == nullifier
//
// It hashes with the same permutation as hasher.MiMC, so notes created with
// the local hasher can be proven.
type OwnershipCircuit struct {
	Amount frontend.Variable `gnark:",secret"`
	Secret frontend.Variable `gnark:",secret"`

	Commitment frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`
	Recipient  frontend.Variable `gnark:",public"`
}

// Define implements frontend.Circuit.
func (c *OwnershipCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Amount, c.Recipient, c.Secret)
	api.AssertIsEqual(c.Commitment, h.Sum())

	h.Reset()
	h.Write(c.Secret, c.Recipient)
	api.AssertIsEqual(c.Nullifier, h.Sum())

	// a zero secret would make the nullifier guessable from the recipient
	api.AssertIsDifferent(c.Secret, 0)
	return nil
}

// CurveID is the curve the circuit is compiled over. Felts are elements of its
// scalar field.
const CurveID = ecc.BN254

// PublicInputs are the values a verifier checks a proof against.
type PublicInputs struct {
	Commitment common.Felt
	Nullifier  common.Felt
	Recipient  common.Felt
}

func (p PublicInputs) assignment() *OwnershipCircuit {
	return &OwnershipCircuit{
		Amount:     0,
		Secret:     0,
		Commitment: p.Commitment.Big(),
		Nullifier:  p.Nullifier.Big(),
		Recipient:  p.Recipient.Big(),
	}
}

// NewOwnershipAssignment builds the full witness assignment for a note.
func NewOwnershipAssignment(amount common.Amount, recipient, secret, commitment, nullifier common.Felt) (*OwnershipCircuit, error) {
	amt, err := common.AmountFelt(amount)
	if err != nil {
		return nil, err
	}
	for name, f := range map[string]common.Felt{
		"recipient":  recipient,
		"secret":     secret,
		"commitment": commitment,
		"nullifier":  nullifier,
	} {
		if !f.IsValid() {
			return nil, common.ErrInvalidRequest.Wrapf("%s is not a field element", name)
		}
	}
	return &OwnershipCircuit{
		Amount:     amt.Big(),
		Secret:     secret.Big(),
		Commitment: commitment.Big(),
		Nullifier:  nullifier.Big(),
		Recipient:  recipient.Big(),
	}, nil
}
