package hasher

import (
	"context"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// MiMC hashes in-process with MiMC over the BN254 scalar field. It is the
// same permutation gnark's std/hash/mimc uses in-circuit, so values it
// produces can be proven in the ownership circuit.
type MiMC struct{}

func NewMiMC() *MiMC {
	return &MiMC{}
}

func (m *MiMC) Hash(ctx context.Context, inputs ...common.Felt) (common.Felt, error) {
	if err := checkInputs(inputs, common.FieldModulus()); err != nil {
		return common.ZeroFelt, err
	}
	h := mimc.NewMiMC()
	for i, in := range inputs {
		if _, err := h.Write(in[:]); err != nil {
			return common.ZeroFelt, fmt.Errorf("fail to absorb input %d: %w", i, err)
		}
	}
	return common.NewFeltFromBytes(h.Sum(nil))
}
