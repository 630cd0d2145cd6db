// Package hasher provides the field-element hash every commitment, nullifier
// and accumulator node is built from.
package hasher

import (
	"context"
	"io"
	"math/big"

	"github.com/btcq-org/qswap/common"
)

// MaxArity is the largest number of inputs a single hash call accepts.
const MaxArity = 4

// Field names accepted in Config.Field.
const (
	FieldBN254   = "bn254"
	FieldFelt252 = "felt252"
)

// Felt252Modulus is the prime 2^251 + 17*2^192 + 1 of felt252 hash services.
var Felt252Modulus = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
	return p.Add(p, big.NewInt(1))
}()

// Hasher hashes one to four field elements into one.
type Hasher interface {
	Hash(ctx context.Context, inputs ...common.Felt) (common.Felt, error)
}

// Field is implemented by hashers working over a field other than the BN254
// scalar field.
type Field interface {
	Modulus() *big.Int
}

// Modulus returns the field h hashes over. Secrets and other inputs drawn for
// h must stay below it.
func Modulus(h Hasher) *big.Int {
	if f, ok := h.(Field); ok {
		return f.Modulus()
	}
	return common.FieldModulus()
}

// RandomFelt draws a uniform element of the field of h.
func RandomFelt(h Hasher, r io.Reader) (common.Felt, error) {
	return common.RandomFeltBelow(r, Modulus(h))
}

func checkArity(n int) error {
	if n < 1 || n > MaxArity {
		return common.ErrInvalidRequest.Wrapf("hash arity must be between 1 and %d, got %d", MaxArity, n)
	}
	return nil
}

func checkInputs(inputs []common.Felt, modulus *big.Int) error {
	if err := checkArity(len(inputs)); err != nil {
		return err
	}
	for i, in := range inputs {
		if !in.IsValid() || in.Big().Cmp(modulus) >= 0 {
			return common.ErrInvalidRequest.Wrapf("hash input %d (%s) is not a field element", i, in)
		}
	}
	return nil
}
