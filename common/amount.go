package common

import (
	"cosmossdk.io/math"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Amount is a note value. It must stay below the field modulus so that it can
// be committed to.
type Amount = math.Uint

func NewAmount(v uint64) Amount {
	return math.NewUint(v)
}

// ParseAmount parses a base-10 amount and checks it is representable in the
// field.
func ParseAmount(s string) (Amount, error) {
	a, err := math.ParseUint(s)
	if err != nil {
		return math.ZeroUint(), ErrInvalidAmount.Wrapf("%q: %s", s, err)
	}
	if err := ValidateAmount(a); err != nil {
		return math.ZeroUint(), err
	}
	return a, nil
}

// ValidateAmount fails with ErrInvalidAmount if a is unset or not below the
// field modulus.
func ValidateAmount(a Amount) error {
	if a.IsNil() {
		return ErrInvalidAmount.Wrap("amount is not set")
	}
	if a.BigInt().Cmp(fr.Modulus()) >= 0 {
		return ErrInvalidAmount.Wrapf("amount %s is not representable in the field", a.String())
	}
	return nil
}

// AmountFelt returns the felt encoding of a validated amount.
func AmountFelt(a Amount) (Felt, error) {
	if err := ValidateAmount(a); err != nil {
		return ZeroFelt, err
	}
	return NewFeltFromBig(a.BigInt())
}
