package types

import "github.com/btcq-org/qswap/common"

// OwnershipVerifier checks the optional zero-knowledge ownership proof
// attached to a spend proof.
type OwnershipVerifier interface {
	VerifyOwnership(proof []byte, commitment, nullifier, recipient common.Felt) error
}
