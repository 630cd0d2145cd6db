package common

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error codespace shared by every qswap component.
const Codespace = "qswap"

// Registered errors. Codes are part of the ledger JSON-RPC wire contract and
// must never be renumbered.
var (
	ErrInvalidAmount             = errorsmod.Register(Codespace, 2, "invalid amount")
	ErrDuplicateCommitment       = errorsmod.Register(Codespace, 3, "duplicate commitment")
	ErrLeafIndexOutOfRange       = errorsmod.Register(Codespace, 4, "leaf index out of range")
	ErrCommitmentMismatch        = errorsmod.Register(Codespace, 5, "commitment mismatch")
	ErrUnauthorizedSpender       = errorsmod.Register(Codespace, 6, "unauthorized spender")
	ErrNullifierAlreadySpent     = errorsmod.Register(Codespace, 7, "nullifier already spent")
	ErrInvalidMerkleProof        = errorsmod.Register(Codespace, 8, "invalid merkle proof")
	ErrChainContinuityViolation  = errorsmod.Register(Codespace, 9, "chain continuity violation")
	ErrHeaderHashMismatch        = errorsmod.Register(Codespace, 10, "header hash mismatch")
	ErrTransactionNotConfirmed   = errorsmod.Register(Codespace, 11, "transaction not confirmed")
	ErrInsufficientConfirmations = errorsmod.Register(Codespace, 12, "insufficient confirmations")
	ErrInvalidSwapState          = errorsmod.Register(Codespace, 13, "invalid swap state")
	ErrTimelockNotExpired        = errorsmod.Register(Codespace, 14, "timelock not expired")
	ErrSecretHashMismatch        = errorsmod.Register(Codespace, 15, "secret hash mismatch")
	ErrRPCUnavailable            = errorsmod.Register(Codespace, 16, "rpc unavailable")

	ErrDuplicateSecret  = errorsmod.Register(Codespace, 17, "secret already used by another note")
	ErrInvalidRequest   = errorsmod.Register(Codespace, 18, "invalid request")
	ErrUnknownRoot      = errorsmod.Register(Codespace, 19, "unknown merkle root")
	ErrInvalidSignature = errorsmod.Register(Codespace, 20, "invalid binding signature")
	ErrNotFound         = errorsmod.Register(Codespace, 21, "not found")
	ErrInvalidProof     = errorsmod.Register(Codespace, 22, "invalid ownership proof")
)

// IsTransient reports whether err may succeed if retried. Only transport
// failures qualify; validation and ownership failures are permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRPCUnavailable)
}

// ErrorCode returns the registered code carried by err, or 0 with false if
// err does not wrap a registered qswap error.
func ErrorCode(err error) (uint32, bool) {
	var e *errorsmod.Error
	if !errors.As(err, &e) || e.Codespace() != Codespace {
		return 0, false
	}
	return e.ABCICode(), true
}

// FromCode rebuilds a registered error from its wire code so errors.Is keeps
// working on the client side of an RPC boundary.
func FromCode(code uint32, msg string) error {
	return errorsmod.ABCIError(Codespace, code, msg)
}
