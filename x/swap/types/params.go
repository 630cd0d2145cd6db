package types

import (
	"math/big"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/constants"
	"github.com/hashicorp/go-multierror"
)

// Params are the ledger mirror's tunables.
type Params struct {
	// MinConfirmations is the depth a BTC transaction needs before it can be
	// verified or lock a swap.
	MinConfirmations int64 `json:"min_confirmations"`
	// RootHistorySize is how many recent roots spend proofs may reference.
	RootHistorySize int64 `json:"root_history_size"`
	// MaxReorgDepth bounds how far below the tip a competing branch may fork.
	MaxReorgDepth int64 `json:"max_reorg_depth"`
	// DefaultTimelock applies when an initiation does not name a duration.
	DefaultTimelock time.Duration `json:"default_timelock"`
	// PowLimit enables proof of work checks on submitted headers. Nil
	// disables them.
	PowLimit *big.Int `json:"pow_limit,omitempty"`
}

// DefaultParams reads the per-network defaults and checks proof of work
// against net's limit.
func DefaultParams(net common.ChainNetwork) Params {
	return Params{
		MinConfirmations: constants.Get(constants.MinConfirmations),
		RootHistorySize:  constants.Get(constants.RootHistorySize),
		MaxReorgDepth:    constants.Get(constants.MaxReorgDepth),
		DefaultTimelock:  time.Duration(constants.Get(constants.DefaultTimelockSeconds)) * time.Second,
		PowLimit:         net.BitcoinParams().PowLimit,
	}
}

func (p Params) Validate() error {
	var err error
	if p.MinConfirmations < 1 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("min confirmations %d below 1", p.MinConfirmations))
	}
	if p.RootHistorySize < 1 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("root history size %d below 1", p.RootHistorySize))
	}
	if p.MaxReorgDepth < 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("negative max reorg depth %d", p.MaxReorgDepth))
	}
	if p.DefaultTimelock <= 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrap("default timelock must be positive"))
	}
	return err
}
