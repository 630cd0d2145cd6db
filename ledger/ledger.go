// Package ledger exposes the swap ledger, either in-process or over
// JSON-RPC. Registered error codes survive the wire so callers can keep using
// errors.Is on the client side.
package ledger

import (
	"context"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/x/swap/keeper"
	"github.com/btcq-org/qswap/x/swap/types"
)

// Namespace is the JSON-RPC namespace of the ledger methods.
const Namespace = "ledger"

// Ledger is every entry point and view of the swap ledger.
type Ledger interface {
	CommitNote(ctx context.Context, msg *types.MsgCommitNote) (uint64, error)
	InitiatePrivacySwap(ctx context.Context, msg *types.MsgInitiateSwap) (*types.Swap, error)
	LockSwapWithBTC(ctx context.Context, msg *types.MsgLockSwap) (*types.Swap, error)
	VerifyBTCTransaction(ctx context.Context, msg *types.MsgVerifyBTCTransaction) (*types.VerifiedTx, error)
	CompleteSwap(ctx context.Context, msg *types.MsgCompleteSwap) (*types.Swap, error)
	RefundSwap(ctx context.Context, msg *types.MsgRefundSwap) (*types.Swap, error)
	SubmitBlockHeader(ctx context.Context, msg *types.MsgSubmitBlockHeader) (*types.HeaderRecord, error)

	GetSwap(ctx context.Context, swapID common.Felt) (*types.Swap, error)
	IsNullifierSpent(ctx context.Context, nullifier common.Felt) (bool, error)
	GetMerkleRoot(ctx context.Context) (common.Felt, error)
	IsKnownRoot(ctx context.Context, root common.Felt) (bool, error)
	GetTreeSize(ctx context.Context) (uint64, error)
	GetLeaves(ctx context.Context, from, limit uint64) ([]common.Felt, error)
	GetBlockHeader(ctx context.Context, height int64) (*bitcoin.BlockHeader, error)
	GetHeaderRecord(ctx context.Context, hash string) (*types.HeaderRecord, error)
	GetLatestHeight(ctx context.Context) (int64, error)
	GetVerifiedTx(ctx context.Context, txid string) (*types.VerifiedTx, error)
	Events(ctx context.Context, from, limit uint64) ([]types.Event, error)
}

var (
	_ Ledger = (*keeper.Keeper)(nil)
	_ Ledger = (*Local)(nil)
	_ Ledger = (*Client)(nil)
)
