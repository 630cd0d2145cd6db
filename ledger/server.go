package ledger

import (
	"context"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCodeLedger is the JSON-RPC error code of every ledger rejection. The
// registered qswap code travels in the error data.
const ErrCodeLedger = -32050

// Error is a ledger rejection as sent over JSON-RPC.
type Error struct {
	msg  string
	code uint32
}

// ErrorData is the data member of a ledger JSON-RPC error.
type ErrorData struct {
	Codespace string `json:"codespace"`
	Code      uint32 `json:"code"`
}

func (e *Error) Error() string  { return e.msg }
func (e *Error) ErrorCode() int { return ErrCodeLedger }
func (e *Error) ErrorData() any {
	return ErrorData{Codespace: common.Codespace, Code: e.code}
}

// toRPCError keeps the registered code of err. Unregistered errors pass
// through as plain server errors.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	code, ok := common.ErrorCode(err)
	if !ok {
		return err
	}
	return &Error{msg: err.Error(), code: code}
}

// API is the receiver registered under the ledger namespace. Method names
// map to ledger_commitNote, ledger_getSwap and so on.
type API struct {
	ledger Ledger
	logger zerolog.Logger
}

// NewRPCServer serves l over JSON-RPC. The returned server is an
// http.Handler.
func NewRPCServer(l Ledger) (*rpc.Server, error) {
	server := rpc.NewServer()
	api := &API{ledger: l, logger: log.With().Str("module", "ledger_rpc").Logger()}
	if err := server.RegisterName(Namespace, api); err != nil {
		return nil, err
	}
	return server, nil
}

func (a *API) done(method string, err error) error {
	if err != nil {
		a.logger.Debug().Err(err).Str("method", method).Msg("ledger call rejected")
	}
	return toRPCError(err)
}

func (a *API) CommitNote(ctx context.Context, msg *types.MsgCommitNote) (uint64, error) {
	idx, err := a.ledger.CommitNote(ctx, msg)
	return idx, a.done("commitNote", err)
}

func (a *API) InitiatePrivacySwap(ctx context.Context, msg *types.MsgInitiateSwap) (*types.Swap, error) {
	swap, err := a.ledger.InitiatePrivacySwap(ctx, msg)
	return swap, a.done("initiatePrivacySwap", err)
}

func (a *API) LockSwapWithBTC(ctx context.Context, msg *types.MsgLockSwap) (*types.Swap, error) {
	swap, err := a.ledger.LockSwapWithBTC(ctx, msg)
	return swap, a.done("lockSwapWithBTC", err)
}

func (a *API) VerifyBTCTransaction(ctx context.Context, msg *types.MsgVerifyBTCTransaction) (*types.VerifiedTx, error) {
	vtx, err := a.ledger.VerifyBTCTransaction(ctx, msg)
	return vtx, a.done("verifyBTCTransaction", err)
}

func (a *API) CompleteSwap(ctx context.Context, msg *types.MsgCompleteSwap) (*types.Swap, error) {
	swap, err := a.ledger.CompleteSwap(ctx, msg)
	return swap, a.done("completeSwap", err)
}

func (a *API) RefundSwap(ctx context.Context, msg *types.MsgRefundSwap) (*types.Swap, error) {
	swap, err := a.ledger.RefundSwap(ctx, msg)
	return swap, a.done("refundSwap", err)
}

func (a *API) SubmitBlockHeader(ctx context.Context, msg *types.MsgSubmitBlockHeader) (*types.HeaderRecord, error) {
	rec, err := a.ledger.SubmitBlockHeader(ctx, msg)
	return rec, a.done("submitBlockHeader", err)
}

func (a *API) GetSwap(ctx context.Context, swapID common.Felt) (*types.Swap, error) {
	swap, err := a.ledger.GetSwap(ctx, swapID)
	return swap, a.done("getSwap", err)
}

func (a *API) IsNullifierSpent(ctx context.Context, nullifier common.Felt) (bool, error) {
	spent, err := a.ledger.IsNullifierSpent(ctx, nullifier)
	return spent, a.done("isNullifierSpent", err)
}

func (a *API) GetMerkleRoot(ctx context.Context) (common.Felt, error) {
	root, err := a.ledger.GetMerkleRoot(ctx)
	return root, a.done("getMerkleRoot", err)
}

func (a *API) IsKnownRoot(ctx context.Context, root common.Felt) (bool, error) {
	known, err := a.ledger.IsKnownRoot(ctx, root)
	return known, a.done("isKnownRoot", err)
}

func (a *API) GetTreeSize(ctx context.Context) (uint64, error) {
	size, err := a.ledger.GetTreeSize(ctx)
	return size, a.done("getTreeSize", err)
}

func (a *API) GetLeaves(ctx context.Context, from, limit uint64) ([]common.Felt, error) {
	leaves, err := a.ledger.GetLeaves(ctx, from, limit)
	return leaves, a.done("getLeaves", err)
}

func (a *API) GetBlockHeader(ctx context.Context, height int64) (*bitcoin.BlockHeader, error) {
	h, err := a.ledger.GetBlockHeader(ctx, height)
	return h, a.done("getBlockHeader", err)
}

func (a *API) GetHeaderRecord(ctx context.Context, hash string) (*types.HeaderRecord, error) {
	rec, err := a.ledger.GetHeaderRecord(ctx, hash)
	return rec, a.done("getHeaderRecord", err)
}

func (a *API) GetLatestHeight(ctx context.Context) (int64, error) {
	height, err := a.ledger.GetLatestHeight(ctx)
	return height, a.done("getLatestHeight", err)
}

func (a *API) GetVerifiedTx(ctx context.Context, txid string) (*types.VerifiedTx, error) {
	vtx, err := a.ledger.GetVerifiedTx(ctx, txid)
	return vtx, a.done("getVerifiedTx", err)
}

func (a *API) Events(ctx context.Context, from, limit uint64) ([]types.Event, error) {
	events, err := a.ledger.Events(ctx, from, limit)
	return events, a.done("events", err)
}
