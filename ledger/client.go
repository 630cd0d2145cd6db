package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// Client is a Ledger reached over JSON-RPC.
type Client struct {
	client *rpc.Client
	logger zerolog.Logger
}

func NewClient(ctx context.Context, url string) (*Client, error) {
	client, err := rpc.DialOptions(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fail to dial ledger %s: %w", url, err)
	}
	return &Client{
		client: client,
		logger: log.With().Str("module", "ledger_client").Logger(),
	}, nil
}

func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	err := fromRPCError(c.client.CallContext(ctx, result, Namespace+"_"+method, args...))
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Msg("ledger call failed")
	}
	return err
}

// fromRPCError rebuilds registered errors from their wire code. Anything the
// server did not answer is reported as ErrRPCUnavailable.
func fromRPCError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		data := cast.ToStringMap(dataErr.ErrorData())
		if cast.ToString(data["codespace"]) == common.Codespace {
			if code := cast.ToUint32(data["code"]); code != 0 {
				return common.FromCode(code, dataErr.Error())
			}
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	return common.ErrRPCUnavailable.Wrap(err.Error())
}

func (c *Client) CommitNote(ctx context.Context, msg *types.MsgCommitNote) (uint64, error) {
	var idx uint64
	if err := c.call(ctx, &idx, "commitNote", msg); err != nil {
		return 0, err
	}
	return idx, nil
}

func (c *Client) InitiatePrivacySwap(ctx context.Context, msg *types.MsgInitiateSwap) (*types.Swap, error) {
	var swap types.Swap
	if err := c.call(ctx, &swap, "initiatePrivacySwap", msg); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *Client) LockSwapWithBTC(ctx context.Context, msg *types.MsgLockSwap) (*types.Swap, error) {
	var swap types.Swap
	if err := c.call(ctx, &swap, "lockSwapWithBTC", msg); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *Client) VerifyBTCTransaction(ctx context.Context, msg *types.MsgVerifyBTCTransaction) (*types.VerifiedTx, error) {
	var vtx types.VerifiedTx
	if err := c.call(ctx, &vtx, "verifyBTCTransaction", msg); err != nil {
		return nil, err
	}
	return &vtx, nil
}

func (c *Client) CompleteSwap(ctx context.Context, msg *types.MsgCompleteSwap) (*types.Swap, error) {
	var swap types.Swap
	if err := c.call(ctx, &swap, "completeSwap", msg); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *Client) RefundSwap(ctx context.Context, msg *types.MsgRefundSwap) (*types.Swap, error) {
	var swap types.Swap
	if err := c.call(ctx, &swap, "refundSwap", msg); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *Client) SubmitBlockHeader(ctx context.Context, msg *types.MsgSubmitBlockHeader) (*types.HeaderRecord, error) {
	var rec types.HeaderRecord
	if err := c.call(ctx, &rec, "submitBlockHeader", msg); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) GetSwap(ctx context.Context, swapID common.Felt) (*types.Swap, error) {
	var swap types.Swap
	if err := c.call(ctx, &swap, "getSwap", swapID); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *Client) IsNullifierSpent(ctx context.Context, nullifier common.Felt) (bool, error) {
	var spent bool
	if err := c.call(ctx, &spent, "isNullifierSpent", nullifier); err != nil {
		return false, err
	}
	return spent, nil
}

func (c *Client) GetMerkleRoot(ctx context.Context) (common.Felt, error) {
	var root common.Felt
	if err := c.call(ctx, &root, "getMerkleRoot"); err != nil {
		return common.ZeroFelt, err
	}
	return root, nil
}

func (c *Client) IsKnownRoot(ctx context.Context, root common.Felt) (bool, error) {
	var known bool
	if err := c.call(ctx, &known, "isKnownRoot", root); err != nil {
		return false, err
	}
	return known, nil
}

func (c *Client) GetTreeSize(ctx context.Context) (uint64, error) {
	var size uint64
	if err := c.call(ctx, &size, "getTreeSize"); err != nil {
		return 0, err
	}
	return size, nil
}

func (c *Client) GetLeaves(ctx context.Context, from, limit uint64) ([]common.Felt, error) {
	var leaves []common.Felt
	if err := c.call(ctx, &leaves, "getLeaves", from, limit); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (c *Client) GetBlockHeader(ctx context.Context, height int64) (*bitcoin.BlockHeader, error) {
	var h bitcoin.BlockHeader
	if err := c.call(ctx, &h, "getBlockHeader", height); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) GetHeaderRecord(ctx context.Context, hash string) (*types.HeaderRecord, error) {
	var rec types.HeaderRecord
	if err := c.call(ctx, &rec, "getHeaderRecord", hash); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) GetLatestHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, &height, "getLatestHeight"); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *Client) GetVerifiedTx(ctx context.Context, txid string) (*types.VerifiedTx, error) {
	var vtx types.VerifiedTx
	if err := c.call(ctx, &vtx, "getVerifiedTx", txid); err != nil {
		return nil, err
	}
	return &vtx, nil
}

func (c *Client) Events(ctx context.Context, from, limit uint64) ([]types.Event, error) {
	var events []types.Event
	if err := c.call(ctx, &events, "events", from, limit); err != nil {
		return nil, err
	}
	return events, nil
}
