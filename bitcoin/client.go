package bitcoin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RPC is the part of the bitcoind JSON-RPC interface the swap relies on.
type RPC interface {
	GetRawTransactionVerbose(ctx context.Context, txid string) (*btcjson.TxRawResult, error)
	GetBlockHeaderVerbose(ctx context.Context, hash string) (*btcjson.GetBlockHeaderVerboseResult, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlockCount(ctx context.Context) (int64, error)
	// GetTxOutProof returns the hex encoded merkle block proving txids.
	GetTxOutProof(ctx context.Context, txids []string, blockHash string) (string, error)
	EstimateSmartFee(ctx context.Context, confTarget int64) (*btcjson.EstimateSmartFeeResult, error)
	SendRawTransaction(ctx context.Context, txHex string) (string, error)
	ScanTxOutSet(ctx context.Context, descriptors []string) (*ScanTxOutSetResult, error)
}

// ScanTxOutSetResult is the reply of `scantxoutset start`.
type ScanTxOutSetResult struct {
	Success     bool             `json:"success"`
	TxOuts      int64            `json:"txouts"`
	Height      int64            `json:"height"`
	BestBlock   string           `json:"bestblock"`
	Unspents    []ScannedUnspent `json:"unspents"`
	TotalAmount float64          `json:"total_amount"`
}

type ScannedUnspent struct {
	TxID         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Desc         string  `json:"desc"`
	Amount       float64 `json:"amount"`
	Height       int64   `json:"height"`
}

// BtcClient talks to bitcoind over JSON-RPC.
type BtcClient struct {
	cfg    Config
	client *rpc.Client
	logger zerolog.Logger
}

func NewBtcClient(cfg Config) (*BtcClient, error) {
	client, err := newClient(cfg.Host, cfg.Port, cfg.RPCUser, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}
	return &BtcClient{
		cfg:    cfg,
		client: client,
		logger: log.With().Str("module", "btc_client").Logger(),
	}, nil
}

// newClient returns a client connection to a UTXO daemon.
func newClient(host string, port int64, user, password string) (*rpc.Client, error) {
	authFn := func(h http.Header) error {
		auth := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		h.Set("Authorization", fmt.Sprintf("Basic %s", auth))
		return nil
	}

	// default to http if no scheme is specified
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if port != 0 && port != 80 && port != 443 {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	return rpc.DialOptions(context.Background(), host, rpc.WithHTTPAuth(authFn))
}

func (c *BtcClient) call(ctx context.Context, result any, method string, args ...any) error {
	err := extractBTCError(c.client.CallContext(ctx, result, method, args...))
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Msg("rpc call failed")
	}
	return err
}

func (c *BtcClient) GetRawTransactionVerbose(ctx context.Context, txid string) (*btcjson.TxRawResult, error) {
	var tx btcjson.TxRawResult
	if err := c.call(ctx, &tx, "getrawtransaction", txid, true); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *BtcClient) GetBlockHeaderVerbose(ctx context.Context, hash string) (*btcjson.GetBlockHeaderVerboseResult, error) {
	var header btcjson.GetBlockHeaderVerboseResult
	if err := c.call(ctx, &header, "getblockheader", hash, true); err != nil {
		return nil, err
	}
	return &header, nil
}

// GetBlockHash returns the hash of the block in best-block-chain at the given height.
func (c *BtcClient) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	err := c.call(ctx, &hash, "getblockhash", height)
	return hash, err
}

func (c *BtcClient) GetBlockCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.call(ctx, &count, "getblockcount")
	return count, err
}

func (c *BtcClient) GetTxOutProof(ctx context.Context, txids []string, blockHash string) (string, error) {
	var proof string
	args := []any{txids}
	if blockHash != "" {
		args = append(args, blockHash)
	}
	err := c.call(ctx, &proof, "gettxoutproof", args...)
	return proof, err
}

func (c *BtcClient) EstimateSmartFee(ctx context.Context, confTarget int64) (*btcjson.EstimateSmartFeeResult, error) {
	var fee btcjson.EstimateSmartFeeResult
	if err := c.call(ctx, &fee, "estimatesmartfee", confTarget); err != nil {
		return nil, err
	}
	return &fee, nil
}

func (c *BtcClient) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "sendrawtransaction", txHex)
	return txid, err
}

func (c *BtcClient) ScanTxOutSet(ctx context.Context, descriptors []string) (*ScanTxOutSetResult, error) {
	var res ScanTxOutSetResult
	if err := c.call(ctx, &res, "scantxoutset", "start", descriptors); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *BtcClient) Close() error {
	if c.client != nil {
		c.client.Close()
		c.logger.Info().Msg("rpc client closed")
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////////////////////

// extractBTCError turns a failed call into either a *btcjson.RPCError (the
// node answered and refused) or ErrRPCUnavailable (the node could not be
// reached or is still warming up).
//
// Ethereum RPC returns HTTP failures with the response appended to the status
// like:
// 500 Internal Server Error: {"result":null,"error":{"code":-5,"message":"No such mempool or blockchain transaction"},"id":1}
func extractBTCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyRPCError(btcjson.NewRPCError(btcjson.RPCErrorCode(rpcErr.ErrorCode()), rpcErr.Error()))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// split the error into the HTTP status and the JSON response
	parts := strings.SplitN(err.Error(), ": ", 2)
	if len(parts) == 2 {
		var response struct {
			Error *struct {
				Code    btcjson.RPCErrorCode `json:"code"`
				Message string               `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal([]byte(parts[1]), &response); jsonErr == nil && response.Error != nil {
			return classifyRPCError(btcjson.NewRPCError(response.Error.Code, response.Error.Message))
		}
	}
	return common.ErrRPCUnavailable.Wrap(err.Error())
}

// bitcoind answers -28 (RPC_IN_WARMUP) while it is still loading.
const rpcInWarmup btcjson.RPCErrorCode = -28

func classifyRPCError(err *btcjson.RPCError) error {
	if err.Code == rpcInWarmup {
		return common.ErrRPCUnavailable.Wrap(err.Error())
	}
	return err
}

// IsRPCCode reports whether err is a node error with the given code.
func IsRPCCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
