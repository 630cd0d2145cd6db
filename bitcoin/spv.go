package bitcoin

import (
	"context"
	"sync"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// SPVProof shows that TxID is included in the block BlockHash.
type SPVProof struct {
	TxID          string      `json:"txid"`
	BlockHash     string      `json:"block_hash"`
	BlockHeight   int64       `json:"block_height"`
	Header        BlockHeader `json:"header"`
	MerkleProof   []string    `json:"merkle_proof"`
	TxIndex       uint32      `json:"tx_index"`
	Confirmations int64       `json:"confirmations"`
}

// Verify checks the proof's branch against its own header.
func (p *SPVProof) Verify() bool {
	return VerifyMerkleProof(p.TxID, p.MerkleProof, p.TxIndex, p.Header.MerkleRoot)
}

// SPVVerifier builds SPV proofs from a bitcoind node. Block headers are cached
// for the lifetime of the verifier.
type SPVVerifier struct {
	rpc      RPC
	attempts uint64
	maxWait  time.Duration
	logger   zerolog.Logger

	lock    sync.RWMutex
	headers map[string]BlockHeader
	group   singleflight.Group
}

type SPVOption func(*SPVVerifier)

// WithRetry bounds the retries of transient RPC failures.
func WithRetry(attempts uint64, maxWait time.Duration) SPVOption {
	return func(v *SPVVerifier) {
		v.attempts = attempts
		v.maxWait = maxWait
	}
}

func NewSPVVerifier(rpc RPC, opts ...SPVOption) *SPVVerifier {
	v := &SPVVerifier{
		rpc:      rpc,
		attempts: 5,
		maxWait:  30 * time.Second,
		headers:  make(map[string]BlockHeader),
		logger:   log.With().Str("module", "spv").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// retry runs a read-only call, retrying only ErrRPCUnavailable.
func (v *SPVVerifier) retry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = v.maxWait
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !common.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, v.attempts), ctx), func(err error, wait time.Duration) {
		v.logger.Warn().Err(err).Str("call", name).Dur("wait", wait).Msg("transient rpc failure, retrying")
	})
}

// GetBlockHeader returns the header of hash, fetching it once. Concurrent
// requests for the same hash share one fetch.
func (v *SPVVerifier) GetBlockHeader(ctx context.Context, hash string) (BlockHeader, error) {
	v.lock.RLock()
	h, ok := v.headers[hash]
	v.lock.RUnlock()
	if ok {
		return h, nil
	}
	res, err, _ := v.group.Do(hash, func() (any, error) {
		v.lock.RLock()
		cached, ok := v.headers[hash]
		v.lock.RUnlock()
		if ok {
			return cached, nil
		}
		var header BlockHeader
		err := v.retry(ctx, "getblockheader", func() error {
			res, err := v.rpc.GetBlockHeaderVerbose(ctx, hash)
			if err != nil {
				return err
			}
			header, err = HeaderFromVerbose(res)
			return err
		})
		if err != nil {
			return nil, err
		}
		if header.Hash != hash {
			return nil, common.ErrHeaderHashMismatch.Wrapf("asked for %s, node returned %s", hash, header.Hash)
		}
		if err := header.CheckHash(); err != nil {
			return nil, err
		}
		v.lock.Lock()
		v.headers[hash] = header
		v.lock.Unlock()
		return header, nil
	})
	if err != nil {
		return BlockHeader{}, err
	}
	return res.(BlockHeader), nil
}

// ClearCache drops every cached header.
func (v *SPVVerifier) ClearCache() {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.headers = make(map[string]BlockHeader)
}

// CacheSize is the number of cached headers.
func (v *SPVVerifier) CacheSize() int {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return len(v.headers)
}

// GenerateSPVProof proves txid's inclusion in its block. It fails with
// ErrTransactionNotConfirmed for mempool transactions. It does not enforce a
// minimum depth.
func (v *SPVVerifier) GenerateSPVProof(ctx context.Context, txid string) (*SPVProof, error) {
	var blockHash string
	err := v.retry(ctx, "getrawtransaction", func() error {
		tx, err := v.rpc.GetRawTransactionVerbose(ctx, txid)
		if err != nil {
			return err
		}
		blockHash = tx.BlockHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blockHash == "" {
		return nil, common.ErrTransactionNotConfirmed.Wrapf("tx %s", txid)
	}

	header, err := v.GetBlockHeader(ctx, blockHash)
	if err != nil {
		return nil, err
	}

	var proofHex string
	err = v.retry(ctx, "gettxoutproof", func() error {
		var err error
		proofHex, err = v.rpc.GetTxOutProof(ctx, []string{txid}, blockHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	mb, err := ParseMerkleBlock(proofHex)
	if err != nil {
		return nil, err
	}
	if mb.Header.Hash != header.Hash {
		return nil, common.ErrInvalidMerkleProof.Wrapf("proof is for block %s, tx is in %s", mb.Header.Hash, header.Hash)
	}
	branch, index, err := mb.Branch(txid)
	if err != nil {
		return nil, err
	}

	var tip int64
	err = v.retry(ctx, "getblockcount", func() error {
		var err error
		tip, err = v.rpc.GetBlockCount(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	confirmations := tip - header.Height + 1
	if confirmations < 0 {
		confirmations = 0
	}

	v.logger.Debug().Str("txid", txid).Str("block", blockHash).Int64("confirmations", confirmations).Msg("spv proof generated")
	return &SPVProof{
		TxID:          txid,
		BlockHash:     blockHash,
		BlockHeight:   header.Height,
		Header:        header,
		MerkleProof:   branch,
		TxIndex:       index,
		Confirmations: confirmations,
	}, nil
}

// HeaderAt fetches the main-chain header at height.
func (v *SPVVerifier) HeaderAt(ctx context.Context, height int64) (BlockHeader, error) {
	var hash string
	err := v.retry(ctx, "getblockhash", func() error {
		var err error
		hash, err = v.rpc.GetBlockHash(ctx, height)
		return err
	})
	if err != nil {
		return BlockHeader{}, err
	}
	return v.GetBlockHeader(ctx, hash)
}

// TipHeight returns the node's best height.
func (v *SPVVerifier) TipHeight(ctx context.Context) (int64, error) {
	var tip int64
	err := v.retry(ctx, "getblockcount", func() error {
		var err error
		tip, err = v.rpc.GetBlockCount(ctx)
		return err
	})
	return tip, err
}
