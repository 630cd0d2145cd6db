package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeRPC serves a small synthetic chain.
type fakeRPC struct {
	lock sync.Mutex

	headers  map[string]BlockHeader
	byHeight map[int64]string
	txBlock  map[string]string
	proofs   map[string]string
	tip      int64
	utxos    [][]ScannedUnspent
	scanErrs []error

	headerCalls int
	txCalls     int
	failTx      []error
	headerDelay time.Duration
	sent        []string
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		headers:  make(map[string]BlockHeader),
		byHeight: make(map[int64]string),
		txBlock:  make(map[string]string),
		proofs:   make(map[string]string),
	}
}

func (f *fakeRPC) GetRawTransactionVerbose(_ context.Context, txid string) (*btcjson.TxRawResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.txCalls++
	if len(f.failTx) > 0 {
		err := f.failTx[0]
		f.failTx = f.failTx[1:]
		return nil, err
	}
	block, ok := f.txBlock[txid]
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "No such mempool or blockchain transaction")
	}
	return &btcjson.TxRawResult{Txid: txid, BlockHash: block}, nil
}

func (f *fakeRPC) GetBlockHeaderVerbose(_ context.Context, hash string) (*btcjson.GetBlockHeaderVerboseResult, error) {
	f.lock.Lock()
	f.headerCalls++
	h, ok := f.headers[hash]
	delay := f.headerDelay
	f.lock.Unlock()
	time.Sleep(delay)
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "Block not found")
	}
	return &btcjson.GetBlockHeaderVerboseResult{
		Hash:         h.Hash,
		Height:       int32(h.Height),
		Version:      h.Version,
		MerkleRoot:   h.MerkleRoot,
		Time:         int64(h.Timestamp),
		Nonce:        uint64(h.Nonce),
		Bits:         fmt.Sprintf("%08x", h.Bits),
		PreviousHash: h.PrevBlockHash,
	}, nil
}

func (f *fakeRPC) GetBlockHash(_ context.Context, height int64) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	hash, ok := f.byHeight[height]
	if !ok {
		return "", btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "Block height out of range")
	}
	return hash, nil
}

func (f *fakeRPC) GetBlockCount(_ context.Context) (int64, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.tip, nil
}

func (f *fakeRPC) GetTxOutProof(_ context.Context, txids []string, _ string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	proof, ok := f.proofs[txids[0]]
	if !ok {
		return "", btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "Transaction not yet in block")
	}
	return proof, nil
}

func (f *fakeRPC) EstimateSmartFee(_ context.Context, confTarget int64) (*btcjson.EstimateSmartFeeResult, error) {
	rate := 0.0002
	return &btcjson.EstimateSmartFeeResult{FeeRate: &rate, Blocks: confTarget}, nil
}

func (f *fakeRPC) SendRawTransaction(_ context.Context, txHex string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", btcjson.NewRPCError(btcjson.ErrRPCDeserialization, "TX decode failed")
	}
	f.sent = append(f.sent, txHex)
	return tx.TxHash().String(), nil
}

func (f *fakeRPC) ScanTxOutSet(_ context.Context, _ []string) (*ScanTxOutSetResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.scanErrs) > 0 {
		err := f.scanErrs[0]
		f.scanErrs = f.scanErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.utxos) == 0 {
		return &ScanTxOutSetResult{Success: true}, nil
	}
	set := f.utxos[0]
	if len(f.utxos) > 1 {
		f.utxos = f.utxos[1:]
	}
	return &ScanTxOutSetResult{Success: true, Unspents: set}, nil
}

// testTxs returns n distinct transactions.
func testTxs(n int) []*btcutil.Tx {
	txs := make([]*btcutil.Tx, n)
	for i := range txs {
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: uint32(i)}, []byte{byte(i), 0x51}, nil))
		tx.AddTxOut(wire.NewTxOut(int64(1000+i), []byte{0x51}))
		txs[i] = btcutil.NewTx(tx)
	}
	return txs
}

// mineHeader finds a regtest nonce for h.
func mineHeader(t *testing.T, h *wire.BlockHeader) {
	t.Helper()
	target := blockchain.CompactToBig(h.Bits)
	for nonce := uint32(0); nonce < 1<<20; nonce++ {
		h.Nonce = nonce
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
	}
	t.Fatal("fail to mine regtest header")
}

// testChain is a mined regtest chain with real transactions in every block.
type testChain struct {
	headers []BlockHeader
	blocks  []*btcutil.Block
}

func buildTestChain(t *testing.T, length, txsPerBlock int) *testChain {
	t.Helper()
	params := &chaincfg.RegressionNetParams
	chain := &testChain{}
	prev := *params.GenesisHash
	for i := 0; i < length; i++ {
		txs := testTxs(txsPerBlock + i)
		// keep txids unique across blocks
		for _, tx := range txs {
			tx.MsgTx().LockTime = uint32(i)
		}
		store := blockchain.BuildMerkleTreeStore(txs, false)
		header := wire.BlockHeader{
			Version:    4,
			PrevBlock:  prev,
			MerkleRoot: *store[len(store)-1],
			Timestamp:  time.Unix(1700000000+int64(i)*600, 0),
			Bits:       params.PowLimitBits,
		}
		mineHeader(t, &header)
		block := wire.NewMsgBlock(&header)
		for _, tx := range txs {
			require.NoError(t, block.AddTransaction(tx.MsgTx()))
		}
		chain.blocks = append(chain.blocks, btcutil.NewBlock(block))
		chain.headers = append(chain.headers, NewBlockHeader(&header, int64(i+1)))
		prev = header.BlockHash()
	}
	return chain
}

// merkleProofHex builds the gettxoutproof reply for tx index idx of block.
func merkleProofHex(t *testing.T, block *btcutil.Block, idx int) string {
	t.Helper()
	filter := bloom.NewFilter(1, 0, 0.000001, wire.BloomUpdateNone)
	filter.AddHash(block.Transactions()[idx].Hash())
	mb, _ := bloom.NewMerkleBlock(block, filter)
	var buf bytes.Buffer
	require.NoError(t, mb.BtcEncode(&buf, wire.ProtocolVersion, wire.BaseEncoding))
	return hex.EncodeToString(buf.Bytes())
}

func (c *testChain) load(f *fakeRPC) {
	for i, h := range c.headers {
		f.headers[h.Hash] = h
		f.byHeight[h.Height] = h.Hash
		for _, tx := range c.blocks[i].Transactions() {
			f.txBlock[tx.Hash().String()] = h.Hash
		}
	}
	f.tip = c.headers[len(c.headers)-1].Height
}

var errUnavailable = common.ErrRPCUnavailable.Wrap("connection refused")
