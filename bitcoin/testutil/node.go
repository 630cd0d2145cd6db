package testutil

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// FakeNode is an in-memory bitcoind serving a main chain of mined blocks. It
// implements bitcoin.RPC.
type FakeNode struct {
	lock sync.Mutex

	blocks   map[string]*Block
	byHeight map[int64]*Block
	tip      int64
	mempool  map[string]*wire.MsgTx
	unspents map[string][]bitcoin.ScannedUnspent
	failures map[string][]error
	calls    map[string]int

	// FeeRate is returned by estimatesmartfee in BTC per kvB.
	FeeRate float64
}

var _ bitcoin.RPC = (*FakeNode)(nil)

func NewFakeNode() *FakeNode {
	return &FakeNode{
		blocks:   make(map[string]*Block),
		byHeight: make(map[int64]*Block),
		tip:      -1,
		mempool:  make(map[string]*wire.MsgTx),
		unspents: make(map[string][]bitcoin.ScannedUnspent),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		FeeRate:  0.0001,
	}
}

// SetMain makes blocks the main chain from their first height upwards,
// dropping any main chain block above the last one.
func (n *FakeNode) SetMain(blocks ...*Block) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if len(blocks) == 0 {
		return
	}
	for h := blocks[0].Header.Height; h <= n.tip; h++ {
		delete(n.byHeight, h)
	}
	for _, b := range blocks {
		n.blocks[b.Header.Hash] = b
		n.byHeight[b.Header.Height] = b
		for _, tx := range b.Block.Transactions() {
			delete(n.mempool, tx.Hash().String())
		}
	}
	n.tip = blocks[len(blocks)-1].Header.Height
}

// Tip returns the main chain tip block, nil for an empty chain.
func (n *FakeNode) Tip() *Block {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.byHeight[n.tip]
}

// BlockAt returns the main chain block at height.
func (n *FakeNode) BlockAt(height int64) *Block {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.byHeight[height]
}

// Mempool returns the broadcast transactions not yet mined.
func (n *FakeNode) Mempool() []*wire.MsgTx {
	n.lock.Lock()
	defer n.lock.Unlock()
	out := make([]*wire.MsgTx, 0, len(n.mempool))
	for _, tx := range n.mempool {
		out = append(out, tx)
	}
	return out
}

// SetUnspents sets the scantxoutset reply for descriptor.
func (n *FakeNode) SetUnspents(descriptor string, unspents []bitcoin.ScannedUnspent) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.unspents[descriptor] = unspents
}

// FailNext makes the next calls of method fail with errs, in order.
func (n *FakeNode) FailNext(method string, errs ...error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.failures[method] = append(n.failures[method], errs...)
}

// Calls returns how often method was called.
func (n *FakeNode) Calls(method string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.calls[method]
}

// enter counts a call and pops a queued failure. The lock is held on return.
func (n *FakeNode) enter(method string) error {
	n.lock.Lock()
	n.calls[method]++
	if queued := n.failures[method]; len(queued) > 0 {
		n.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (n *FakeNode) mainBlockOf(txid string) *Block {
	for h := n.tip; h >= 0; h-- {
		b, ok := n.byHeight[h]
		if !ok {
			break
		}
		for _, tx := range b.Block.Transactions() {
			if tx.Hash().String() == txid {
				return b
			}
		}
	}
	return nil
}

func vouts(tx *wire.MsgTx) []btcjson.Vout {
	out := make([]btcjson.Vout, len(tx.TxOut))
	for i, o := range tx.TxOut {
		out[i] = btcjson.Vout{
			Value:        btcutil.Amount(o.Value).ToBTC(),
			N:            uint32(i),
			ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: hex.EncodeToString(o.PkScript)},
		}
	}
	return out
}

func notFound(msg string) error {
	return btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, msg)
}

func (n *FakeNode) GetRawTransactionVerbose(_ context.Context, txid string) (*btcjson.TxRawResult, error) {
	err := n.enter("getrawtransaction")
	defer n.lock.Unlock()
	if err != nil {
		return nil, err
	}
	if b := n.mainBlockOf(txid); b != nil {
		var vout []btcjson.Vout
		for _, tx := range b.Block.Transactions() {
			if tx.Hash().String() == txid {
				vout = vouts(tx.MsgTx())
			}
		}
		return &btcjson.TxRawResult{
			Txid:          txid,
			Vout:          vout,
			BlockHash:     b.Header.Hash,
			Confirmations: uint64(n.tip - b.Header.Height + 1),
		}, nil
	}
	if tx, ok := n.mempool[txid]; ok {
		return &btcjson.TxRawResult{Txid: txid, Vout: vouts(tx)}, nil
	}
	return nil, notFound("No such mempool or blockchain transaction")
}

func (n *FakeNode) GetBlockHeaderVerbose(_ context.Context, hash string) (*btcjson.GetBlockHeaderVerboseResult, error) {
	err := n.enter("getblockheader")
	defer n.lock.Unlock()
	if err != nil {
		return nil, err
	}
	b, ok := n.blocks[hash]
	if !ok {
		return nil, notFound("Block not found")
	}
	h := b.Header
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

func (n *FakeNode) GetBlockHash(_ context.Context, height int64) (string, error) {
	err := n.enter("getblockhash")
	defer n.lock.Unlock()
	if err != nil {
		return "", err
	}
	b, ok := n.byHeight[height]
	if !ok {
		return "", btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "Block height out of range")
	}
	return b.Header.Hash, nil
}

func (n *FakeNode) GetBlockCount(_ context.Context) (int64, error) {
	err := n.enter("getblockcount")
	defer n.lock.Unlock()
	if err != nil {
		return 0, err
	}
	return n.tip, nil
}

func (n *FakeNode) GetTxOutProof(_ context.Context, txids []string, blockHash string) (string, error) {
	err := n.enter("gettxoutproof")
	defer n.lock.Unlock()
	if err != nil {
		return "", err
	}
	if len(txids) == 0 {
		return "", btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "Parameter 'txids' cannot be empty")
	}
	b := n.blocks[blockHash]
	if blockHash == "" {
		b = n.mainBlockOf(txids[0])
	}
	if b == nil {
		return "", notFound("Transaction not yet in block")
	}
	for i, tx := range b.Block.Transactions() {
		if tx.Hash().String() == txids[0] {
			return b.MerkleProofHex(i)
		}
	}
	return "", notFound("Not all transactions found in specified or retrieved block")
}

func (n *FakeNode) EstimateSmartFee(_ context.Context, confTarget int64) (*btcjson.EstimateSmartFeeResult, error) {
	err := n.enter("estimatesmartfee")
	defer n.lock.Unlock()
	if err != nil {
		return nil, err
	}
	rate := n.FeeRate
	return &btcjson.EstimateSmartFeeResult{FeeRate: &rate, Blocks: confTarget}, nil
}

func (n *FakeNode) SendRawTransaction(_ context.Context, txHex string) (string, error) {
	err := n.enter("sendrawtransaction")
	defer n.lock.Unlock()
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", btcjson.NewRPCError(btcjson.ErrRPCDeserialization, "TX decode failed")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", btcjson.NewRPCError(btcjson.ErrRPCDeserialization, "TX decode failed")
	}
	txid := tx.TxHash().String()
	n.mempool[txid] = &tx
	return txid, nil
}

func (n *FakeNode) ScanTxOutSet(_ context.Context, descriptors []string) (*bitcoin.ScanTxOutSetResult, error) {
	err := n.enter("scantxoutset")
	defer n.lock.Unlock()
	if err != nil {
		return nil, err
	}
	res := &bitcoin.ScanTxOutSetResult{Success: true, Height: n.tip}
	for _, d := range descriptors {
		res.Unspents = append(res.Unspents, n.unspents[d]...)
	}
	return res, nil
}
