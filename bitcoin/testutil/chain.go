// Package testutil mines small regtest chains and serves them through a fake
// bitcoind so that packages above bitcoin can test SPV flows end to end.
package testutil

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Block is a mined regtest block.
type Block struct {
	Header bitcoin.BlockHeader
	Block  *btcutil.Block
}

// FillerTxs returns n distinct transactions tagged with salt.
func FillerTxs(n int, salt uint32) []*wire.MsgTx {
	txs := make([]*wire.MsgTx, n)
	for i := range txs {
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: uint32(i)}, []byte{byte(i), 0x51}, nil))
		tx.AddTxOut(wire.NewTxOut(int64(1000+i), []byte{0x51}))
		tx.LockTime = salt
		txs[i] = tx
	}
	return txs
}

// MineHeader searches a nonce meeting h's target. Regtest targets need a
// couple of tries on average.
func MineHeader(h *wire.BlockHeader) error {
	target := blockchain.CompactToBig(h.Bits)
	for nonce := uint32(0); nonce < 1<<24; nonce++ {
		h.Nonce = nonce
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return nil
		}
	}
	return fmt.Errorf("no nonce found for header on %s", h.PrevBlock)
}

// MineBlock mines a regtest block at height on top of prev holding txs.
func MineBlock(prev chainhash.Hash, height int64, txs []*wire.MsgTx) (*Block, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("a block needs at least one transaction")
	}
	wrapped := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		wrapped[i] = btcutil.NewTx(tx)
	}
	merkles := blockchain.BuildMerkleTreeStore(wrapped, false)
	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev,
		MerkleRoot: *merkles[len(merkles)-1],
		Timestamp:  time.Unix(1_700_000_000+height*600, 0),
		Bits:       chaincfg.RegressionNetParams.PowLimitBits,
	}
	if err := MineHeader(&header); err != nil {
		return nil, err
	}
	msg := wire.NewMsgBlock(&header)
	for _, tx := range txs {
		if err := msg.AddTransaction(tx); err != nil {
			return nil, err
		}
	}
	return &Block{Header: bitcoin.NewBlockHeader(&header, height), Block: btcutil.NewBlock(msg)}, nil
}

// MineChain mines length blocks of filler transactions on top of prev, the
// first one at height. salt keeps competing branches distinct.
func MineChain(prev chainhash.Hash, height int64, length int, salt uint32) ([]*Block, error) {
	blocks := make([]*Block, 0, length)
	for i := 0; i < length; i++ {
		b, err := MineBlock(prev, height+int64(i), FillerTxs(2+i%3, salt<<20|uint32(height+int64(i))))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
		prev = b.Hash()
	}
	return blocks, nil
}

// Hash is the block hash.
func (b *Block) Hash() chainhash.Hash {
	return *b.Block.Hash()
}

// TxID returns the txid of transaction i.
func (b *Block) TxID(i int) string {
	return b.Block.Transactions()[i].Hash().String()
}

// MerkleProofHex is what gettxoutproof returns for transaction i.
func (b *Block) MerkleProofHex(i int) (string, error) {
	filter := bloom.NewFilter(1, 0, 0.000001, wire.BloomUpdateNone)
	filter.AddHash(b.Block.Transactions()[i].Hash())
	mb, _ := bloom.NewMerkleBlock(b.Block, filter)
	var buf bytes.Buffer
	if err := mb.BtcEncode(&buf, wire.ProtocolVersion, wire.BaseEncoding); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Branch returns the merkle branch and position of transaction i.
func (b *Block) Branch(i int) ([]string, uint32, error) {
	proof, err := b.MerkleProofHex(i)
	if err != nil {
		return nil, 0, err
	}
	mb, err := bitcoin.ParseMerkleBlock(proof)
	if err != nil {
		return nil, 0, err
	}
	return mb.Branch(b.TxID(i))
}
