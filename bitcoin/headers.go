package bitcoin

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSize is the length of a serialized block header.
const HeaderSize = 80

// BlockHeader is a Bitcoin block header at a known height. Hashes are in
// display (RPC) byte order.
type BlockHeader struct {
	Version       int32  `json:"version"`
	PrevBlockHash string `json:"prev_block_hash"`
	MerkleRoot    string `json:"merkle_root"`
	Timestamp     uint32 `json:"timestamp"`
	Bits          uint32 `json:"bits"`
	Nonce         uint32 `json:"nonce"`
	Height        int64  `json:"height"`
	Hash          string `json:"hash"`
}

// NewBlockHeader describes h at height. Hash is the canonical hash.
func NewBlockHeader(h *wire.BlockHeader, height int64) BlockHeader {
	return BlockHeader{
		Version:       h.Version,
		PrevBlockHash: h.PrevBlock.String(),
		MerkleRoot:    h.MerkleRoot.String(),
		Timestamp:     uint32(h.Timestamp.Unix()),
		Bits:          h.Bits,
		Nonce:         h.Nonce,
		Height:        height,
		Hash:          h.BlockHash().String(),
	}
}

// ParseBlockHeader decodes the 80-byte serialized header.
func ParseBlockHeader(raw []byte, height int64) (BlockHeader, error) {
	if len(raw) != HeaderSize {
		return BlockHeader{}, common.ErrInvalidRequest.Wrapf("header is %d bytes, want %d", len(raw), HeaderSize)
	}
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return BlockHeader{}, common.ErrInvalidRequest.Wrapf("fail to decode header: %s", err)
	}
	return NewBlockHeader(&h, height), nil
}

// HeaderFromVerbose converts a verbose getblockheader reply. The reported hash
// is kept as is so CheckHash can compare it with the canonical one.
func HeaderFromVerbose(res *btcjson.GetBlockHeaderVerboseResult) (BlockHeader, error) {
	bits, err := strconv.ParseUint(res.Bits, 16, 32)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("fail to parse bits %q: %w", res.Bits, err)
	}
	prev := res.PreviousHash
	if prev == "" {
		prev = chainhash.Hash{}.String()
	}
	return BlockHeader{
		Version:       res.Version,
		PrevBlockHash: prev,
		MerkleRoot:    res.MerkleRoot,
		Timestamp:     uint32(res.Time),
		Bits:          uint32(bits),
		Nonce:         uint32(res.Nonce),
		Height:        int64(res.Height),
		Hash:          res.Hash,
	}, nil
}

// WireHeader rebuilds the wire header.
func (h BlockHeader) WireHeader() (*wire.BlockHeader, error) {
	prev, err := chainhash.NewHashFromStr(h.PrevBlockHash)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("prev block hash: %s", err)
	}
	root, err := chainhash.NewHashFromStr(h.MerkleRoot)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("merkle root: %s", err)
	}
	return &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  *prev,
		MerkleRoot: *root,
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}, nil
}

// Serialize returns the 80-byte header.
func (h BlockHeader) Serialize() ([]byte, error) {
	wh, err := h.WireHeader()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := wh.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeHex is Serialize in hex.
func (h BlockHeader) SerializeHex() (string, error) {
	raw, err := h.Serialize()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// CanonicalHash is the double-SHA256 of the serialized header, display order.
func (h BlockHeader) CanonicalHash() (string, error) {
	wh, err := h.WireHeader()
	if err != nil {
		return "", err
	}
	return wh.BlockHash().String(), nil
}

// CheckHash fails with ErrHeaderHashMismatch if the reported hash is not the
// canonical one.
func (h BlockHeader) CheckHash() error {
	canonical, err := h.CanonicalHash()
	if err != nil {
		return err
	}
	if canonical != h.Hash {
		return common.ErrHeaderHashMismatch.Wrapf("height %d: header hashes to %s, reported %s", h.Height, canonical, h.Hash)
	}
	return nil
}

// CheckProofOfWork verifies the hash meets the header's own target and the
// target does not exceed powLimit.
func (h BlockHeader) CheckProofOfWork(powLimit *big.Int) error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return common.ErrHeaderHashMismatch.Wrapf("height %d: target %064x is not positive", h.Height, target)
	}
	if powLimit != nil && target.Cmp(powLimit) > 0 {
		return common.ErrHeaderHashMismatch.Wrapf("height %d: target %064x above pow limit", h.Height, target)
	}
	hash, err := chainhash.NewHashFromStr(h.Hash)
	if err != nil {
		return common.ErrInvalidRequest.Wrapf("hash: %s", err)
	}
	if blockchain.HashToBig(hash).Cmp(target) > 0 {
		return common.ErrHeaderHashMismatch.Wrapf("height %d: hash %s above target %064x", h.Height, h.Hash, target)
	}
	return nil
}

// Work is the expected number of hashes behind this header.
func (h BlockHeader) Work() *big.Int {
	return blockchain.CalcWork(h.Bits)
}

// ValidateHeaderChain reports whether headers form a linked run: each header
// hashes to its reported hash, references its predecessor's hash and sits one
// height above it.
func ValidateHeaderChain(headers []BlockHeader) bool {
	return CheckHeaderChain(headers) == nil
}

// CheckHeaderChain is ValidateHeaderChain returning the first violation.
func CheckHeaderChain(headers []BlockHeader) error {
	for i, h := range headers {
		if err := h.CheckHash(); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := headers[i-1]
		if h.PrevBlockHash != prev.Hash {
			return common.ErrChainContinuityViolation.Wrapf("header %s at %d does not extend %s", h.Hash, h.Height, prev.Hash)
		}
		if h.Height != prev.Height+1 {
			return common.ErrChainContinuityViolation.Wrapf("height %d follows %d", h.Height, prev.Height)
		}
	}
	return nil
}
