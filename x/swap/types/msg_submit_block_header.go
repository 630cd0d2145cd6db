package types

import (
	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/hashicorp/go-multierror"
)

// MsgSubmitBlockHeader offers a Bitcoin header to the ledger's header chain.
// RawChunks optionally carries the 80-byte serialization split into 31-byte
// field elements; when present it must decode to Header.
type MsgSubmitBlockHeader struct {
	Header    bitcoin.BlockHeader `json:"header"`
	RawChunks []common.Felt       `json:"raw_chunks,omitempty"`
}

// NewMsgSubmitBlockHeader fills RawChunks from h.
func NewMsgSubmitBlockHeader(h bitcoin.BlockHeader) (*MsgSubmitBlockHeader, error) {
	raw, err := h.Serialize()
	if err != nil {
		return nil, err
	}
	return &MsgSubmitBlockHeader{Header: h, RawChunks: common.ChunkBytes31(raw)}, nil
}

func (m *MsgSubmitBlockHeader) ValidateBasic() error {
	var err error
	if e := validateHashHex("hash", m.Header.Hash); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateHashHex("prev block hash", m.Header.PrevBlockHash); e != nil {
		err = multierror.Append(err, e)
	}
	if e := validateHashHex("merkle root", m.Header.MerkleRoot); e != nil {
		err = multierror.Append(err, e)
	}
	if m.Header.Height < 0 {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("negative height %d", m.Header.Height))
	}
	if n := len(m.RawChunks); n != 0 && n != (bitcoin.HeaderSize+common.FeltChunkSize-1)/common.FeltChunkSize {
		err = multierror.Append(err, common.ErrInvalidRequest.Wrapf("header split into %d chunks", n))
	}
	return err
}

// DecodedHeader returns Header after checking that RawChunks, when sent,
// decode to the same fields.
func (m *MsgSubmitBlockHeader) DecodedHeader() (bitcoin.BlockHeader, error) {
	if len(m.RawChunks) == 0 {
		return m.Header, nil
	}
	raw, err := common.JoinChunks31(m.RawChunks, bitcoin.HeaderSize)
	if err != nil {
		return bitcoin.BlockHeader{}, common.ErrInvalidRequest.Wrapf("raw chunks: %s", err)
	}
	h, err := bitcoin.ParseBlockHeader(raw, m.Header.Height)
	if err != nil {
		return bitcoin.BlockHeader{}, err
	}
	// the reported hash is checked against the serialization by the keeper
	h.Hash = m.Header.Hash
	if h != m.Header {
		return bitcoin.BlockHeader{}, common.ErrHeaderHashMismatch.Wrapf("raw chunks of %s disagree with the header fields", m.Header.Hash)
	}
	return h, nil
}
