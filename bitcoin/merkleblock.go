package bitcoin

import (
	"bytes"
	"encoding/hex"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxMerkleBlockTxs caps the transaction count a merkle block may claim, far
// above what fits in a 4MB block.
const maxMerkleBlockTxs = 1 << 20

// MerkleBlock is a parsed gettxoutproof reply.
type MerkleBlock struct {
	Header BlockHeader
	// TxCount is the number of transactions in the block.
	TxCount uint32
	// Hashes are the proof hashes in display order.
	Hashes []string

	msg *wire.MsgMerkleBlock
}

// ParseMerkleBlock decodes a hex encoded merkle block: the 80-byte header, a
// little-endian transaction count, a varint hash count with that many 32-byte
// hashes, then the flag bytes.
func ParseMerkleBlock(proofHex string) (*MerkleBlock, error) {
	raw, err := hex.DecodeString(proofHex)
	if err != nil {
		return nil, common.ErrInvalidMerkleProof.Wrapf("proof is not hex: %s", err)
	}
	if len(raw) < HeaderSize+4 {
		return nil, common.ErrInvalidMerkleProof.Wrapf("proof is %d bytes", len(raw))
	}
	var msg wire.MsgMerkleBlock
	if err := msg.BtcDecode(bytes.NewReader(raw), wire.ProtocolVersion, wire.BaseEncoding); err != nil {
		return nil, common.ErrInvalidMerkleProof.Wrapf("fail to decode merkle block: %s", err)
	}
	if msg.Transactions == 0 || msg.Transactions > maxMerkleBlockTxs {
		return nil, common.ErrInvalidMerkleProof.Wrapf("merkle block claims %d transactions", msg.Transactions)
	}
	mb := &MerkleBlock{
		Header:  NewBlockHeader(&msg.Header, 0),
		TxCount: msg.Transactions,
		Hashes:  make([]string, len(msg.Hashes)),
		msg:     &msg,
	}
	for i, h := range msg.Hashes {
		mb.Hashes[i] = h.String()
	}
	return mb, nil
}

type nodePos struct {
	height uint32
	pos    uint32
}

// partialTree walks a BIP37 partial merkle tree, remembering every node hash
// it learns.
type partialTree struct {
	txCount uint32
	hashes  []*chainhash.Hash
	flags   []byte
	bitIdx  int
	hashIdx int
	nodes   map[nodePos]chainhash.Hash
	matched []uint32
}

func (t *partialTree) width(height uint32) uint32 {
	return (t.txCount + (1 << height) - 1) >> height
}

func (t *partialTree) treeHeight() uint32 {
	var h uint32
	for t.width(h) > 1 {
		h++
	}
	return h
}

func (t *partialTree) nextBit() (bool, error) {
	if t.bitIdx >= len(t.flags)*8 {
		return false, common.ErrInvalidMerkleProof.Wrap("ran out of flag bits")
	}
	bit := t.flags[t.bitIdx/8]&(1<<(t.bitIdx%8)) != 0
	t.bitIdx++
	return bit, nil
}

func (t *partialTree) traverse(height, pos uint32) (chainhash.Hash, error) {
	flag, err := t.nextBit()
	if err != nil {
		return chainhash.Hash{}, err
	}
	if height == 0 || !flag {
		if t.hashIdx >= len(t.hashes) {
			return chainhash.Hash{}, common.ErrInvalidMerkleProof.Wrap("ran out of hashes")
		}
		h := *t.hashes[t.hashIdx]
		t.hashIdx++
		if height == 0 && flag {
			t.matched = append(t.matched, pos)
		}
		t.nodes[nodePos{height, pos}] = h
		return h, nil
	}
	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < t.width(height-1) {
		if right, err = t.traverse(height-1, pos*2+1); err != nil {
			return chainhash.Hash{}, err
		}
		if right == left {
			// CVE-2012-2459: identical siblings make two trees share a root
			return chainhash.Hash{}, common.ErrInvalidMerkleProof.Wrap("duplicate sibling hashes")
		}
	}
	h := hashMerkleBranches(&left, &right)
	t.nodes[nodePos{height, pos}] = h
	return h, nil
}

// Branch returns the sibling path and position of txid. It fails with
// ErrInvalidMerkleProof if the partial tree is malformed, does not commit to
// the header's merkle root or does not match txid.
func (mb *MerkleBlock) Branch(txid string) ([]string, uint32, error) {
	target, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, 0, common.ErrInvalidRequest.Wrapf("txid: %s", err)
	}
	t := &partialTree{
		txCount: mb.msg.Transactions,
		hashes:  mb.msg.Hashes,
		flags:   mb.msg.Flags,
		nodes:   make(map[nodePos]chainhash.Hash),
	}
	height := t.treeHeight()
	root, err := t.traverse(height, 0)
	if err != nil {
		return nil, 0, err
	}
	if t.hashIdx != len(t.hashes) {
		return nil, 0, common.ErrInvalidMerkleProof.Wrapf("%d hashes left unused", len(t.hashes)-t.hashIdx)
	}
	if (t.bitIdx+7)/8 != len(t.flags) {
		return nil, 0, common.ErrInvalidMerkleProof.Wrap("flag bytes left unused")
	}
	if root != mb.msg.Header.MerkleRoot {
		return nil, 0, common.ErrInvalidMerkleProof.Wrapf("partial tree root %s, header commits to %s", root, mb.msg.Header.MerkleRoot)
	}

	for _, pos := range t.matched {
		if t.nodes[nodePos{0, pos}] != *target {
			continue
		}
		branch := make([]string, 0, height)
		idx := pos
		for lvl := uint32(0); lvl < height; lvl++ {
			sib := idx ^ 1
			if sib >= t.width(lvl) {
				sib = idx
			}
			h, ok := t.nodes[nodePos{lvl, sib}]
			if !ok {
				return nil, 0, common.ErrInvalidMerkleProof.Wrapf("sibling %d at level %d missing", sib, lvl)
			}
			branch = append(branch, h.String())
			idx >>= 1
		}
		return branch, pos, nil
	}
	return nil, 0, common.ErrInvalidMerkleProof.Wrapf("tx %s not matched by proof", txid)
}

func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// VerifyMerkleProof folds txid up the branch, hashing (current, sibling) when
// the running index is even and (sibling, current) when odd, and reports
// whether the result is root. All hashes are in display order.
func VerifyMerkleProof(txid string, proof []string, index uint32, root string) bool {
	cur, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return false
	}
	want, err := chainhash.NewHashFromStr(root)
	if err != nil {
		return false
	}
	if len(proof) < 32 && index>>len(proof) != 0 {
		return false
	}
	acc := *cur
	for _, s := range proof {
		sib, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return false
		}
		if index&1 == 0 {
			acc = hashMerkleBranches(&acc, sib)
		} else {
			acc = hashMerkleBranches(sib, &acc)
		}
		index >>= 1
	}
	return acc == *want
}
