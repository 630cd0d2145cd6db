// Package merkle implements the append-only commitment accumulator: a binary
// hash tree over note commitments whose pairwise hashing never reorders
// operands.
package merkle

import (
	"context"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
)

// BuildLevels hashes leaves bottom-up. levels[0] is the leaf level and the
// last level holds the single root. An odd trailing node is paired with the
// zero felt; no zero leaves are ever inserted.
func BuildLevels(ctx context.Context, h hasher.Hasher, leaves []common.Felt) ([][]common.Felt, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	level := make([]common.Felt, len(leaves))
	copy(level, leaves)
	levels := [][]common.Felt{level}
	for len(level) > 1 {
		next := make([]common.Felt, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := common.ZeroFelt
			if i+1 < len(level) {
				right = level[i+1]
			}
			node, err := h.Hash(ctx, level[i], right)
			if err != nil {
				return nil, err
			}
			next = append(next, node)
		}
		levels = append(levels, next)
		level = next
	}
	return levels, nil
}

// ComputeRoot returns the root over leaves; zero for an empty set.
func ComputeRoot(ctx context.Context, h hasher.Hasher, leaves []common.Felt) (common.Felt, error) {
	levels, err := BuildLevels(ctx, h, leaves)
	if err != nil || len(levels) == 0 {
		return common.ZeroFelt, err
	}
	return levels[len(levels)-1][0], nil
}

// ProofFromLevels collects the sibling path of index, leaf to root.
func ProofFromLevels(levels [][]common.Felt, index uint64) ([]common.Felt, error) {
	if len(levels) == 0 || index >= uint64(len(levels[0])) {
		count := 0
		if len(levels) > 0 {
			count = len(levels[0])
		}
		return nil, common.ErrLeafIndexOutOfRange.Wrapf("index %d, leaf count %d", index, count)
	}
	proof := make([]common.Felt, 0, len(levels)-1)
	idx := index
	for _, level := range levels[:len(levels)-1] {
		sibling := common.ZeroFelt
		if sib := idx ^ 1; sib < uint64(len(level)) {
			sibling = level[sib]
		}
		proof = append(proof, sibling)
		idx >>= 1
	}
	return proof, nil
}

// RootFromProof replays index bits over proof: an even running index hashes
// (current, sibling), an odd one (sibling, current).
func RootFromProof(ctx context.Context, h hasher.Hasher, leaf common.Felt, proof []common.Felt, index uint64) (common.Felt, error) {
	cur := leaf
	idx := index
	for _, sibling := range proof {
		var err error
		if idx&1 == 0 {
			cur, err = h.Hash(ctx, cur, sibling)
		} else {
			cur, err = h.Hash(ctx, sibling, cur)
		}
		if err != nil {
			return common.ZeroFelt, err
		}
		idx >>= 1
	}
	return cur, nil
}

// VerifyProof reports whether leaf sits at index under root. Hash failures
// are returned as errors, never as a false negative.
func VerifyProof(ctx context.Context, h hasher.Hasher, leaf common.Felt, proof []common.Felt, index uint64, root common.Felt) (bool, error) {
	if len(proof) < 64 && index>>uint(len(proof)) != 0 {
		return false, nil
	}
	got, err := RootFromProof(ctx, h, leaf, proof, index)
	if err != nil {
		return false, err
	}
	return got == root, nil
}
