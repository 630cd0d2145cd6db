package bitcoin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockHeaderEncoding(t *testing.T) {
	genesis := chaincfg.MainNetParams.GenesisBlock.Header
	h := NewBlockHeader(&genesis, 0)
	assert.Equal(t, chaincfg.MainNetParams.GenesisHash.String(), h.Hash)
	require.NoError(t, h.CheckHash())
	require.NoError(t, h.CheckProofOfWork(chaincfg.MainNetParams.PowLimit))

	raw, err := h.Serialize()
	require.NoError(t, err)
	assert.Len(t, raw, HeaderSize)
	parsed, err := ParseBlockHeader(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseBlockHeader(raw[:79], 0)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)

	tampered := h
	tampered.Nonce++
	assert.ErrorIs(t, tampered.CheckHash(), common.ErrHeaderHashMismatch)

	// a regtest target is far above the mainnet limit
	chain := buildTestChain(t, 1, 1)
	assert.NoError(t, chain.headers[0].CheckProofOfWork(chaincfg.RegressionNetParams.PowLimit))
	assert.ErrorIs(t, chain.headers[0].CheckProofOfWork(chaincfg.MainNetParams.PowLimit), common.ErrHeaderHashMismatch)
}

func TestValidateHeaderChain(t *testing.T) {
	chain := buildTestChain(t, 4, 1)
	assert.True(t, ValidateHeaderChain(chain.headers))
	assert.True(t, ValidateHeaderChain(nil))

	broken := append([]BlockHeader{}, chain.headers...)
	broken[2].PrevBlockHash = broken[0].Hash
	assert.False(t, ValidateHeaderChain(broken))

	skipped := append([]BlockHeader{}, chain.headers...)
	skipped[3].Height = 7
	assert.ErrorIs(t, CheckHeaderChain(skipped), common.ErrChainContinuityViolation)

	lying := append([]BlockHeader{}, chain.headers...)
	lying[1].Hash = lying[2].Hash
	assert.ErrorIs(t, CheckHeaderChain(lying), common.ErrHeaderHashMismatch)
}

func TestMerkleBlockBranch(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7, 8, 13} {
		block := buildTestChain(t, 1, n).blocks[0]
		root := block.MsgBlock().Header.MerkleRoot.String()
		for idx, tx := range block.Transactions() {
			mb, err := ParseMerkleBlock(merkleProofHex(t, block, idx))
			require.NoError(t, err)
			assert.Equal(t, uint32(n), mb.TxCount)

			branch, pos, err := mb.Branch(tx.Hash().String())
			require.NoError(t, err, "n=%d idx=%d", n, idx)
			assert.Equal(t, uint32(idx), pos)
			assert.True(t, VerifyMerkleProof(tx.Hash().String(), branch, pos, root), "n=%d idx=%d", n, idx)
			if len(branch) > 0 && branch[0] != tx.Hash().String() {
				assert.False(t, VerifyMerkleProof(tx.Hash().String(), branch, pos^1, root))
			}
		}
	}
}

func TestMerkleBlockRejects(t *testing.T) {
	block := buildTestChain(t, 1, 6).blocks[0]
	proof := merkleProofHex(t, block, 2)

	_, err := ParseMerkleBlock("zz")
	assert.ErrorIs(t, err, common.ErrInvalidMerkleProof)
	_, err = ParseMerkleBlock(proof[:100])
	assert.ErrorIs(t, err, common.ErrInvalidMerkleProof)

	mb, err := ParseMerkleBlock(proof)
	require.NoError(t, err)
	_, _, err = mb.Branch(block.Transactions()[3].Hash().String())
	assert.ErrorIs(t, err, common.ErrInvalidMerkleProof, "unmatched tx")

	// a proof whose tree does not hash to the header root
	mb.msg.Header.MerkleRoot[0] ^= 1
	_, _, err = mb.Branch(block.Transactions()[2].Hash().String())
	assert.ErrorIs(t, err, common.ErrInvalidMerkleProof)
}

func TestVerifyMerkleProofSingleTx(t *testing.T) {
	block := buildTestChain(t, 1, 1).blocks[0]
	txid := block.Transactions()[0].Hash().String()
	root := block.MsgBlock().Header.MerkleRoot.String()
	assert.Equal(t, txid, root)
	assert.True(t, VerifyMerkleProof(txid, nil, 0, root))
	assert.False(t, VerifyMerkleProof(txid, nil, 1, root))
	assert.False(t, VerifyMerkleProof("nothex", nil, 0, root))
}

func TestGenerateSPVProof(t *testing.T) {
	ctx := context.Background()
	chain := buildTestChain(t, 5, 4)
	rpc := newFakeRPC()
	chain.load(rpc)

	block := chain.blocks[1]
	tx := block.Transactions()[3]
	rpc.proofs[tx.Hash().String()] = merkleProofHex(t, block, 3)

	v := NewSPVVerifier(rpc)
	proof, err := v.GenerateSPVProof(ctx, tx.Hash().String())
	require.NoError(t, err)
	assert.Equal(t, chain.headers[1].Hash, proof.BlockHash)
	assert.Equal(t, int64(2), proof.BlockHeight)
	assert.Equal(t, uint32(3), proof.TxIndex)
	assert.Equal(t, int64(4), proof.Confirmations)
	assert.True(t, proof.Verify())
	assert.True(t, VerifyMerkleProof(proof.TxID, proof.MerkleProof, proof.TxIndex, chain.headers[1].MerkleRoot))

	// the header is cached
	_, err = v.GetBlockHeader(ctx, chain.headers[1].Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, rpc.headerCalls)
	assert.Equal(t, 1, v.CacheSize())
	v.ClearCache()
	assert.Zero(t, v.CacheSize())

	_, err = v.GenerateSPVProof(ctx, "00"+tx.Hash().String()[2:])
	assert.True(t, IsRPCCode(err, btcjson.ErrRPCInvalidAddressOrKey))
}

func TestGenerateSPVProofUnconfirmed(t *testing.T) {
	rpc := newFakeRPC()
	rpc.txBlock["aa"] = ""
	_, err := NewSPVVerifier(rpc).GenerateSPVProof(context.Background(), "aa")
	assert.ErrorIs(t, err, common.ErrTransactionNotConfirmed)
}

func TestSPVRetry(t *testing.T) {
	ctx := context.Background()
	chain := buildTestChain(t, 1, 2)
	rpc := newFakeRPC()
	chain.load(rpc)
	tx := chain.blocks[0].Transactions()[1]
	rpc.proofs[tx.Hash().String()] = merkleProofHex(t, chain.blocks[0], 1)

	rpc.failTx = []error{errUnavailable, errUnavailable}
	v := NewSPVVerifier(rpc, WithRetry(3, 5*time.Second))
	_, err := v.GenerateSPVProof(ctx, tx.Hash().String())
	require.NoError(t, err)
	assert.Equal(t, 3, rpc.txCalls)

	// permanent errors are not retried
	rpc.txCalls = 0
	rpc.failTx = []error{btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "bad txid")}
	_, err = v.GenerateSPVProof(ctx, tx.Hash().String())
	assert.Error(t, err)
	assert.Equal(t, 1, rpc.txCalls)

	// retries give up
	rpc.txCalls = 0
	rpc.failTx = []error{errUnavailable, errUnavailable, errUnavailable, errUnavailable, errUnavailable}
	_, err = NewSPVVerifier(rpc, WithRetry(1, 5*time.Second)).GenerateSPVProof(ctx, tx.Hash().String())
	assert.ErrorIs(t, err, common.ErrRPCUnavailable)
	assert.Equal(t, 2, rpc.txCalls)
}

func TestHeaderFetchDeduplicated(t *testing.T) {
	chain := buildTestChain(t, 1, 1)
	rpc := newFakeRPC()
	chain.load(rpc)
	rpc.headerDelay = 50 * time.Millisecond
	v := NewSPVVerifier(rpc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := v.GetBlockHeader(context.Background(), chain.headers[0].Hash)
			assert.NoError(t, err)
			assert.Equal(t, chain.headers[0], h)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rpc.headerCalls)
}

func TestHeaderAt(t *testing.T) {
	chain := buildTestChain(t, 3, 1)
	rpc := newFakeRPC()
	chain.load(rpc)
	v := NewSPVVerifier(rpc)
	h, err := v.HeaderAt(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, chain.headers[1], h)
	tip, err := v.TipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), tip)
}
