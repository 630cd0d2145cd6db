package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SpendPath selects the HTLC branch a spend uses.
type SpendPath int

const (
	ClaimPath SpendPath = iota
	RefundPath
)

func (p SpendPath) String() string {
	if p == RefundPath {
		return "refund"
	}
	return "claim"
}

// witness sizes of the two branches, excluding the script push
const (
	// count, sig (with varint), preimage, OP_TRUE selector
	claimWitnessSize = 1 + 1 + 73 + 1 + 32 + 1 + 1
	// count, sig, empty selector
	refundWitnessSize = 1 + 1 + 73 + 1
)

// FeeRateFromNode asks bitcoind for a fee rate in satoshi per kvB.
func FeeRateFromNode(ctx context.Context, rpc RPC, confTarget int64) (btcutil.Amount, error) {
	res, err := rpc.EstimateSmartFee(ctx, confTarget)
	if err != nil {
		return 0, err
	}
	if res.FeeRate == nil {
		return 0, fmt.Errorf("node has no fee estimate for %d blocks: %v", confTarget, res.Errors)
	}
	return btcutil.NewAmount(*res.FeeRate)
}

// BuildHTLCSpendTx returns the unsigned transaction moving the HTLC output
// prevOut (worth value) to dest on the given branch, paying feeRate
// (satoshi per kvB). Refunds carry the HTLC locktime and a non-final sequence.
func BuildHTLCSpendTx(h *HTLC, path SpendPath, prevOut wire.OutPoint, value btcutil.Amount, dest btcutil.Address, feeRate btcutil.Amount) (*wire.MsgTx, error) {
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("fail to build destination script: %w", err)
	}
	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&prevOut, nil, nil)
	witnessSize := claimWitnessSize
	if path == RefundPath {
		in.Sequence = wire.MaxTxInSequenceNum - 1
		tx.LockTime = h.Locktime
		witnessSize = refundWitnessSize
	}
	tx.AddTxIn(in)
	out := wire.NewTxOut(0, destScript)
	tx.AddTxOut(out)

	scriptPush := wire.VarIntSerializeSize(uint64(len(h.Script))) + len(h.Script)
	// segwit marker and flag count as witness data
	weight := tx.SerializeSizeStripped()*4 + 2 + witnessSize + scriptPush
	vsize := (weight + 3) / 4
	fee := feeRate * btcutil.Amount(vsize) / 1000
	out.Value = int64(value - fee)
	if out.Value <= 0 || mempool.IsDust(out, mempool.DefaultMinRelayTxFee) {
		return nil, common.ErrInvalidAmount.Wrapf("htlc value %s does not cover fee %s", value, fee)
	}
	return tx, nil
}

// SignHTLCInput signs input idx of tx, which spends the HTLC output worth
// value, with priv.
func SignHTLCInput(tx *wire.MsgTx, idx int, h *HTLC, value btcutil.Amount, priv *btcec.PrivateKey, params *chaincfg.Params) ([]byte, error) {
	pkScript, err := h.PkScript(params)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(value))
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.RawTxInWitnessSignature(tx, sigHashes, idx, int64(value), h.Script, txscript.SigHashAll, priv)
}

// ClaimWitness spends the preimage branch.
func ClaimWitness(sig []byte, secret [32]byte, script []byte) wire.TxWitness {
	return wire.TxWitness{sig, secret[:], {0x01}, script}
}

// RefundWitness spends the timeout branch.
func RefundWitness(sig []byte, script []byte) wire.TxWitness {
	return wire.TxWitness{sig, nil, script}
}

// SerializeTx hex encodes tx with its witness.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Broadcast hands a signed tx to the node and returns its txid.
func Broadcast(ctx context.Context, rpc RPC, tx *wire.MsgTx) (string, error) {
	raw, err := SerializeTx(tx)
	if err != nil {
		return "", fmt.Errorf("fail to serialize tx: %w", err)
	}
	return rpc.SendRawTransaction(ctx, raw)
}
