package swap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PrepareHTLC describes the Bitcoin HTLC funding swap. It locks to the swap's
// secret hash; a zero locktime uses the swap's timelock expiry.
func (c *Coordinator) PrepareHTLC(swap *types.Swap, recipientPubKey, refundPubKey []byte, amount btcutil.Amount, locktime uint32) (*bitcoin.HTLC, error) {
	secretHash, err := types.DecodeHash32("htlc secret hash", swap.HTLCSecretHash)
	if err != nil {
		return nil, err
	}
	if locktime == 0 {
		locktime = uint32(swap.TimelockExpiry.Unix())
	}
	if amount <= 0 {
		return nil, common.ErrInvalidAmount.Wrapf("htlc amount %s", amount)
	}
	h, _, err := bitcoin.CreateHTLCTransaction(recipientPubKey, refundPubKey, locktime, amount, &secretHash, c.params, c.random)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("swap_id", swap.SwapID.Hex()).Str("address", h.Address).Uint32("locktime", locktime).Msg("htlc prepared")
	return h, nil
}

// FundingOutput locates the output of txid paying h.
type FundingOutput struct {
	TxID  string
	Vout  uint32
	Value btcutil.Amount
}

// AuditFunding checks that txid pays at least h.Amount to the HTLC address.
func (c *Coordinator) AuditFunding(ctx context.Context, txid string, h *bitcoin.HTLC) (*FundingOutput, error) {
	pkScript, err := h.PkScript(c.params)
	if err != nil {
		return nil, err
	}
	want := hex.EncodeToString(pkScript)
	var outs []FundingOutput
	err = c.read(ctx, "getrawtransaction", func() error {
		tx, err := c.btc.GetRawTransactionVerbose(ctx, txid)
		if err != nil {
			return err
		}
		outs = outs[:0]
		for _, vout := range tx.Vout {
			if vout.ScriptPubKey.Hex != want {
				continue
			}
			value, err := btcutil.NewAmount(vout.Value)
			if err != nil {
				return err
			}
			outs = append(outs, FundingOutput{TxID: txid, Vout: vout.N, Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if out.Value >= h.Amount {
			return &out, nil
		}
	}
	return nil, common.ErrInvalidRequest.Wrapf("tx %s does not pay %s to %s", txid, h.Amount, h.Address)
}

// SpendRequest moves a funded HTLC output to Dest. Claims need Secret.
type SpendRequest struct {
	HTLC    *bitcoin.HTLC
	Path    bitcoin.SpendPath
	Funding FundingOutput
	Dest    btcutil.Address
	Key     *btcec.PrivateKey
	Secret  *[32]byte
}

// SpendHTLC builds, signs and broadcasts a claim or refund of the HTLC.
func (c *Coordinator) SpendHTLC(ctx context.Context, req SpendRequest) (string, error) {
	if req.HTLC == nil || req.Key == nil || req.Dest == nil {
		return "", common.ErrInvalidRequest.Wrap("htlc, key and destination are required")
	}
	wantKey := req.HTLC.RecipientPubKey
	if req.Path == bitcoin.RefundPath {
		wantKey = req.HTLC.RefundPubKey
	}
	if !bytes.Equal(req.Key.PubKey().SerializeCompressed(), wantKey) {
		return "", common.ErrUnauthorizedSpender.Wrapf("key does not match the htlc %s key", req.Path)
	}
	if req.Path == bitcoin.ClaimPath {
		if req.Secret == nil {
			return "", common.ErrInvalidRequest.Wrap("claim needs the htlc secret")
		}
		if sha256.Sum256(req.Secret[:]) != req.HTLC.SecretHash {
			return "", common.ErrSecretHashMismatch.Wrapf("htlc %s", req.HTLC.Address)
		}
	}
	prevHash, err := chainhash.NewHashFromStr(req.Funding.TxID)
	if err != nil {
		return "", common.ErrInvalidRequest.Wrapf("funding txid: %s", err)
	}

	feeRate, err := bitcoin.FeeRateFromNode(ctx, c.btc, c.cfg.FeeConfTarget)
	if err != nil {
		return "", err
	}
	tx, err := bitcoin.BuildHTLCSpendTx(req.HTLC, req.Path, *wire.NewOutPoint(prevHash, req.Funding.Vout), req.Funding.Value, req.Dest, feeRate)
	if err != nil {
		return "", err
	}
	sig, err := bitcoin.SignHTLCInput(tx, 0, req.HTLC, req.Funding.Value, req.Key, c.params)
	if err != nil {
		return "", err
	}
	if req.Path == bitcoin.ClaimPath {
		tx.TxIn[0].Witness = bitcoin.ClaimWitness(sig, *req.Secret, req.HTLC.Script)
	} else {
		tx.TxIn[0].Witness = bitcoin.RefundWitness(sig, req.HTLC.Script)
	}
	txid, err := c.Broadcast(ctx, tx)
	if err != nil {
		return "", err
	}
	c.logger.Info().Str("txid", txid).Str("path", req.Path.String()).Str("htlc", req.HTLC.Address).Msg("htlc spent")
	return txid, nil
}

// Broadcast sends a signed transaction. Node rejections are returned as is.
func (c *Coordinator) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	txid, err := bitcoin.Broadcast(ctx, c.btc, tx)
	if err != nil {
		return "", err
	}
	c.logger.Debug().Str("txid", txid).Msg("transaction broadcast")
	return txid, nil
}

// WaitForConfirmations polls until txid has MinConfirmations and returns its
// SPV proof. Mempool transactions and transient node failures keep it
// polling; it stops on any other error or when ctx is done.
func (c *Coordinator) WaitForConfirmations(ctx context.Context, txid string) (*bitcoin.SPVProof, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		proof, err := c.spv.GenerateSPVProof(ctx, txid)
		switch {
		case err == nil && proof.Confirmations >= c.cfg.MinConfirmations:
			return proof, nil
		case err == nil:
			c.logger.Debug().Str("txid", txid).Int64("confirmations", proof.Confirmations).Msg("waiting for confirmations")
		case errors.Is(err, common.ErrTransactionNotConfirmed) || common.IsTransient(err):
			c.logger.Debug().Err(err).Str("txid", txid).Msg("transaction not confirmed yet")
		default:
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExtractSecret recovers the HTLC preimage from a transaction claiming h, as
// seen in the mempool or a block.
func ExtractSecret(tx *wire.MsgTx, h *bitcoin.HTLC) ([32]byte, error) {
	for _, in := range tx.TxIn {
		w := in.Witness
		if len(w) != 4 || !bytes.Equal(w[3], h.Script) || len(w[1]) != 32 {
			continue
		}
		var secret [32]byte
		copy(secret[:], w[1])
		if sha256.Sum256(secret[:]) == h.SecretHash {
			return secret, nil
		}
	}
	return [32]byte{}, common.ErrNotFound.Wrapf("tx %s does not claim htlc %s", tx.TxHash(), h.Address)
}
