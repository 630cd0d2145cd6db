package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/keystore"
	"github.com/btcq-org/qswap/swap"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"
)

type htlcView struct {
	Address         string `json:"address"`
	Script          string `json:"script"`
	SecretHash      string `json:"secret_hash"`
	RecipientPubKey string `json:"recipient_pub_key"`
	RefundPubKey    string `json:"refund_pub_key"`
	Locktime        uint32 `json:"locktime"`
	Amount          int64  `json:"amount"`
}

func viewHTLC(h *bitcoin.HTLC) htlcView {
	return htlcView{
		Address:         h.Address,
		Script:          hex.EncodeToString(h.Script),
		SecretHash:      hex.EncodeToString(h.SecretHash[:]),
		RecipientPubKey: hex.EncodeToString(h.RecipientPubKey),
		RefundPubKey:    hex.EncodeToString(h.RefundPubKey),
		Locktime:        h.Locktime,
		Amount:          int64(h.Amount),
	}
}

// loadHTLC rebuilds an HTLC from its witness script.
func (a *app) loadHTLC(scriptHex string, amount int64) (*bitcoin.HTLC, error) {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("script: %s", err)
	}
	h, err := bitcoin.ParseHTLCScript(script)
	if err != nil {
		return nil, err
	}
	addr, err := bitcoin.P2WSHAddress(h.Script, a.net.BitcoinParams())
	if err != nil {
		return nil, err
	}
	h.Address = addr.EncodeAddress()
	h.Amount = btcutil.Amount(amount)
	return h, nil
}

func (a *app) signingKey(name string) (keystore.PrivKey, error) {
	ks, err := a.keystore()
	if err != nil {
		return keystore.PrivKey{}, err
	}
	k, err := ks.Get(name)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return k, fmt.Errorf("no key named %q", name)
	}
	return k, err
}

func pubKeyArg(name, value string) ([]byte, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("%s: %s", name, err)
	}
	return raw, nil
}

func htlcCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "htlc",
		Short: "Build, fund and spend the Bitcoin side of a swap",
	}
	cmd.AddCommand(
		prepareCmd(a),
		auditCmd(a),
		spendCmd(a, bitcoin.ClaimPath),
		spendCmd(a, bitcoin.RefundPath),
		extractCmd(a),
		waitCmd(a),
		watchCmd(a),
	)
	return cmd
}

func prepareCmd(a *app) *cobra.Command {
	var (
		recipientPub string
		refundPub    string
		amount       int64
		locktime     uint32
	)
	cmd := &cobra.Command{
		Use:   "prepare <swap-id>",
		Short: "Derive the HTLC address funding a swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := parseSwapID(args[0])
			if err != nil {
				return err
			}
			recipient, err := pubKeyArg("recipient-pubkey", recipientPub)
			if err != nil {
				return err
			}
			refund, err := pubKeyArg("refund-pubkey", refundPub)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			s, err := coord.GetSwap(ctx, swapID)
			if err != nil {
				return err
			}
			h, err := coord.PrepareHTLC(s, recipient, refund, btcutil.Amount(amount), locktime)
			if err != nil {
				return err
			}
			return printJSON(cmd, viewHTLC(h))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&recipientPub, "recipient-pubkey", "", "compressed key that claims with the secret")
	flags.StringVar(&refundPub, "refund-pubkey", "", "compressed key that refunds after the locktime")
	flags.Int64Var(&amount, "amount", 0, "amount in satoshi")
	flags.Uint32Var(&locktime, "locktime", 0, "absolute locktime, zero uses the swap expiry")
	for _, name := range []string{"recipient-pubkey", "refund-pubkey", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func auditCmd(a *app) *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "audit <script> <funding-txid>",
		Short: "Check that a transaction funds the HTLC",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.loadHTLC(args[0], amount)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			out, err := coord.AuditFunding(ctx, args[1], h)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "expected amount in satoshi")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func spendCmd(a *app, path bitcoin.SpendPath) *cobra.Command {
	var (
		amount    int64
		dest      string
		keyName   string
		swapIDHex string
		secretHex string
	)
	cmd := &cobra.Command{
		Use:   path.String() + " <script> <funding-txid>",
		Short: fmt.Sprintf("Spend a funded HTLC through its %s branch", path),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.loadHTLC(args[0], amount)
			if err != nil {
				return err
			}
			to, err := common.NewAddress(dest, a.net)
			if err != nil {
				return err
			}
			if to.IsEmpty() {
				return common.ErrInvalidRequest.Wrap("destination address is required")
			}
			destAddr, err := btcutil.DecodeAddress(to.String(), a.net.BitcoinParams())
			if err != nil {
				return err
			}
			stored, err := a.signingKey(keyName)
			if err != nil {
				return err
			}
			priv, err := stored.ECPrivKey()
			if err != nil {
				return err
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			req := swap.SpendRequest{
				HTLC: h,
				Path: path,
				Dest: destAddr,
				Key:  priv,
			}
			if path == bitcoin.ClaimPath {
				var swapID common.Felt
				if swapIDHex != "" {
					if swapID, err = parseSwapID(swapIDHex); err != nil {
						return err
					}
				} else if secretHex == "" {
					return common.ErrInvalidRequest.Wrap("claims need --secret or --swap-id")
				}
				secret, err := a.secretArg(ctx, swapID, secretHex)
				if err != nil {
					return err
				}
				req.Secret = &secret
			}
			funding, err := coord.AuditFunding(ctx, args[1], h)
			if err != nil {
				return err
			}
			req.Funding = *funding
			txid, err := coord.SpendHTLC(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"txid": txid, "path": path.String()})
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&amount, "amount", 0, "funded amount in satoshi")
	flags.StringVar(&dest, "dest", "", "address receiving the output")
	flags.StringVar(&keyName, "key", "", "keystore key that signs the spend")
	if path == bitcoin.ClaimPath {
		flags.StringVar(&swapIDHex, "swap-id", "", "swap whose stored secret unlocks the HTLC")
		flags.StringVar(&secretHex, "secret", "", "hex HTLC secret")
	}
	for _, name := range []string{"amount", "dest", "key"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func extractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <script> <claim-txid>",
		Short: "Recover the HTLC secret from the counterparty's claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.loadHTLC(args[0], 0)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if _, err := a.coordinator(ctx); err != nil {
				return err
			}
			res, err := a.btc.GetRawTransactionVerbose(ctx, args[1])
			if err != nil {
				return err
			}
			raw, err := hex.DecodeString(res.Hex)
			if err != nil {
				return fmt.Errorf("fail to decode tx %s: %w", args[1], err)
			}
			var tx wire.MsgTx
			if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
				return fmt.Errorf("fail to parse tx %s: %w", args[1], err)
			}
			secret, err := swap.ExtractSecret(&tx, h)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"secret": hex.EncodeToString(secret[:])})
		},
	}
}

func waitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wait <txid>",
		Short: "Block until a transaction has the required confirmations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			proof, err := coord.WaitForConfirmations(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, proof)
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <address>",
		Short: "Print the unspent outputs of an address whenever they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := common.NewAddress(args[0], a.net)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if _, err := a.coordinator(ctx); err != nil {
				return err
			}
			err = bitcoin.NewMonitor(a.btc).MonitorAddress(ctx, addr, interval, func(utxos []bitcoin.UTXO) {
				_ = printJSON(cmd, utxos)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "scan interval")
	return cmd
}
