package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/swap"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/spf13/cobra"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	secretPurpose = "htlc_secret"
	secretPrefix  = "htlc/"
)

// saveSecret keeps the HTLC secret of a swap this wallet initiated, sealed
// like the notes are.
func (a *app) saveSecret(ctx context.Context, swapID common.Felt, secret [32]byte) error {
	c, err := a.crypter()
	if err != nil {
		return err
	}
	sealed, err := c.Encrypt(ctx, secret[:], secretPurpose)
	if err != nil {
		return fmt.Errorf("fail to seal secret: %w", err)
	}
	return a.db.Put(store.Key(secretPrefix, swapID[:]), []byte(sealed), nil)
}

func (a *app) loadSecret(ctx context.Context, swapID common.Felt) ([32]byte, error) {
	var secret [32]byte
	raw, err := a.db.Get(store.Key(secretPrefix, swapID[:]), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return secret, common.ErrNotFound.Wrapf("no secret stored for swap %s", swapID)
	} else if err != nil {
		return secret, err
	}
	c, err := a.crypter()
	if err != nil {
		return secret, err
	}
	plain, err := c.Decrypt(ctx, string(raw), secretPurpose)
	if err != nil {
		return secret, fmt.Errorf("fail to open secret: %w", err)
	}
	if len(plain) != len(secret) {
		return secret, fmt.Errorf("stored secret is %d bytes", len(plain))
	}
	copy(secret[:], plain)
	return secret, nil
}

// secretArg takes the secret from a flag, falling back to the one stored at
// initiation.
func (a *app) secretArg(ctx context.Context, swapID common.Felt, flag string) ([32]byte, error) {
	if flag == "" {
		return a.loadSecret(ctx, swapID)
	}
	return types.DecodeHash32("secret", flag)
}

func parseSwapID(s string) (common.Felt, error) {
	id, err := common.ParseFelt(s)
	if err != nil {
		return common.ZeroFelt, common.ErrInvalidRequest.Wrapf("swap id: %s", err)
	}
	return id, nil
}

type swapView struct {
	*types.Swap
	Output *noteView `json:"output,omitempty"`
}

func viewSwap(s *types.Swap, out *noteView) swapView {
	return swapView{Swap: s, Output: out}
}

func swapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Drive swaps on the ledger",
	}
	cmd.AddCommand(
		initiateCmd(a),
		lockCmd(a),
		completeCmd(a),
		refundCmd(a),
		statusCmd(a),
	)
	return cmd
}

func initiateCmd(a *app) *cobra.Command {
	var (
		recipient string
		timelock  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "initiate <note-commitment>",
		Short: "Lock a note into a new swap for recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commitment, err := common.ParseFelt(args[0])
			if err != nil {
				return err
			}
			to, err := common.ParseFelt(recipient)
			if err != nil {
				return common.ErrInvalidRequest.Wrapf("recipient: %s", err)
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			n, err := coord.Engine().Load(ctx, commitment)
			if err != nil {
				return err
			}
			res, err := coord.Initiate(ctx, swap.InitiateRequest{
				Note:      n,
				Recipient: to,
				Timelock:  timelock,
			})
			if err != nil {
				return err
			}
			if err := a.saveSecret(ctx, res.Swap.SwapID, res.Secret); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"swap":                 res.Swap,
				"secret":               hex.EncodeToString(res.Secret[:]),
				"recipient_commitment": res.RecipientCommitment,
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient identity felt")
	cmd.Flags().DurationVar(&timelock, "timelock", 0, "swap timelock, zero uses the ledger default")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func lockCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "lock <swap-id> <funding-txid>",
		Short: "Lock a swap with the confirmed Bitcoin funding transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := parseSwapID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			if wait {
				cancel()
				ctx, cancel = context.WithCancel(cmd.Context())
			}
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			if wait {
				if _, err := coord.WaitForConfirmations(ctx, args[1]); err != nil {
					return err
				}
			}
			s, err := coord.Lock(ctx, swapID, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the required confirmations first")
	return cmd
}

func completeCmd(a *app) *cobra.Command {
	var (
		secretHex string
		amount    string
	)
	cmd := &cobra.Command{
		Use:   "complete <swap-id>",
		Short: "Claim the recipient note of a locked swap into a fresh note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := parseSwapID(args[0])
			if err != nil {
				return err
			}
			value, err := common.ParseAmount(amount)
			if err != nil {
				return err
			}
			me, err := a.identity()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			secret, err := a.secretArg(ctx, swapID, secretHex)
			if err != nil {
				return err
			}
			res, err := coord.Complete(ctx, swap.CompleteRequest{
				SwapID:    swapID,
				Secret:    secret,
				Recipient: me,
				Amount:    value,
			})
			if err != nil {
				return err
			}
			out := viewNote(res.Output)
			return printJSON(cmd, viewSwap(res.Swap, &out))
		},
	}
	cmd.Flags().StringVar(&secretHex, "secret", "", "hex HTLC secret, as revealed by the Bitcoin claim")
	cmd.Flags().StringVar(&amount, "amount", "", "swapped amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func refundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <swap-id>",
		Short: "Refund an expired swap to a fresh note of its initiator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := parseSwapID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			res, err := coord.Refund(ctx, swap.RefundRequest{SwapID: swapID})
			if err != nil {
				return err
			}
			out := viewNote(res.Output)
			return printJSON(cmd, viewSwap(res.Swap, &out))
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <swap-id>",
		Short: "Show the ledger state of a swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := parseSwapID(args[0])
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
			return printJSON(cmd, s)
		},
	}
}
