package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcq-org/qswap/keystore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"
)

type keyInfo struct {
	Name    string `json:"name"`
	PubKey  string `json:"pub_key"`
	Address string `json:"address"`
}

func keysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the secp256k1 keys used for Bitcoin HTLCs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Create a key, or show it if it already exists",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ks, err := a.keystore()
				if err != nil {
					return err
				}
				if _, err := keystore.GetOrCreateKey(ks, args[0]); err != nil {
					return err
				}
				return a.showKey(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Print the public key and P2WPKH address of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.showKey(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List key names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ks, err := a.keystore()
				if err != nil {
					return err
				}
				names, err := ks.List()
				if err != nil {
					return err
				}
				return printJSON(cmd, names)
			},
		},
	)
	return cmd
}

func (a *app) showKey(cmd *cobra.Command, name string) error {
	ks, err := a.keystore()
	if err != nil {
		return err
	}
	stored, err := ks.Get(name)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return fmt.Errorf("no key named %q, create it with `qswap keys add`", name)
	} else if err != nil {
		return err
	}
	priv, err := stored.ECPrivKey()
	if err != nil {
		return err
	}
	pub := priv.PubKey().SerializeCompressed()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), a.net.BitcoinParams())
	if err != nil {
		return err
	}
	return printJSON(cmd, keyInfo{
		Name:    name,
		PubKey:  hex.EncodeToString(pub),
		Address: addr.EncodeAddress(),
	})
}
