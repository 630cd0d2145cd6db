// Command qswap is the swap party's wallet: it keeps private notes, drives
// swaps on the ledger and handles the Bitcoin HTLC side.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/crypter"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/keystore"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/store"
	"github.com/btcq-org/qswap/swap"
	"github.com/btcq-org/qswap/zk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/syndtr/goleveldb/leveldb"
)

// masterKeyName is the keystore entry the local note encryption key derives
// from.
const masterKeyName = "note-master"

type Config struct {
	Home      string `mapstructure:"home"`
	LedgerURL string `mapstructure:"ledger_url"`
	// Identity is the recipient identity notes are committed to.
	Identity string         `mapstructure:"identity"`
	Hasher   hasher.Config  `mapstructure:"hasher"`
	Crypter  crypter.Config `mapstructure:"crypter"`
	// ZKSetup is a file written by `zkprover setup`. When set every spend
	// carries an ownership proof.
	ZKSetup  string         `mapstructure:"zk_setup"`
	Swap     swap.Config    `mapstructure:"swap"`
	Bitcoin  bitcoin.Config `mapstructure:"bitcoin"`
	LogLevel string         `mapstructure:"log_level"`
	Timeout  time.Duration  `mapstructure:"timeout"`
}

func defaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Home:      filepath.Join(home, ".qswap"),
		LedgerURL: "http://127.0.0.1:26680",
		Swap:      swap.DefaultConfig(),
		Bitcoin:   bitcoin.DefaultConfig(),
		LogLevel:  "warn",
		Timeout:   time.Minute,
	}
}

// app holds everything a command may touch. Fields are filled lazily so that
// key management works without a ledger or a node.
type app struct {
	v   *viper.Viper
	cfg Config
	net common.ChainNetwork

	keys   keystore.Keystore
	db     *leveldb.DB
	crypt  crypter.Crypter
	ledger *ledger.Client
	btc    *bitcoin.BtcClient
	coord  *swap.Coordinator
}

func main() {
	a := &app{v: viper.New()}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "qswap",
		Short:         "Private note wallet and BTC swap client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	flags := root.PersistentFlags()
	flags.String("home", defaultConfig().Home, "wallet directory holding config.json, keys and notes")
	flags.String("ledger-url", "", "ledger JSON-RPC endpoint")
	flags.String("identity", "", "recipient identity felt of this wallet")
	flags.String("log-level", "", "log level")
	for key, flag := range map[string]string{
		"home":       "home",
		"ledger_url": "ledger-url",
		"identity":   "identity",
		"log_level":  "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		keysCmd(a),
		noteCmd(a),
		swapCmd(a),
		htlcCmd(a),
	)
	return root
}

// loadConfig layers flags over QSWAP_* env over config.json in home over the
// defaults.
func (a *app) loadConfig() error {
	def := defaultConfig()
	a.v.SetDefault("ledger_url", def.LedgerURL)
	a.v.SetDefault("log_level", def.LogLevel)
	a.v.SetDefault("timeout", def.Timeout)
	a.v.SetEnvPrefix("QSWAP")
	a.v.AutomaticEnv()
	a.v.SetConfigName("config")
	a.v.SetConfigType("json")
	a.v.AddConfigPath(a.v.GetString("home"))
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	a.cfg = def
	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("unable to decode into struct: %w", err)
	}

	lvl, err := zerolog.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("fail to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	a.net, err = a.cfg.Bitcoin.ChainNetwork()
	return err
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.cfg.Timeout)
}

func (a *app) keystore() (keystore.Keystore, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	ks, err := keystore.NewFileKeyStore(filepath.Join(a.cfg.Home, "keys"))
	if err != nil {
		return nil, fmt.Errorf("fail to open keystore: %w", err)
	}
	a.keys = ks
	return ks, nil
}

func (a *app) identity() (common.Felt, error) {
	if a.cfg.Identity == "" {
		return common.ZeroFelt, common.ErrInvalidRequest.Wrap("no identity configured, set --identity")
	}
	return common.ParseFelt(a.cfg.Identity)
}

func (a *app) crypter() (crypter.Crypter, error) {
	if a.crypt != nil {
		return a.crypt, nil
	}
	if a.cfg.Crypter.URL != "" {
		c, err := crypter.NewClient(a.cfg.Crypter)
		if err != nil {
			return nil, err
		}
		a.crypt = c
		return c, nil
	}
	ks, err := a.keystore()
	if err != nil {
		return nil, err
	}
	master, err := keystore.GetOrCreateKey(ks, masterKeyName)
	if err != nil {
		return nil, err
	}
	c, err := crypter.NewLocal(master.Serialize())
	if err != nil {
		return nil, err
	}
	a.crypt = c
	return c, nil
}

func (a *app) hasher() (hasher.Hasher, error) {
	if a.cfg.Hasher.URL == "" {
		return hasher.NewMiMC(), nil
	}
	return hasher.NewClient(a.cfg.Hasher)
}

// coordinator opens the wallet database, the ledger and the node.
func (a *app) coordinator(ctx context.Context) (*swap.Coordinator, error) {
	if a.coord != nil {
		return a.coord, nil
	}
	h, err := a.hasher()
	if err != nil {
		return nil, fmt.Errorf("fail to create hasher: %w", err)
	}
	c, err := a.crypter()
	if err != nil {
		return nil, err
	}
	if a.db == nil {
		db, err := store.NewLevelDB(filepath.Join(a.cfg.Home, "wallet"), false)
		if err != nil {
			return nil, err
		}
		a.db = db
	}
	acc := merkle.NewAccumulator(h, merkle.NewKVLeafStore(a.db, "leaf/"))
	engine := note.NewEngine(h, acc, note.NewLevelDBStore(a.db, c))

	a.ledger, err = ledger.NewClient(ctx, a.cfg.LedgerURL)
	if err != nil {
		return nil, err
	}
	a.btc, err = bitcoin.NewBtcClient(a.cfg.Bitcoin)
	if err != nil {
		return nil, err
	}

	var opts []swap.Option
	if a.cfg.ZKSetup != "" {
		setup, err := zk.LoadSetupFile(a.cfg.ZKSetup)
		if err != nil {
			return nil, err
		}
		opts = append(opts, swap.WithOwnershipProver(zk.ProverFromSetup(setup)))
	}
	a.coord = swap.NewCoordinator(a.cfg.Swap, a.ledger, a.btc, engine, a.net, opts...)
	return a.coord, nil
}

func (a *app) close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.btc != nil {
		_ = a.btc.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Error().Err(err).Msg("fail to close wallet database")
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(buf))
	return err
}
