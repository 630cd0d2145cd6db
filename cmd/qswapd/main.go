// Command qswapd runs the swap ledger: the nullifier registry, block header
// chain and swap state machine behind a JSON-RPC endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/x/swap/keeper"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/btcq-org/qswap/zk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Home          string        `mapstructure:"home"`
	ListenAddress string        `mapstructure:"listen_address"`
	Network       string        `mapstructure:"network"`
	Hasher        hasher.Config `mapstructure:"hasher"`
	// VerifyingKey is a file holding the serialized PLONK verifying key. When
	// set, spends must carry a valid ownership proof.
	VerifyingKey string `mapstructure:"verifying_key"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
}

func main() {
	root := &cobra.Command{
		Use:   "qswapd",
		Short: "Ledger daemon for private BTC swaps",
	}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Serve the ledger JSON-RPC API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	flags := cmd.Flags()
	flags.String("home", defaultHome(), "directory holding config.json and the ledger database")
	flags.String("listen-address", "127.0.0.1:26680", "JSON-RPC listen address")
	flags.String("network", "mainnet", "bitcoin network (mainnet, testnet, regtest, stagenet)")
	flags.String("hasher-url", "", "hash service url, empty uses the built-in MiMC")
	flags.String("hasher-field", hasher.FieldBN254, "prime field of the hash service (bn254, felt252)")
	flags.String("verifying-key", "", "PLONK verifying key file for ownership proofs")
	flags.String("log-level", "info", "log level")
	flags.Bool("log-json", false, "log as json instead of console text")

	for key, flag := range map[string]string{
		"home":           "home",
		"listen_address": "listen-address",
		"network":        "network",
		"hasher.url":     "hasher-url",
		"hasher.field":   "hasher-field",
		"verifying_key":  "verifying-key",
		"log_level":      "log-level",
		"log_json":       "log-json",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qswapd"
	}
	return filepath.Join(home, ".qswapd")
}

// loadConfig layers flags over QSWAPD_* env over the optional config.json in
// home.
func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("QSWAPD")
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(v.GetString("home"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

func initLog(level string, asJSON bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("fail to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	if !asJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func newHasher(cfg hasher.Config) (hasher.Hasher, error) {
	if cfg.URL == "" {
		return hasher.NewMiMC(), nil
	}
	return hasher.NewClient(cfg)
}

func run(ctx context.Context, cfg *Config) error {
	if err := initLog(cfg.LogLevel, cfg.LogJSON); err != nil {
		return err
	}
	net, err := common.ParseChainNetwork(cfg.Network)
	if err != nil {
		return err
	}
	h, err := newHasher(cfg.Hasher)
	if err != nil {
		return fmt.Errorf("fail to create hasher: %w", err)
	}

	var opts []keeper.Option
	if cfg.VerifyingKey != "" {
		raw, err := os.ReadFile(cfg.VerifyingKey)
		if err != nil {
			return fmt.Errorf("fail to read verifying key: %w", err)
		}
		verifier, err := zk.NewVerifierFromBytes(raw)
		if err != nil {
			return err
		}
		opts = append(opts, keeper.WithOwnershipVerifier(verifier))
		log.Info().Str("path", cfg.VerifyingKey).Msg("ownership proofs required")
	}

	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return fmt.Errorf("fail to create home: %w", err)
	}
	l, err := ledger.OpenLocal(filepath.Join(cfg.Home, "data"), h, types.DefaultParams(net), opts...)
	if err != nil {
		return fmt.Errorf("fail to open ledger: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Error().Err(err).Msg("fail to close ledger")
		}
	}()

	rpcServer, err := ledger.NewRPCServer(l)
	if err != nil {
		return fmt.Errorf("fail to create rpc server: %w", err)
	}
	defer rpcServer.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           rpcServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddress).Str("network", net.String()).Msg("ledger listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
