package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/relayer"
	"github.com/btcq-org/qswap/relayer/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func run(ctx context.Context) error {
	configPath := flag.String("config-path", ".relayer", "Directory holding config.json")
	startHeight := flag.Int64("start-height", -1, "Anchor height for an empty ledger, overrides the config")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// handle signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := relayer.GetConfig(*configPath)
	if err != nil {
		return err
	}
	if *startHeight >= 0 {
		cfg.StartHeight = *startHeight
	}

	btc, err := bitcoin.NewBtcClient(cfg.BitcoinConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := btc.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close bitcoin client")
		}
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	l, err := ledger.NewClient(dialCtx, cfg.LedgerURL)
	dialCancel()
	if err != nil {
		return err
	}
	defer l.Close()

	log.Info().
		Str("ledger", cfg.LedgerURL).
		Str("http", cfg.HTTPListenAddress).
		Str("network", cfg.BitcoinConfig.Network).
		Msg("starting header relayer")
	return relayer.NewService(*cfg, l, btc, metrics.NewMetrics()).Run(ctx)
}

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("relayer stopped")
	}
}
