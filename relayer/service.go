// Package relayer keeps the ledger's Bitcoin header chain in step with a
// bitcoind node.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/relayer/metrics"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service represents the relayer service
// it polls the node and submits every new header to the ledger
type Service struct {
	cfg    Config
	logger zerolog.Logger
	ledger ledger.Ledger
	spv    *bitcoin.SPVVerifier

	// http server
	hs *http.Server

	// metrics
	metrics *metrics.Metrics

	statusLk sync.RWMutex
	status   Status
}

// Status is what the relayer last saw.
type Status struct {
	NodeHeight   int64     `json:"node_height"`
	LedgerHeight int64     `json:"ledger_height"`
	LastPoll     time.Time `json:"last_poll"`
	LastError    string    `json:"last_error,omitempty"`
}

func NewService(cfg Config, l ledger.Ledger, btc bitcoin.RPC, m *metrics.Metrics) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Service{
		cfg:     cfg,
		logger:  log.With().Str("module", "relayer").Logger(),
		ledger:  l,
		spv:     bitcoin.NewSPVVerifier(btc, bitcoin.WithRetry(cfg.BitcoinConfig.RetryAttempts, cfg.BitcoinConfig.RetryMaxWait)),
		hs:      &http.Server{Addr: cfg.HTTPListenAddress, ReadHeaderTimeout: 5 * time.Second},
		metrics: m,
	}
}

// Run relays headers and serves /health, /status and /metrics until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	mux := s.registerRoutes()
	metrics.RegisterHandlers(mux)
	s.hs.Handler = mux

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", s.hs.Addr).Msg("http server started")
		if err := s.hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("fail to serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.hs.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shutdown http server")
		} else {
			s.logger.Info().Msg("http server shutdown")
		}
		return nil
	})
	g.Go(func() error {
		s.relay(ctx)
		return nil
	})
	return g.Wait()
}

func (s *Service) relay(ctx context.Context) {
	s.logger.Info().Dur("interval", s.cfg.PollInterval).Msg("starting to relay bitcoin headers")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		pollCtx, cancel := context.WithTimeout(ctx, 2*s.cfg.PollInterval+10*time.Second)
		n, err := s.Sync(pollCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("failed to relay headers")
		} else if n > 0 {
			s.logger.Info().Int("submitted", n).Msg("relayed headers")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutting down header relay")
			return
		case <-ticker.C:
		}
	}
}

// Sync submits the node's headers above the ledger tip. When the ledger's tip
// is no longer on the node's main chain it walks back to the highest height
// where both agree and resubmits the node's branch from there.
func (s *Service) Sync(ctx context.Context) (int, error) {
	s.metrics.IncrCounter(metrics.MetricNamePolls)
	n, err := s.sync(ctx)
	s.statusLk.Lock()
	s.status.LastPoll = time.Now().UTC()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.statusLk.Unlock()
	return n, err
}

func (s *Service) sync(ctx context.Context) (int, error) {
	tip, err := s.spv.TipHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("fail to get node height: %w", err)
	}
	s.setHeights(tip, -1)

	ledgerTip, err := s.ledger.GetLatestHeight(ctx)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return s.anchor(ctx, tip)
	case err != nil:
		return 0, fmt.Errorf("fail to get ledger height: %w", err)
	}
	s.setHeights(tip, ledgerTip)

	from := ledgerTip + 1
	agree, err := s.agrees(ctx, min(ledgerTip, tip))
	if err != nil {
		return 0, err
	}
	if !agree {
		fork, err := s.findForkPoint(ctx, min(ledgerTip, tip))
		if err != nil {
			return 0, err
		}
		s.logger.Warn().Int64("fork_height", fork).Int64("ledger_tip", ledgerTip).Int64("node_tip", tip).Msg("node switched branches, resubmitting")
		s.metrics.IncrCounter(metrics.MetricNameReorgs)
		from = fork + 1
	}

	submitted := 0
	rewound := !agree
	for h := from; h <= tip && int64(submitted) < s.cfg.BatchSize; h++ {
		err := s.submit(ctx, h)
		if errors.Is(err, common.ErrChainContinuityViolation) && !rewound {
			// the node reorganised while we were relaying
			fork, ferr := s.findForkPoint(ctx, h-1)
			if ferr != nil {
				return submitted, ferr
			}
			s.metrics.IncrCounter(metrics.MetricNameReorgs)
			rewound = true
			h = fork
			continue
		}
		if err != nil {
			return submitted, err
		}
		submitted++
	}
	if submitted > 0 {
		if ledgerTip, err = s.ledger.GetLatestHeight(ctx); err == nil {
			s.setHeights(tip, ledgerTip)
		}
	}
	return submitted, nil
}

// anchor checkpoints an empty ledger at the configured start height.
func (s *Service) anchor(ctx context.Context, tip int64) (int, error) {
	start := s.cfg.StartHeight
	if start <= 0 || start > tip {
		start = tip
	}
	s.logger.Info().Int64("height", start).Msg("anchoring ledger header chain")
	submitted := 0
	for h := start; h <= tip && int64(submitted) < s.cfg.BatchSize; h++ {
		if err := s.submit(ctx, h); err != nil {
			return submitted, err
		}
		submitted++
	}
	s.setHeights(tip, start+int64(submitted)-1)
	return submitted, nil
}

func (s *Service) submit(ctx context.Context, height int64) error {
	header, err := s.spv.HeaderAt(ctx, height)
	if err != nil {
		return fmt.Errorf("fail to get header at %d: %w", height, err)
	}
	msg, err := types.NewMsgSubmitBlockHeader(header)
	if err != nil {
		return err
	}
	if _, err := s.ledger.SubmitBlockHeader(ctx, msg); err != nil {
		s.metrics.IncrCounter(metrics.MetricNameSubmissionErrors)
		return fmt.Errorf("fail to submit header %s at %d: %w", header.Hash, height, err)
	}
	s.metrics.IncrCounter(metrics.MetricNameHeadersSubmitted)
	s.logger.Debug().Str("hash", header.Hash).Int64("height", height).Msg("header submitted")
	return nil
}

// agrees reports whether node and ledger main chains hold the same header at
// height.
func (s *Service) agrees(ctx context.Context, height int64) (bool, error) {
	onLedger, err := s.ledger.GetBlockHeader(ctx, height)
	if err != nil {
		return false, err
	}
	onNode, err := s.spv.HeaderAt(ctx, height)
	if err != nil {
		return false, err
	}
	return onLedger.Hash == onNode.Hash, nil
}

// findForkPoint walks back from height to the highest height where node and
// ledger agree, at most MaxReorgDepth blocks.
func (s *Service) findForkPoint(ctx context.Context, height int64) (int64, error) {
	for h := height; h >= 0 && h >= height-s.cfg.MaxReorgDepth; h-- {
		ok, err := s.agrees(ctx, h)
		if errors.Is(err, common.ErrNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}
		if ok {
			return h, nil
		}
	}
	return 0, common.ErrChainContinuityViolation.Wrapf("node and ledger disagree at every height from %d down to %d", height, max(height-s.cfg.MaxReorgDepth, 0))
}

func (s *Service) setHeights(node, ledgerHeight int64) {
	s.statusLk.Lock()
	defer s.statusLk.Unlock()
	s.status.NodeHeight = node
	s.metrics.SetGauge(metrics.MetricNameNodeHeight, float64(node))
	if ledgerHeight >= 0 {
		s.status.LedgerHeight = ledgerHeight
		s.metrics.SetGauge(metrics.MetricNameLedgerHeight, float64(ledgerHeight))
	}
}

func (s *Service) Status() Status {
	s.statusLk.RLock()
	defer s.statusLk.RUnlock()
	return s.status
}
