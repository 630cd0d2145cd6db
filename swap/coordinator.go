// Package swap drives atomic swaps between private notes and Bitcoin HTLCs.
// The ledger holds the authoritative swap state; the coordinator prepares
// proofs for it and watches the Bitcoin side.
package swap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/ledger"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/x/swap/types"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Coordinator struct {
	cfg     Config
	ledger  ledger.Ledger
	btc     bitcoin.RPC
	spv     *bitcoin.SPVVerifier
	engine  *note.Engine
	builder *note.SpendProofBuilder
	prover  note.OwnershipProver
	params  *chaincfg.Params
	random  io.Reader
	logger  zerolog.Logger
}

type Option func(*Coordinator)

// WithOwnershipProver attaches an ownership proof to every spend.
func WithOwnershipProver(p note.OwnershipProver) Option {
	return func(c *Coordinator) { c.prover = p }
}

func WithRandom(r io.Reader) Option {
	return func(c *Coordinator) { c.random = r }
}

func NewCoordinator(cfg Config, l ledger.Ledger, btc bitcoin.RPC, engine *note.Engine, net common.ChainNetwork, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:    cfg,
		ledger: l,
		btc:    btc,
		engine: engine,
		params: net.BitcoinParams(),
		random: rand.Reader,
		logger: log.With().Str("module", "swap").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.spv = bitcoin.NewSPVVerifier(btc, bitcoin.WithRetry(cfg.RetryAttempts, cfg.RetryMaxWait))
	builderOpts := []note.BuilderOption{note.WithNullifierChecker(l)}
	if c.prover != nil {
		builderOpts = append(builderOpts, note.WithOwnershipProver(c.prover))
	}
	c.builder = note.NewSpendProofBuilder(engine.Hasher(), engine.Accumulator(), builderOpts...)
	return c
}

func (c *Coordinator) Engine() *note.Engine {
	return c.engine
}

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.cfg.RetryMaxWait
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.RetryAttempts), ctx)
}

// read retries an idempotent ledger read on transient failures.
func (c *Coordinator) read(ctx context.Context, name string, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !common.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.newBackOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("call", name).Dur("wait", wait).Msg("transient ledger failure, retrying")
	})
}

// mutate submits a ledger mutation. A transient failure can hide a mutation
// that did apply, so applied is consulted before every resubmission.
func (c *Coordinator) mutate(ctx context.Context, name string, submit func() error, applied func() (bool, error)) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		if attempt > 1 {
			ok, err := applied()
			if err != nil {
				if common.IsTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			if ok {
				c.logger.Info().Str("call", name).Int("attempt", attempt).Msg("ledger already applied the call")
				return nil
			}
		}
		err := submit()
		if err != nil && !common.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.newBackOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("call", name).Dur("wait", wait).Msg("transient ledger failure, checking state before resubmitting")
	})
}

// SyncLeaves pulls ledger leaves the local accumulator is missing and
// returns how many were appended.
func (c *Coordinator) SyncLeaves(ctx context.Context) (int, error) {
	total := 0
	for {
		local, err := c.engine.Accumulator().Len()
		if err != nil {
			return total, err
		}
		var leaves []common.Felt
		err = c.read(ctx, "getLeaves", func() error {
			var err error
			leaves, err = c.ledger.GetLeaves(ctx, local, 0)
			return err
		})
		if err != nil {
			return total, err
		}
		if len(leaves) == 0 {
			return total, nil
		}
		n, err := c.engine.SyncLeaves(ctx, local, leaves)
		total += n
		if err != nil {
			return total, err
		}
	}
}

// CommitNote creates a note of amount for owner and publishes it. The local
// copy is stored once the ledger has placed the commitment.
func (c *Coordinator) CommitNote(ctx context.Context, amount common.Amount, owner common.Felt) (*note.Note, error) {
	n, err := c.freshNote(ctx, amount, owner)
	if err != nil {
		return nil, err
	}
	var before uint64
	if err := c.read(ctx, "getTreeSize", func() error {
		var err error
		before, err = c.ledger.GetTreeSize(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	err = c.mutate(ctx, "commitNote", func() error {
		_, err := c.ledger.CommitNote(ctx, &types.MsgCommitNote{
			Commitment: n.Commitment,
			BindingKey: note.BindingPubKey(n.Secret),
		})
		return err
	}, func() (bool, error) {
		return c.ledgerHasLeaf(ctx, before, n.Commitment)
	})
	if err != nil {
		return nil, err
	}
	return c.adopt(ctx, amount, owner, n.Secret)
}

func (c *Coordinator) ledgerHasLeaf(ctx context.Context, from uint64, leaf common.Felt) (bool, error) {
	for {
		leaves, err := c.ledger.GetLeaves(ctx, from, 0)
		if err != nil {
			return false, err
		}
		for _, l := range leaves {
			if l == leaf {
				return true, nil
			}
		}
		if len(leaves) == 0 {
			return false, nil
		}
		from += uint64(len(leaves))
	}
}

// freshNote opens an unpublished note of amount for owner under a new secret.
func (c *Coordinator) freshNote(ctx context.Context, amount common.Amount, owner common.Felt) (*note.Note, error) {
	secret, err := hasher.RandomFelt(c.engine.Hasher(), c.random)
	if err != nil {
		return nil, err
	}
	return c.engine.RecomputeNote(ctx, amount, owner, secret)
}

// adopt stores a note whose commitment the ledger already holds, at the
// ledger's leaf index.
func (c *Coordinator) adopt(ctx context.Context, amount common.Amount, owner, secret common.Felt) (*note.Note, error) {
	if _, err := c.SyncLeaves(ctx); err != nil {
		return nil, fmt.Errorf("fail to sync leaves: %w", err)
	}
	n, err := c.engine.RecomputeNote(ctx, amount, owner, secret)
	if err != nil {
		return nil, err
	}
	if _, ok, err := c.engine.Accumulator().Contains(n.Commitment); err != nil {
		return nil, err
	} else if !ok {
		return nil, common.ErrNotFound.Wrapf("commitment %s is not on the ledger", n.Commitment)
	}
	if existing, err := c.engine.Load(ctx, n.Commitment); err == nil {
		return existing, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return c.engine.ImportNote(ctx, amount, owner, secret)
}

func (c *Coordinator) getSwap(ctx context.Context, swapID common.Felt) (*types.Swap, error) {
	var swap *types.Swap
	err := c.read(ctx, "getSwap", func() error {
		var err error
		swap, err = c.ledger.GetSwap(ctx, swapID)
		return err
	})
	return swap, err
}

// GetSwap reads the ledger's record of a swap.
func (c *Coordinator) GetSwap(ctx context.Context, swapID common.Felt) (*types.Swap, error) {
	return c.getSwap(ctx, swapID)
}
