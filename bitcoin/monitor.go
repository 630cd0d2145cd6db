package bitcoin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UTXO is an unspent output seen by the monitor.
type UTXO struct {
	TxID         string         `json:"txid"`
	Vout         uint32         `json:"vout"`
	Amount       btcutil.Amount `json:"amount"`
	Height       int64          `json:"height"`
	ScriptPubKey string         `json:"script_pub_key"`
}

func (u UTXO) key() string {
	return fmt.Sprintf("%s-%d", u.TxID, u.Vout)
}

// Monitor polls the node's UTXO set for watched addresses.
type Monitor struct {
	rpc    RPC
	logger zerolog.Logger
}

func NewMonitor(rpc RPC) *Monitor {
	return &Monitor{
		rpc:    rpc,
		logger: log.With().Str("module", "btc_monitor").Logger(),
	}
}

// Scan returns the current unspent outputs of address, ordered by txid and
// output index.
func (m *Monitor) Scan(ctx context.Context, address common.Address) ([]UTXO, error) {
	res, err := m.rpc.ScanTxOutSet(ctx, []string{address.Descriptor()})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, common.ErrRPCUnavailable.Wrapf("scantxoutset for %s did not complete", address)
	}
	utxos := make([]UTXO, 0, len(res.Unspents))
	for _, u := range res.Unspents {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %f for %s:%d: %w", u.Amount, u.TxID, u.Vout, err)
		}
		utxos = append(utxos, UTXO{
			TxID:         u.TxID,
			Vout:         u.Vout,
			Amount:       amount,
			Height:       u.Height,
			ScriptPubKey: u.ScriptPubKey,
		})
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].key() < utxos[j].key() })
	return utxos, nil
}

// MonitorAddress scans address every interval and calls onUpdate with the
// full UTXO set whenever it differs from the previous scan. Failed scans are
// logged and retried on the next tick. It returns when ctx is done.
func (m *Monitor) MonitorAddress(ctx context.Context, address common.Address, interval time.Duration, onUpdate func([]UTXO)) error {
	if address.IsEmpty() {
		return common.ErrInvalidRequest.Wrap("no address to monitor")
	}
	if interval <= 0 {
		return common.ErrInvalidRequest.Wrapf("monitor interval %s", interval)
	}
	logger := m.logger.With().Str("address", address.String()).Logger()
	logger.Info().Dur("interval", interval).Msg("monitoring address")

	var (
		last   map[string]UTXO
		ticker = time.NewTicker(interval)
	)
	defer ticker.Stop()
	for {
		utxos, err := m.Scan(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).Msg("fail to scan address")
		} else if current := indexUTXOs(utxos); last == nil || !sameUTXOs(last, current) {
			last = current
			onUpdate(utxos)
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("stopped monitoring address")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func indexUTXOs(utxos []UTXO) map[string]UTXO {
	m := make(map[string]UTXO, len(utxos))
	for _, u := range utxos {
		m[u.key()] = u
	}
	return m
}

func sameUTXOs(a, b map[string]UTXO) bool {
	if len(a) != len(b) {
		return false
	}
	for k, u := range a {
		if v, ok := b[k]; !ok || v != u {
			return false
		}
	}
	return true
}
