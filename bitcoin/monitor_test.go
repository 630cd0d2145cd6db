package bitcoin

import (
	"context"
	"testing"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorScan(t *testing.T) {
	rpc := newFakeRPC()
	rpc.utxos = [][]ScannedUnspent{{
		{TxID: "bb", Vout: 0, Amount: 0.5, Height: 10},
		{TxID: "aa", Vout: 1, Amount: 0.00001, Height: 9},
	}}
	utxos, err := NewMonitor(rpc).Scan(context.Background(), common.Address("bcrt1qexample"))
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, "aa", utxos[0].TxID)
	assert.Equal(t, btcutil.Amount(1000), utxos[0].Amount)
	assert.Equal(t, btcutil.Amount(50_000_000), utxos[1].Amount)

	rpc.scanErrs = []error{errUnavailable}
	_, err = NewMonitor(rpc).Scan(context.Background(), common.Address("bcrt1qexample"))
	assert.ErrorIs(t, err, common.ErrRPCUnavailable)
}

func TestMonitorAddress(t *testing.T) {
	a := ScannedUnspent{TxID: "aa", Vout: 0, Amount: 0.1, Height: 5}
	b := ScannedUnspent{TxID: "bb", Vout: 2, Amount: 0.2, Height: 6}
	rpc := newFakeRPC()
	rpc.utxos = [][]ScannedUnspent{{a}, {a}, {a, b}}
	// the second poll fails and must not stop the loop
	rpc.scanErrs = []error{nil, errUnavailable}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var updates [][]UTXO
	err := NewMonitor(rpc).MonitorAddress(ctx, common.Address("bcrt1qexample"), 5*time.Millisecond, func(utxos []UTXO) {
		updates = append(updates, utxos)
		if len(updates) == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, updates, 2)
	assert.Len(t, updates[0], 1)
	assert.Len(t, updates[1], 2)

	err = NewMonitor(rpc).MonitorAddress(context.Background(), common.NoAddress, time.Second, func([]UTXO) {})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)

	for _, interval := range []time.Duration{0, -time.Second} {
		err = NewMonitor(rpc).MonitorAddress(context.Background(), common.Address("bcrt1qexample"), interval, func([]UTXO) {})
		assert.ErrorIs(t, err, common.ErrInvalidRequest, "interval %s", interval)
	}
}
