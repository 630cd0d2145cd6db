package bitcoin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type htlcFixture struct {
	params    *chaincfg.Params
	recipient *btcec.PrivateKey
	refund    *btcec.PrivateKey
	secret    [32]byte
	htlc      *HTLC
	prevOut   wire.OutPoint
	value     btcutil.Amount
	dest      btcutil.Address
}

func newHTLCFixture(t *testing.T) *htlcFixture {
	t.Helper()
	f := &htlcFixture{
		params:  &chaincfg.RegressionNetParams,
		secret:  [32]byte{1, 2, 3, 4},
		prevOut: wire.OutPoint{Hash: chainhash.HashH([]byte("funding")), Index: 1},
		value:   100_000,
	}
	var err error
	f.recipient, err = btcec.NewPrivateKey()
	require.NoError(t, err)
	f.refund, err = btcec.NewPrivateKey()
	require.NoError(t, err)
	hash := sha256.Sum256(f.secret[:])
	f.htlc, err = NewHTLC(hash, f.recipient.PubKey().SerializeCompressed(), f.refund.PubKey().SerializeCompressed(), 500, f.value, f.params)
	require.NoError(t, err)
	f.dest, err = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(f.recipient.PubKey().SerializeCompressed()), f.params)
	require.NoError(t, err)
	return f
}

// execute runs the script engine over input 0 of tx.
func (f *htlcFixture) execute(t *testing.T, tx *wire.MsgTx) error {
	t.Helper()
	pkScript, err := f.htlc.PkScript(f.params)
	require.NoError(t, err)
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(f.value))
	vm, err := txscript.NewEngine(pkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), int64(f.value), fetcher)
	require.NoError(t, err)
	return vm.Execute()
}

func TestHTLCScriptRoundTrip(t *testing.T) {
	f := newHTLCFixture(t)
	assert.True(t, strings.HasPrefix(f.htlc.Address, "bcrt1q"))

	parsed, err := ParseHTLCScript(f.htlc.Script)
	require.NoError(t, err)
	assert.Equal(t, f.htlc.SecretHash, parsed.SecretHash)
	assert.Equal(t, f.htlc.RecipientPubKey, parsed.RecipientPubKey)
	assert.Equal(t, f.htlc.RefundPubKey, parsed.RefundPubKey)
	assert.Equal(t, uint32(500), parsed.Locktime)

	for _, locktime := range []uint32{1, 16, 17, 127, 128, 255, 65535, 1_700_000_000, 0xffffffff} {
		script, err := CreateHTLCScript(f.htlc.SecretHash, f.htlc.RecipientPubKey, f.htlc.RefundPubKey, locktime)
		require.NoError(t, err)
		parsed, err := ParseHTLCScript(script)
		require.NoError(t, err, "locktime %d", locktime)
		assert.Equal(t, locktime, parsed.Locktime)
	}

	mainnet, err := NewHTLC(f.htlc.SecretHash, f.htlc.RecipientPubKey, f.htlc.RefundPubKey, 500, f.value, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mainnet.Address, "bc1q"))
	assert.Equal(t, f.htlc.Script, mainnet.Script)
}

func TestHTLCScriptRejects(t *testing.T) {
	f := newHTLCFixture(t)
	good := f.htlc.Script

	_, err := CreateHTLCScript(f.htlc.SecretHash, f.htlc.RecipientPubKey[:32], f.htlc.RefundPubKey, 10)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = CreateHTLCScript(f.htlc.SecretHash, f.htlc.RecipientPubKey, f.refund.PubKey().SerializeUncompressed(), 10)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = CreateHTLCScript(f.htlc.SecretHash, f.htlc.RecipientPubKey, f.htlc.RefundPubKey, 0)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = NewHTLC(f.htlc.SecretHash, f.htlc.RecipientPubKey, f.htlc.RefundPubKey, 10, 0, f.params)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	for name, script := range map[string][]byte{
		"empty":     nil,
		"trailing":  append(bytes.Clone(good), txscript.OP_NOP),
		"truncated": good[:len(good)-1],
		"swapped":   append([]byte{txscript.OP_NOTIF}, good[1:]...),
		"p2pkh":     {txscript.OP_DUP, txscript.OP_HASH160},
	} {
		_, err := ParseHTLCScript(script)
		assert.ErrorIs(t, err, common.ErrInvalidRequest, name)
	}
}

func TestCreateHTLCTransaction(t *testing.T) {
	f := newHTLCFixture(t)
	h, secret, err := CreateHTLCTransaction(f.htlc.RecipientPubKey, f.htlc.RefundPubKey, 700, 5000, nil, f.params, bytes.NewReader(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, [32]byte(bytes.Repeat([]byte{7}, 32)), *secret)
	assert.Equal(t, sha256.Sum256(secret[:]), h.SecretHash)

	given := sha256.Sum256([]byte("counterparty"))
	h, secret, err = CreateHTLCTransaction(f.htlc.RecipientPubKey, f.htlc.RefundPubKey, 700, 5000, &given, f.params, nil)
	require.NoError(t, err)
	assert.Nil(t, secret)
	assert.Equal(t, given, h.SecretHash)
}

func TestHTLCClaim(t *testing.T) {
	f := newHTLCFixture(t)
	tx, err := BuildHTLCSpendTx(f.htlc, ClaimPath, f.prevOut, f.value, f.dest, 10_000)
	require.NoError(t, err)
	assert.Less(t, tx.TxOut[0].Value, int64(f.value))
	assert.Greater(t, tx.TxOut[0].Value, int64(f.value)-10_000)

	claimSig, err := SignHTLCInput(tx, 0, f.htlc, f.value, f.recipient, f.params)
	require.NoError(t, err)
	tx.TxIn[0].Witness = ClaimWitness(claimSig, f.secret, f.htlc.Script)
	require.NoError(t, f.execute(t, tx))

	// wrong preimage
	tx.TxIn[0].Witness = ClaimWitness(claimSig, [32]byte{9}, f.htlc.Script)
	assert.Error(t, f.execute(t, tx))

	// the refund key cannot use the claim branch
	sig, err := SignHTLCInput(tx, 0, f.htlc, f.value, f.refund, f.params)
	require.NoError(t, err)
	tx.TxIn[0].Witness = ClaimWitness(sig, f.secret, f.htlc.Script)
	assert.Error(t, f.execute(t, tx))

	rpc := newFakeRPC()
	tx.TxIn[0].Witness = ClaimWitness(claimSig, f.secret, f.htlc.Script)
	txid, err := Broadcast(context.Background(), rpc, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), txid)
	assert.Len(t, rpc.sent, 1)
}

func TestHTLCRefund(t *testing.T) {
	f := newHTLCFixture(t)
	tx, err := BuildHTLCSpendTx(f.htlc, RefundPath, f.prevOut, f.value, f.dest, 10_000)
	require.NoError(t, err)
	assert.Equal(t, f.htlc.Locktime, tx.LockTime)
	assert.Less(t, tx.TxIn[0].Sequence, wire.MaxTxInSequenceNum)

	sig, err := SignHTLCInput(tx, 0, f.htlc, f.value, f.refund, f.params)
	require.NoError(t, err)
	tx.TxIn[0].Witness = RefundWitness(sig, f.htlc.Script)
	require.NoError(t, f.execute(t, tx))

	// before the locktime
	early := tx.Copy()
	early.LockTime = f.htlc.Locktime - 1
	sig, err = SignHTLCInput(early, 0, f.htlc, f.value, f.refund, f.params)
	require.NoError(t, err)
	early.TxIn[0].Witness = RefundWitness(sig, f.htlc.Script)
	assert.Error(t, f.execute(t, early))

	// the recipient key cannot refund
	sig, err = SignHTLCInput(tx, 0, f.htlc, f.value, f.recipient, f.params)
	require.NoError(t, err)
	tx.TxIn[0].Witness = RefundWitness(sig, f.htlc.Script)
	assert.Error(t, f.execute(t, tx))
}

func TestBuildHTLCSpendTxDust(t *testing.T) {
	f := newHTLCFixture(t)
	_, err := BuildHTLCSpendTx(f.htlc, ClaimPath, f.prevOut, 1_000, f.dest, 10_000)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestFeeRateFromNode(t *testing.T) {
	rate, err := FeeRateFromNode(context.Background(), newFakeRPC(), 6)
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(20_000), rate)
}
