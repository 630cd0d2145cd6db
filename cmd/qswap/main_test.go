package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/crypter"
	"github.com/btcq-org/qswap/store"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	a := &app{v: viper.New()}
	defer a.close()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestKeysCommands(t *testing.T) {
	home := t.TempDir()

	var created keyInfo
	require.NoError(t, json.Unmarshal([]byte(execute(t, "--home", home, "keys", "add", "alice")), &created))
	assert.Equal(t, "alice", created.Name)
	assert.Len(t, created.PubKey, 66)
	assert.True(t, strings.HasPrefix(created.Address, "bc1q"), created.Address)

	// adding again returns the same key
	var again keyInfo
	require.NoError(t, json.Unmarshal([]byte(execute(t, "--home", home, "keys", "add", "alice")), &again))
	assert.Equal(t, created, again)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(execute(t, "--home", home, "keys", "list")), &names))
	assert.Equal(t, []string{"alice"}, names)

	a := &app{v: viper.New()}
	root := newRootCmd(a)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--home", home, "keys", "show", "bob"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no key named "bob"`)
}

func TestStoredSecrets(t *testing.T) {
	db, err := store.NewLevelDB("", false)
	require.NoError(t, err)
	defer db.Close()
	c, err := crypter.NewLocal(bytes.Repeat([]byte{7}, crypter.MasterKeySize))
	require.NoError(t, err)
	a := &app{db: db, crypt: c}
	ctx := context.Background()

	swapID := common.NewFeltFromUint64(42)
	secret := sha256.Sum256([]byte("htlc secret"))
	require.NoError(t, a.saveSecret(ctx, swapID, secret))

	raw, err := db.Get(store.Key(secretPrefix, swapID[:]), nil)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), hex.EncodeToString(secret[:]))

	got, err := a.secretArg(ctx, swapID, "")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	_, err = a.loadSecret(ctx, common.NewFeltFromUint64(43))
	assert.ErrorIs(t, err, common.ErrNotFound)

	fromFlag, err := a.secretArg(ctx, common.NewFeltFromUint64(43), hex.EncodeToString(secret[:]))
	require.NoError(t, err)
	assert.Equal(t, secret, fromFlag)

	_, err = a.secretArg(ctx, swapID, "zz")
	assert.Error(t, err)
}

func TestLoadHTLC(t *testing.T) {
	a := &app{net: common.MockNet}
	recipient, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	refund, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("secret"))

	h, err := bitcoin.NewHTLC(hash, recipient.PubKey().SerializeCompressed(), refund.PubKey().SerializeCompressed(),
		800_000, 25_000, common.MockNet.BitcoinParams())
	require.NoError(t, err)

	loaded, err := a.loadHTLC(hex.EncodeToString(h.Script), 25_000)
	require.NoError(t, err)
	assert.Equal(t, h, loaded)
	assert.True(t, strings.HasPrefix(loaded.Address, "bcrt1"))

	view := viewHTLC(loaded)
	assert.Equal(t, hex.EncodeToString(hash[:]), view.SecretHash)
	assert.Equal(t, int64(25_000), view.Amount)

	_, err = a.loadHTLC("not hex", 1)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = a.loadHTLC("0051", 1)
	assert.Error(t, err)
}
