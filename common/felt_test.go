package common

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeltEncoding(t *testing.T) {
	f := NewFeltFromUint64(255)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"ff", f.Hex())
	assert.Equal(t, "255", f.Decimal())
	assert.Len(t, f.Hex(), 66)

	parsed, err := ParseFelt("0xff")
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	parsed, err = ParseFelt("255")
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	parsed, err = ParseFelt("0xf")
	require.NoError(t, err)
	assert.Equal(t, NewFeltFromUint64(15), parsed)

	for _, bad := range []string{"", "0x", "0xzz", "-1", "0x" + strings.Repeat("1", 65), "12a"} {
		_, err := ParseFelt(bad)
		assert.Error(t, err, bad)
	}
}

func TestFeltJSON(t *testing.T) {
	type wrapper struct {
		Value Felt `json:"value"`
	}
	in := wrapper{Value: NewFeltFromUint64(42)}
	buf, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"0x000000`)

	var out wrapper
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.Equal(t, in, out)
}

func TestFeltFieldBounds(t *testing.T) {
	modulus := FieldModulus()
	_, err := NewFeltFromBig(modulus)
	assert.Error(t, err)
	_, err = NewFeltFromBig(big.NewInt(-1))
	assert.Error(t, err)

	below := new(big.Int).Sub(modulus, big.NewInt(1))
	f, err := NewFeltFromBig(below)
	require.NoError(t, err)
	assert.True(t, f.IsValid())

	var over Felt
	modulus.FillBytes(over[:])
	assert.False(t, over.IsValid())
	assert.True(t, over.Reduce().IsZero())

	var ones Felt
	for i := range ones {
		ones[i] = 0xff
	}
	assert.True(t, ones.Reduce().IsValid())
}

func TestRandomFelt(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xff}, 32))
	f, err := RandomFelt(src)
	require.NoError(t, err)
	assert.True(t, f.IsValid())

	_, err = RandomFelt(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	a, err := RandomFelt(nil)
	require.NoError(t, err)
	b, err := RandomFelt(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRandomFeltBelow(t *testing.T) {
	small := big.NewInt(1000)
	for i := 0; i < 64; i++ {
		f, err := RandomFeltBelow(nil, small)
		require.NoError(t, err)
		assert.Equal(t, -1, f.Big().Cmp(small))
	}

	// 0xff bytes are rejected until an in-range draw appears
	src := io.MultiReader(bytes.NewReader(bytes.Repeat([]byte{0xff}, 32)), bytes.NewReader(bytes.Repeat([]byte{0x01}, 32)))
	f, err := RandomFeltBelow(src, FieldModulus())
	require.NoError(t, err)
	assert.True(t, f.IsValid())
	assert.Equal(t, byte(0x01), f[0])

	_, err = RandomFeltBelow(nil, big.NewInt(0))
	assert.Error(t, err)
	_, err = RandomFeltBelow(nil, new(big.Int).Add(FieldModulus(), big.NewInt(1)))
	assert.Error(t, err)
	_, err = RandomFeltBelow(bytes.NewReader([]byte{1}), FieldModulus())
	assert.Error(t, err)
}

func TestChunkBytes31(t *testing.T) {
	header := bytes.Repeat([]byte{0xab}, 80)
	chunks := ChunkBytes31(header)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Zero(t, c[0], "high byte must stay clear")
		assert.True(t, c.IsValid())
	}
	// last chunk carries 80 - 62 = 18 bytes
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 18), chunks[2][14:])

	joined, err := JoinChunks31(chunks, len(header))
	require.NoError(t, err)
	assert.Equal(t, header, joined)

	_, err = JoinChunks31(chunks, 100)
	assert.Error(t, err)
	assert.Empty(t, ChunkBytes31(nil))
}

func TestAmount(t *testing.T) {
	a, err := ParseAmount("100")
	require.NoError(t, err)
	f, err := AmountFelt(a)
	require.NoError(t, err)
	assert.Equal(t, NewFeltFromUint64(100), f)

	_, err = ParseAmount("-5")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount(FieldModulus().String())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	var unset Amount
	assert.ErrorIs(t, ValidateAmount(unset), ErrInvalidAmount)
}

func TestErrorCodes(t *testing.T) {
	err := ErrNullifierAlreadySpent.Wrapf("nullifier %s", NewFeltFromUint64(1))
	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), code)

	rebuilt := FromCode(code, err.Error())
	assert.ErrorIs(t, rebuilt, ErrNullifierAlreadySpent)
	assert.False(t, IsTransient(rebuilt))
	assert.True(t, IsTransient(ErrRPCUnavailable.Wrap("dial tcp: refused")))

	_, ok = ErrorCode(assert.AnError)
	assert.False(t, ok)
}
