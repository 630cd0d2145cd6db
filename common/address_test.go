package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	_, err := NewAddress("1lejrrtta9cgr49fuh7ktu3sddhe0ff7wenlpn6", MainNet)
	assert.NotNil(t, err)
	_, err = NewAddress("bogus", MainNet)
	assert.NotNil(t, err)
	_, err = NewAddress("bc1q-w508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", MainNet)
	assert.NotNil(t, err)
	assert.True(t, Address("").IsEmpty())
	assert.Equal(t, NoAddress, Address(""))

	empty, err := NewAddress("", MainNet)
	assert.Nil(t, err)
	assert.True(t, empty.IsEmpty())

	addr, err := NewAddress("1MirQ9bwyQcGVJPwKUgapu5ouK2E2Ey4gX", MainNet)
	assert.Nil(t, err)
	assert.Equal(t, "1MirQ9bwyQcGVJPwKUgapu5ouK2E2Ey4gX", addr.String())
	assert.False(t, addr.IsEmpty())
	assert.Equal(t, "addr(1MirQ9bwyQcGVJPwKUgapu5ouK2E2Ey4gX)", addr.Descriptor())

	_, err = NewAddress("3QJmV3qfvL9SuYo34YihAf3sRCW3qSinyC", MainNet)
	assert.Nil(t, err)

	// raw public keys are not watchable addresses
	_, err = NewAddress("02192d74d0cb94344c9569c2e77901573d8d7903c3ebec3a957724895dca52c6b4", MainNet)
	assert.NotNil(t, err)

	addr, err = NewAddress("BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4", MainNet)
	assert.Nil(t, err)
	assert.True(t, addr.Equals(Address("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")))

	addr, err = NewAddress("bc1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3qccfmv3", MainNet)
	assert.Nil(t, err)
	assert.Equal(t, "bc1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3qccfmv3", addr.String())

	// wrong network
	_, err = NewAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", MockNet)
	assert.NotNil(t, err)
	_, err = NewAddress("tb1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3q0sl5k7", TestNet)
	assert.Nil(t, err)
}
