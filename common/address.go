package common

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// Address is a Bitcoin address string checked against a network.
type Address string

const NoAddress = Address("")

var alphaNumRegex = regexp.MustCompile("^[A-Za-z0-9]*$")

// NewAddress validates address for net. Bare public key addresses are
// rejected since they cannot be watched with an addr() descriptor.
func NewAddress(address string, net ChainNetwork) (Address, error) {
	if len(address) == 0 {
		return NoAddress, nil
	}

	if !alphaNumRegex.MatchString(address) {
		return NoAddress, fmt.Errorf("address format not supported: %s", address)
	}

	outputAddr, err := btcutil.DecodeAddress(address, net.BitcoinParams())
	if err != nil {
		return NoAddress, fmt.Errorf("address format not supported: %s", address)
	}
	if !outputAddr.IsForNet(net.BitcoinParams()) {
		return NoAddress, fmt.Errorf("address %s is not for %s", address, net)
	}
	switch outputAddr.(type) {
	case *btcutil.AddressPubKey:
		return NoAddress, fmt.Errorf("public key address format not supported: %s", address)
	default:
		return Address(address), nil
	}
}

// Descriptor returns the scantxoutset descriptor watching addr.
func (addr Address) Descriptor() string {
	return fmt.Sprintf("addr(%s)", addr.String())
}

func (addr Address) Equals(addr2 Address) bool {
	return strings.EqualFold(addr.String(), addr2.String())
}

func (addr Address) IsEmpty() bool {
	return strings.TrimSpace(addr.String()) == ""
}

func (addr Address) String() string {
	if addr == NoAddress {
		return ""
	}
	return string(addr)
}
