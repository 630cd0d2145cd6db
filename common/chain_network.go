package common

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ChainNetwork is to indicate which Bitcoin environment the swap parties are working with
type ChainNetwork uint8

const (
	// TestNet network for test
	TestNet ChainNetwork = iota
	// MainNet network for mainnet
	MainNet
	// MockNet network for mocknet (bitcoind regtest)
	MockNet
	// Stagenet network for stagenet
	StageNet
)

func (net ChainNetwork) String() string {
	switch net {
	case MainNet:
		return "mainnet"
	case MockNet:
		return "mocknet"
	case StageNet:
		return "stagenet"
	default:
		return "testnet"
	}
}

// ParseChainNetwork maps a config value to a network.
func ParseChainNetwork(s string) (ChainNetwork, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main", "":
		return MainNet, nil
	case "testnet", "testnet3", "test":
		return TestNet, nil
	case "mocknet", "regtest":
		return MockNet, nil
	case "stagenet":
		return StageNet, nil
	}
	return MainNet, fmt.Errorf("unknown network: %s", s)
}

// BitcoinParams returns the chaincfg parameters for net. Stagenet runs
// against mainnet Bitcoin.
func (net ChainNetwork) BitcoinParams() *chaincfg.Params {
	switch net {
	case MainNet, StageNet:
		return &chaincfg.MainNetParams
	case MockNet:
		return &chaincfg.RegressionNetParams
	case TestNet:
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}
