package relayer

import (
	"fmt"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/constants"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPListenAddress string `mapstructure:"http_listen_address" json:"http_listen_address"`
	// LedgerURL is the JSON-RPC endpoint of qswapd.
	LedgerURL    string        `mapstructure:"ledger_url" json:"ledger_url"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// StartHeight anchors an empty ledger header chain. Zero anchors at the
	// node tip.
	StartHeight int64 `mapstructure:"start_height" json:"start_height"`
	// MaxReorgDepth bounds the walk back to a height where node and ledger
	// agree.
	MaxReorgDepth int64 `mapstructure:"max_reorg_depth" json:"max_reorg_depth"`
	// BatchSize caps the headers submitted per poll.
	BatchSize int64 `mapstructure:"batch_size" json:"batch_size"`

	BitcoinConfig bitcoin.Config `mapstructure:"bitcoin" json:"bitcoin"`
}

func DefaultConfig() Config {
	return Config{
		HTTPListenAddress: "127.0.0.1:30007",
		LedgerURL:         "http://127.0.0.1:26680",
		PollInterval:      time.Duration(constants.Get(constants.MonitorIntervalSeconds)) * time.Second,
		MaxReorgDepth:     constants.Get(constants.MaxReorgDepth),
		BatchSize:         500,
		BitcoinConfig:     bitcoin.DefaultConfig(),
	}
}

// GetConfig reads the json config in path. QSWAP_ prefixed environment
// variables override it.
func GetConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("QSWAP")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
