package bitcoin

import (
	"fmt"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/spf13/viper"
)

type Config struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int64  `mapstructure:"port" json:"port"`
	RPCUser  string `mapstructure:"rpc_user" json:"rpc_user"`
	Password string `mapstructure:"password" json:"password"`
	Network  string `mapstructure:"network" json:"network"`
	// RetryAttempts bounds retries of idempotent reads on transient failures.
	RetryAttempts uint64        `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait" json:"retry_max_wait"`
}

func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8332,
		Network:       "mainnet",
		RetryAttempts: 5,
		RetryMaxWait:  30 * time.Second,
	}
}

// ChainNetwork parses the configured network.
func (c Config) ChainNetwork() (common.ChainNetwork, error) {
	return common.ParseChainNetwork(c.Network)
}

// GetConfig reads the `bitcoin` section of the json config in path.
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
	if err := v.UnmarshalKey("bitcoin", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
