package swap

import (
	"fmt"
	"time"

	"github.com/btcq-org/qswap/constants"
	"github.com/spf13/viper"
)

// Config tunes the coordinator.
type Config struct {
	// MinConfirmations gates LockSwap. The ledger enforces its own minimum
	// as well.
	MinConfirmations int64 `mapstructure:"min_confirmations" json:"min_confirmations"`
	// PollInterval paces WaitForConfirmations.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// FeeConfTarget is the estimatesmartfee target of HTLC spends.
	FeeConfTarget int64 `mapstructure:"fee_conf_target" json:"fee_conf_target"`
	// RetryAttempts and RetryMaxWait bound resubmission after transient
	// ledger failures.
	RetryAttempts uint64        `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait" json:"retry_max_wait"`
}

func DefaultConfig() Config {
	return Config{
		MinConfirmations: constants.Get(constants.MinConfirmations),
		PollInterval:     time.Duration(constants.Get(constants.MonitorIntervalSeconds)) * time.Second,
		FeeConfTarget:    6,
		RetryAttempts:    5,
		RetryMaxWait:     30 * time.Second,
	}
}

// withDefaults fills every unset or non-positive field from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinConfirmations <= 0 {
		c.MinConfirmations = def.MinConfirmations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.FeeConfTarget <= 0 {
		c.FeeConfTarget = def.FeeConfTarget
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = def.RetryMaxWait
	}
	return c
}

// GetConfig reads the `swap` section of the json config in path.
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
	if err := v.UnmarshalKey("swap", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
