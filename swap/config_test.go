package swap

import (
	"testing"
	"time"

	"github.com/btcq-org/qswap/constants"
	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	def := DefaultConfig()
	// zero retry attempts is a valid choice
	want := def
	want.RetryAttempts = 0
	assert.Equal(t, want, Config{}.withDefaults())

	got := Config{MinConfirmations: -1, PollInterval: -time.Second}.withDefaults()
	assert.Equal(t, constants.Get(constants.MinConfirmations), got.MinConfirmations)
	assert.Positive(t, got.MinConfirmations)
	assert.Equal(t, def.PollInterval, got.PollInterval)

	custom := Config{MinConfirmations: 3, PollInterval: time.Second, FeeConfTarget: 2, RetryAttempts: 1, RetryMaxWait: time.Second}
	assert.Equal(t, custom, custom.withDefaults())
}
