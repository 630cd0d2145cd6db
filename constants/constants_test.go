package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantNames(t *testing.T) {
	for _, c := range []ConstantName{MinConfirmations, DefaultTimelockSeconds, RootHistorySize, MaxReorgDepth, MonitorIntervalSeconds} {
		parsed, ok := FromString(c.String())
		assert.True(t, ok)
		assert.Equal(t, c, parsed)
		assert.Positive(t, Get(c), c.String())
	}
	_, ok := FromString("EmissionCurve")
	assert.False(t, ok)
}
