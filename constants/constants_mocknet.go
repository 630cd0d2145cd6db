//go:build mocknet

package constants

var DefaultValues = map[ConstantName]int64{
	MinConfirmations:       1,       // regtest mines on demand
	DefaultTimelockSeconds: 10 * 60, // shorter window for testing
	RootHistorySize:        30,
	MaxReorgDepth:          10,
	MonitorIntervalSeconds: 1,
}
