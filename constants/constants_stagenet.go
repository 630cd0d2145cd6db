//go:build stagenet

package constants

var DefaultValues = map[ConstantName]int64{
	MinConfirmations:       3,
	DefaultTimelockSeconds: 6 * 60 * 60,
	RootHistorySize:        50,
	MaxReorgDepth:          50,
	MonitorIntervalSeconds: 10,
}
