//go:build !mocknet && !stagenet

package constants

var DefaultValues = map[ConstantName]int64{
	MinConfirmations:       6,
	DefaultTimelockSeconds: 24 * 60 * 60, // one day
	RootHistorySize:        100,
	MaxReorgDepth:          100,
	MonitorIntervalSeconds: 30,
}
