package constants

// ConstantName represents the names of the per-network tunables of the swap
// protocol.
type ConstantName int

const (
	// MinConfirmations is the Bitcoin depth a funding transaction must reach
	// before its SPV proof may lock a swap.
	MinConfirmations ConstantName = iota
	// DefaultTimelockSeconds is the swap timelock used when the initiator does
	// not choose one.
	DefaultTimelockSeconds
	// RootHistorySize is how many recent accumulator roots the ledger accepts
	// in spend proofs.
	RootHistorySize
	// MaxReorgDepth bounds how far back a competing header branch may fork.
	MaxReorgDepth
	// MonitorIntervalSeconds is the polling interval of address monitors and
	// the header relayer.
	MonitorIntervalSeconds
)

func FromString(s string) (ConstantName, bool) {
	switch s {
	case "MinConfirmations":
		return MinConfirmations, true
	case "DefaultTimelockSeconds":
		return DefaultTimelockSeconds, true
	case "RootHistorySize":
		return RootHistorySize, true
	case "MaxReorgDepth":
		return MaxReorgDepth, true
	case "MonitorIntervalSeconds":
		return MonitorIntervalSeconds, true
	default:
		return 0, false
	}
}

func (c ConstantName) String() string {
	switch c {
	case MinConfirmations:
		return "MinConfirmations"
	case DefaultTimelockSeconds:
		return "DefaultTimelockSeconds"
	case RootHistorySize:
		return "RootHistorySize"
	case MaxReorgDepth:
		return "MaxReorgDepth"
	case MonitorIntervalSeconds:
		return "MonitorIntervalSeconds"
	}
	return "ConstantName(unknown)"
}

// Get returns the default value of c for the network this binary was built
// for.
func Get(c ConstantName) int64 {
	return DefaultValues[c]
}
