package socket

// UpgradeState tracks the lifecycle of an in-progress transport upgrade.
type UpgradeState int

const (
	// UpgradeNone means no upgrade is currently in progress.
	UpgradeNone UpgradeState = iota
	// UpgradeInitiated means a probe transport has been installed and is
	// waiting for a probe ping.
	UpgradeInitiated
	// UpgradeProbed means the probe answered a probe ping and is waiting
	// for the client's upgrade packet.
	UpgradeProbed
)

// String implements fmt.Stringer. Note there is no "complete" state: once
// the probe is promoted the socket resets to UpgradeNone, since no upgrade
// is in progress any longer. A second upgrade attempt on an
// already-upgraded socket is rejected separately, by Socket.upgraded.
func (s UpgradeState) String() string {
	switch s {
	case UpgradeNone:
		return "none"
	case UpgradeInitiated:
		return "initiated"
	case UpgradeProbed:
		return "probed"
	default:
		return "unknown"
	}
}
