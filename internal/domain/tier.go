package domain

// Tier is the fetch urgency the scheduler assigns to a piece. The numeric
// order is the priority order: Critical > High > Normal > Suspended.
type Tier int

const (
	TierSuspended Tier = iota // explicitly deselected, not fetched
	TierNormal
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierSuspended:
		return "suspended"
	case TierNormal:
		return "normal"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}
