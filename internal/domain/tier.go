package domain

// Tier is the urgency classification derived from a total score. It is
// always recomputed from the score vector, never stored as independent
// input.
type Tier int

const (
	TierNoise Tier = iota
	TierModerate
	TierHigh
	TierVeryHigh
	TierActiveBuyer
)

// DefaultNotifyThreshold is the lowest total that triggers a notification
// unless overridden in configuration. It matches the TierHigh lower edge.
const DefaultNotifyThreshold = 56

// TierFor maps a total score onto its tier. Lower edges are inclusive:
// 40 and 41 land in different tiers.
func TierFor(total int) Tier {
	switch {
	case total >= 86:
		return TierActiveBuyer
	case total >= 71:
		return TierVeryHigh
	case total >= 56:
		return TierHigh
	case total >= 41:
		return TierModerate
	default:
		return TierNoise
	}
}

// Label returns the human-readable classification name.
func (t Tier) Label() string {
	switch t {
	case TierActiveBuyer:
		return "Active Buyer"
	case TierVeryHigh:
		return "Very High"
	case TierHigh:
		return "High Intent"
	case TierModerate:
		return "Moderate"
	default:
		return "Noise / Low Intent"
	}
}

func (t Tier) String() string {
	return t.Label()
}
