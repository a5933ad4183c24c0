package models

import "credence/pkg/amount"

// Tier is the reputation bracket derived from bonded amount. Ordering is
// meaningful: a larger bonded amount never maps to a lower tier.
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
)

var tierNames = map[Tier]string{
	TierNone:     "none",
	TierBronze:   "bronze",
	TierSilver:   "silver",
	TierGold:     "gold",
	TierPlatinum: "platinum",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "none"
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Thresholds are the four governance-configured tier boundaries, required to
// be non-decreasing (bronze <= silver <= gold <= platinum).
type Thresholds struct {
	Bronze   amount.Amount
	Silver   amount.Amount
	Gold     amount.Amount
	Platinum amount.Amount
}

// TierFor classifies a bonded amount against the thresholds. Pure function:
// for fixed thresholds, TierFor(a) <= TierFor(b) whenever a <= b.
func TierFor(bonded amount.Amount, t Thresholds) Tier {
	switch {
	case bonded.Cmp(t.Platinum) >= 0:
		return TierPlatinum
	case bonded.Cmp(t.Gold) >= 0:
		return TierGold
	case bonded.Cmp(t.Silver) >= 0:
		return TierSilver
	case bonded.Cmp(t.Bronze) >= 0:
		return TierBronze
	default:
		return TierNone
	}
}
