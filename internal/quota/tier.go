package quota

// Tier is a named subscription class with its own minute and monthly limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierPartner    Tier = "partner"
)

// UnlimitedSentinel is reported as the limit for tiers without a finite cap.
const UnlimitedSentinel uint64 = 999_999_999

// Limits describes the policy for one tier. A nil PerMinute or Monthly means
// unlimited.
type Limits struct {
	PerMinute       *uint64
	Monthly         *uint64
	BurstMultiplier float64
}

// MinuteLimit returns the per-minute limit, or UnlimitedSentinel when the
// tier has no finite per-minute cap.
func (l Limits) MinuteLimit() uint64 {
	if l.PerMinute == nil {
		return UnlimitedSentinel
	}
	return *l.PerMinute
}

// MonthlyQuota returns the monthly quota and whether it is finite.
func (l Limits) MonthlyQuota() (uint64, bool) {
	if l.Monthly == nil {
		return UnlimitedSentinel, false
	}
	return *l.Monthly, true
}

// BurstCeiling returns the maximum number of tokens a bucket may hold.
func (l Limits) BurstCeiling() float64 {
	return float64(l.MinuteLimit()) * l.BurstMultiplier
}

// TierPolicy is the static table mapping tiers to their limits. It is
// immutable after construction.
type TierPolicy struct {
	limits map[Tier]Limits
}

func uintPtr(v uint64) *uint64 { return &v }

// DefaultTierPolicy returns the built-in tier table:
// free 100/min and 50K/month, pro 1000/min and 1M/month,
// enterprise and partner unlimited. All tiers allow a 1.5x burst.
func DefaultTierPolicy() *TierPolicy {
	return &TierPolicy{
		limits: map[Tier]Limits{
			TierFree:       {PerMinute: uintPtr(100), Monthly: uintPtr(50_000), BurstMultiplier: 1.5},
			TierPro:        {PerMinute: uintPtr(1_000), Monthly: uintPtr(1_000_000), BurstMultiplier: 1.5},
			TierEnterprise: {BurstMultiplier: 1.5},
			TierPartner:    {BurstMultiplier: 1.5},
		},
	}
}

// NewTierPolicy builds a policy from an explicit table. A BurstMultiplier
// below 1.0 is raised to 1.0.
func NewTierPolicy(table map[Tier]Limits) *TierPolicy {
	limits := make(map[Tier]Limits, len(table))
	for tier, l := range table {
		if l.BurstMultiplier < 1.0 {
			l.BurstMultiplier = 1.0
		}
		limits[tier] = l
	}
	return &TierPolicy{limits: limits}
}

// Limits returns the limits for a tier. Unknown tiers fall back to free.
func (p *TierPolicy) Limits(tier Tier) Limits {
	if l, ok := p.limits[tier]; ok {
		return l
	}
	return p.limits[TierFree]
}

// Tiers returns the tiers in the table.
func (p *TierPolicy) Tiers() []Tier {
	tiers := make([]Tier, 0, len(p.limits))
	for tier := range p.limits {
		tiers = append(tiers, tier)
	}
	return tiers
}

// ParseTier maps a tier name to a Tier, defaulting to free.
func ParseTier(name string) Tier {
	switch Tier(name) {
	case TierPro, TierEnterprise, TierPartner:
		return Tier(name)
	default:
		return TierFree
	}
}
