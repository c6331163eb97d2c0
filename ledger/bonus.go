/*
bonus.go - Completion bonus policies

PURPOSE:
  On completion the provider earns the session duration plus a bonus
  scaled by the rating received. The bonus rule is a single tagged
  policy, enumerated explicitly, rather than thresholds scattered
  across call sites.

AVAILABLE POLICIES:
  standard:
    - rating >= 5.0  -> +1.5 hours
    - rating >= 4.0  -> +1.0 hours
    - otherwise      -> +0 hours
  none:
    - no bonus ever (duration only)

  The policy is chosen once at startup (BONUS_POLICY) and injected into
  the engine, so swapping tiers is a config change, not code.
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BONUS POLICY
// =============================================================================

// BonusTier awards Bonus hours when the rating is at least MinRating.
type BonusTier struct {
	MinRating decimal.Decimal
	Bonus     Hours
}

// BonusPolicy is an ordered set of tiers, highest threshold first.
// The first tier the rating reaches wins.
type BonusPolicy struct {
	Name  string
	Tiers []BonusTier
}

// BonusFor returns the bonus hours for a completion rating.
func (p BonusPolicy) BonusFor(rating decimal.Decimal) Hours {
	for _, tier := range p.Tiers {
		if rating.GreaterThanOrEqual(tier.MinRating) {
			return tier.Bonus
		}
	}
	return ZeroHours()
}

// =============================================================================
// POLICY CATALOG
// =============================================================================

// StandardBonusPolicy is the canonical rule set: top marks earn +1.5h,
// a rating of at least 4 earns +1.0h, anything lower earns no bonus.
func StandardBonusPolicy() BonusPolicy {
	return BonusPolicy{
		Name: "standard",
		Tiers: []BonusTier{
			{MinRating: decimal.NewFromInt(5), Bonus: NewHours(1.5)},
			{MinRating: decimal.NewFromInt(4), Bonus: NewHours(1.0)},
		},
	}
}

// NoBonusPolicy pays duration only.
func NoBonusPolicy() BonusPolicy {
	return BonusPolicy{Name: "none"}
}

// BonusPolicyByName resolves a policy from configuration.
func BonusPolicyByName(name string) (BonusPolicy, error) {
	switch name {
	case "", "standard":
		return StandardBonusPolicy(), nil
	case "none":
		return NoBonusPolicy(), nil
	default:
		return BonusPolicy{}, fmt.Errorf("unknown bonus policy %q", name)
	}
}
