package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeshare/ledger-engine/ledger"
)

func TestStandardBonusPolicy_Tiers(t *testing.T) {
	policy := ledger.StandardBonusPolicy()

	cases := []struct {
		rating float64
		bonus  float64
	}{
		{5.0, 1.5},
		{4.99, 1.0},
		{4.5, 1.0},
		{4.0, 1.0},
		{3.99, 0},
		{3.0, 0},
		{1.0, 0},
	}
	for _, tc := range cases {
		got := policy.BonusFor(decimal.NewFromFloat(tc.rating))
		assert.True(t, ledger.NewHours(tc.bonus).Equal(got),
			"rating %v: expected bonus %v, got %s", tc.rating, tc.bonus, got)
	}
}

func TestNoBonusPolicy_AlwaysZero(t *testing.T) {
	policy := ledger.NoBonusPolicy()
	for _, r := range []float64{1, 4, 5} {
		assert.True(t, policy.BonusFor(decimal.NewFromFloat(r)).IsZero())
	}
}

func TestBonusPolicyByName(t *testing.T) {
	p, err := ledger.BonusPolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, "standard", p.Name)

	p, err = ledger.BonusPolicyByName("none")
	require.NoError(t, err)
	assert.Empty(t, p.Tiers)

	_, err = ledger.BonusPolicyByName("generous")
	require.Error(t, err)
}
