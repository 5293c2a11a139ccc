package plan

import (
	"testing"

	"github.com/smallbiznis/answerline/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestResolveDefaults(t *testing.T) {
	r := NewDefaultResolver()

	cases := []struct {
		plan     PlanType
		included int64
		flows    bool
		branded  bool
		priority bool
	}{
		{PlanNone, 0, false, false, false},
		{PlanTier1, 300, false, false, false},
		{PlanTier2, 800, true, false, false},
		{PlanTier3, 2000, true, true, true},
		{PlanType("ENTERPRISE"), 0, false, false, false},
		{PlanType(""), 0, false, false, false},
		{PlanType("tier_2"), 800, true, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.plan), func(t *testing.T) {
			e := r.Resolve(tc.plan)
			assert.Equal(t, tc.included, e.IncludedMinutes)
			assert.Equal(t, tc.flows, e.IndustryOptimizedFlows)
			assert.Equal(t, tc.branded, e.BrandedVoice)
			assert.Equal(t, tc.priority, e.PrioritySupport)
		})
	}
}

func TestOverageMinutes(t *testing.T) {
	r := NewDefaultResolver()

	assert.Equal(t, int64(0), r.OverageMinutes(PlanTier1, 0))
	assert.Equal(t, int64(0), r.OverageMinutes(PlanTier1, 300))
	assert.Equal(t, int64(5), r.OverageMinutes(PlanTier1, 305))
	assert.Equal(t, int64(12), r.OverageMinutes(PlanNone, 12))
}

func TestOverageMinutesIsMonotonic(t *testing.T) {
	r := NewDefaultResolver()
	for _, p := range []PlanType{PlanNone, PlanTier1, PlanTier2, PlanTier3} {
		prev := int64(0)
		for used := int64(0); used <= 2500; used += 7 {
			got := r.OverageMinutes(p, used)
			assert.GreaterOrEqual(t, got, prev, "plan %s used %d", p, used)
			prev = got
		}
	}
}

func TestResolveUsesCatalogOverride(t *testing.T) {
	holder := config.NewStaticPlanCatalogHolder(config.PlanCatalog{Plans: []config.PlanDefinition{
		{Type: "TIER_1", IncludedMinutes: 100},
	}})
	r := NewResolver(holder)

	assert.Equal(t, int64(100), r.IncludedMinutes(PlanTier1))
	// No NONE row in the catalog.
	assert.Equal(t, Entitlement{Plan: PlanNone}, r.Resolve(PlanTier3))
}

func TestParsePlanType(t *testing.T) {
	assert.Equal(t, PlanTier3, ParsePlanType(" tier_3 "))
	assert.Equal(t, PlanNone, ParsePlanType("gold"))
	assert.True(t, PlanTier1.IsPaid())
	assert.False(t, PlanNone.IsPaid())
}

func TestIncludedMinutesByPlan(t *testing.T) {
	included := NewDefaultResolver().IncludedMinutesByPlan()
	assert.Equal(t, map[PlanType]int64{
		PlanTier1: 300,
		PlanTier2: 800,
		PlanTier3: 2000,
	}, included)
}
