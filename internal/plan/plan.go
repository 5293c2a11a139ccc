package plan

import "strings"

type PlanType string

const (
	PlanNone  PlanType = "NONE"
	PlanTier1 PlanType = "TIER_1"
	PlanTier2 PlanType = "TIER_2"
	PlanTier3 PlanType = "TIER_3"
)

// ParsePlanType normalizes a plan identifier. Unknown values map to PlanNone.
func ParsePlanType(value string) PlanType {
	switch PlanType(strings.ToUpper(strings.TrimSpace(value))) {
	case PlanTier1:
		return PlanTier1
	case PlanTier2:
		return PlanTier2
	case PlanTier3:
		return PlanTier3
	default:
		return PlanNone
	}
}

func (p PlanType) IsPaid() bool {
	return p == PlanTier1 || p == PlanTier2 || p == PlanTier3
}

// Entitlement is what a plan grants for one billing period.
type Entitlement struct {
	Plan                   PlanType `json:"plan"`
	IncludedMinutes        int64    `json:"included_minutes"`
	IndustryOptimizedFlows bool     `json:"industry_optimized_flows"`
	BrandedVoice           bool     `json:"branded_voice"`
	PrioritySupport        bool     `json:"priority_support"`
}
