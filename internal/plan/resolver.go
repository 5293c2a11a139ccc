package plan

import (
	"strings"

	"github.com/smallbiznis/answerline/internal/config"
)

// Resolver looks entitlements up in the plan catalog.
type Resolver struct {
	catalog *config.PlanCatalogHolder
}

func NewResolver(catalog *config.PlanCatalogHolder) *Resolver {
	return &Resolver{catalog: catalog}
}

// NewDefaultResolver uses the built-in catalog.
func NewDefaultResolver() *Resolver {
	return NewResolver(config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()))
}

func (r *Resolver) Resolve(p PlanType) Entitlement {
	p = ParsePlanType(string(p))
	var fallback *config.PlanDefinition
	for _, def := range r.catalog.Get().Plans {
		def := def
		key := PlanType(strings.ToUpper(strings.TrimSpace(def.Type)))
		if key == p {
			return toEntitlement(p, def)
		}
		if key == PlanNone {
			fallback = &def
		}
	}
	if fallback != nil {
		return toEntitlement(PlanNone, *fallback)
	}
	return Entitlement{Plan: PlanNone}
}

func (r *Resolver) IncludedMinutes(p PlanType) int64 {
	return r.Resolve(p).IncludedMinutes
}

// IncludedMinutesByPlan lists the allowance of every paid plan. Other plan
// values resolve to IncludedMinutes(PlanNone).
func (r *Resolver) IncludedMinutesByPlan() map[PlanType]int64 {
	out := make(map[PlanType]int64, 3)
	for _, p := range []PlanType{PlanTier1, PlanTier2, PlanTier3} {
		out[p] = r.IncludedMinutes(p)
	}
	return out
}

// OverageMinutes is max(0, minutesUsed - included).
func (r *Resolver) OverageMinutes(p PlanType, minutesUsed int64) int64 {
	return Overage(r.IncludedMinutes(p), minutesUsed)
}

func Overage(included, minutesUsed int64) int64 {
	if minutesUsed <= included {
		return 0
	}
	return minutesUsed - included
}

func toEntitlement(p PlanType, def config.PlanDefinition) Entitlement {
	return Entitlement{
		Plan:                   p,
		IncludedMinutes:        def.IncludedMinutes,
		IndustryOptimizedFlows: def.IndustryOptimizedFlows,
		BrandedVoice:           def.BrandedVoice,
		PrioritySupport:        def.PrioritySupport,
	}
}
