package sharing

import (
	"log/slog"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// TieredStrategy computes revenue for tiered pricing as a function of the
// grant's cumulative usage before this use. The platform does not define
// the step thresholds, so the strategy is injected by the operator.
type TieredStrategy interface {
	Revenue(cumulativeUsage int64, cost float64, pricing models.Pricing) float64
}

// computeRevenue derives the owner's revenue for one tracked use. When the
// pricing model is tiered and no strategy is configured, usage_based pricing
// applies and the gap is logged.
func computeRevenue(pricing models.Pricing, cost float64, cumulativeUsage int64, tiered TieredStrategy) float64 {
	switch pricing.Model {
	case models.PricingFree:
		return 0
	case models.PricingFixed:
		return pricing.BasePrice
	case models.PricingUsageBased:
		return cost * pricing.UnitPrice
	case models.PricingTiered:
		if tiered != nil {
			return tiered.Revenue(cumulativeUsage, cost, pricing)
		}
		slog.Warn("tiered pricing requested but no strategy configured, using usage_based")
		return cost * pricing.UnitPrice
	default:
		slog.Warn("unknown pricing model, treating as free", "model", pricing.Model)
		return 0
	}
}
