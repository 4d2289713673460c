package quota

import (
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// Definition is one quota's configuration within a tier table. Limits use
// models.UnlimitedQuota (-1) for uncapped dimensions.
type Definition struct {
	Type              models.QuotaType
	Limit             int64
	SoftLimit         int64
	ResetPeriod       models.ResetPeriod
	EnforcementAction models.EnforcementAction
	OverageAllowed    bool
	OverageRate       float64
}

// tierTables is the static per-tier quota configuration. Tier entitlements
// are configuration fed into the engine, not something it decides.
var tierTables = map[models.Tier][]Definition{
	models.TierFree: {
		{Type: models.QuotaAPIRequests, Limit: 10000, SoftLimit: 8000, ResetPeriod: models.ResetMonthly, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaStorageMB, Limit: 512, SoftLimit: 400, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaComputeMinutes, Limit: 60, SoftLimit: 45, ResetPeriod: models.ResetDaily, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaSharedResources, Limit: 2, SoftLimit: 2, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
	},
	models.TierStarter: {
		{Type: models.QuotaAPIRequests, Limit: 100000, SoftLimit: 80000, ResetPeriod: models.ResetMonthly, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaStorageMB, Limit: 10240, SoftLimit: 8192, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaComputeMinutes, Limit: 600, SoftLimit: 480, ResetPeriod: models.ResetDaily, EnforcementAction: models.EnforceThrottle},
		{Type: models.QuotaSharedResources, Limit: 10, SoftLimit: 8, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
	},
	models.TierProfessional: {
		{Type: models.QuotaAPIRequests, Limit: 1000000, SoftLimit: 800000, ResetPeriod: models.ResetMonthly, EnforcementAction: models.EnforceThrottle, OverageAllowed: true, OverageRate: 0.0001},
		{Type: models.QuotaStorageMB, Limit: 102400, SoftLimit: 81920, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
		{Type: models.QuotaComputeMinutes, Limit: 6000, SoftLimit: 4800, ResetPeriod: models.ResetDaily, EnforcementAction: models.EnforceThrottle, OverageAllowed: true, OverageRate: 0.01},
		{Type: models.QuotaSharedResources, Limit: 100, SoftLimit: 80, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceBlock},
	},
	models.TierEnterprise: {
		{Type: models.QuotaAPIRequests, Limit: models.UnlimitedQuota, ResetPeriod: models.ResetMonthly, EnforcementAction: models.EnforceAlert},
		{Type: models.QuotaStorageMB, Limit: 1048576, SoftLimit: 838860, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceAlert, OverageAllowed: true, OverageRate: 0.00005},
		{Type: models.QuotaComputeMinutes, Limit: models.UnlimitedQuota, ResetPeriod: models.ResetDaily, EnforcementAction: models.EnforceAlert},
		{Type: models.QuotaSharedResources, Limit: models.UnlimitedQuota, ResetPeriod: models.ResetNever, EnforcementAction: models.EnforceAlert},
	},
}

// TierDefinitions returns the quota table for a tier, or false for an
// unknown tier.
func TierDefinitions(tier models.Tier) ([]Definition, bool) {
	defs, ok := tierTables[tier]
	return defs, ok
}

// NextReset computes when a quota period starting at now rolls over.
// Returns nil for ResetNever.
func NextReset(period models.ResetPeriod, now time.Time) *time.Time {
	var next time.Time
	switch period {
	case models.ResetHourly:
		next = now.Add(time.Hour)
	case models.ResetDaily:
		y, m, d := now.UTC().Date()
		next = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	case models.ResetMonthly:
		y, m, _ := now.UTC().Date()
		next = time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return nil
	}
	return &next
}
