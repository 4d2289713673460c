package models

import (
	"time"

	"github.com/google/uuid"
)

// UnlimitedQuota is the sentinel limit meaning no cap is applied.
const UnlimitedQuota int64 = -1

// QuotaType identifies one metered resource dimension.
type QuotaType string

const (
	QuotaAPIRequests     QuotaType = "api_requests"
	QuotaStorageMB       QuotaType = "storage_mb"
	QuotaComputeMinutes  QuotaType = "compute_minutes"
	QuotaSharedResources QuotaType = "shared_resources"
)

// ResetPeriod controls how often a quota's usage counter rolls back to zero.
type ResetPeriod string

const (
	ResetHourly  ResetPeriod = "hourly"
	ResetDaily   ResetPeriod = "daily"
	ResetMonthly ResetPeriod = "monthly"
	ResetNever   ResetPeriod = "never"
)

// EnforcementAction is what happens when a quota would be exceeded.
type EnforcementAction string

const (
	EnforceBlock    EnforcementAction = "block"
	EnforceThrottle EnforcementAction = "throttle"
	EnforceAlert    EnforcementAction = "alert"
)

// TenantQuota is the authoritative usage record for one (tenant, quota type)
// pair. The Redis counter is a fast cache over CurrentUsage; this row is the
// source of truth.
type TenantQuota struct {
	ID                uuid.UUID         `db:"id"                 json:"id"`
	TenantID          uuid.UUID         `db:"tenant_id"          json:"tenant_id"`
	QuotaType         QuotaType         `db:"quota_type"         json:"quota_type"`
	Limit             int64             `db:"quota_limit"        json:"limit"`
	SoftLimit         int64             `db:"soft_limit"         json:"soft_limit"`
	CurrentUsage      int64             `db:"current_usage"      json:"current_usage"`
	ResetPeriod       ResetPeriod       `db:"reset_period"       json:"reset_period"`
	LastReset         time.Time         `db:"last_reset"         json:"last_reset"`
	NextReset         *time.Time        `db:"next_reset"         json:"next_reset,omitempty"`
	EnforcementAction EnforcementAction `db:"enforcement_action" json:"enforcement_action"`
	OverageAllowed    bool              `db:"overage_allowed"    json:"overage_allowed"`
	OverageRate       float64           `db:"overage_rate"       json:"overage_rate"`
	CreatedAt         time.Time         `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"         json:"updated_at"`
}

// IsUnlimited reports whether this quota has no cap.
func (q *TenantQuota) IsUnlimited() bool {
	return q.Limit == UnlimitedQuota
}

// Remaining returns how much usage is left before the limit, given the
// current counter value. Unlimited quotas report UnlimitedQuota.
func (q *TenantQuota) Remaining(usage int64) int64 {
	if q.IsUnlimited() {
		return UnlimitedQuota
	}
	r := q.Limit - usage
	if r < 0 {
		return 0
	}
	return r
}
