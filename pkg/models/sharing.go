package models

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls which tenants can see and request a shared resource.
type Visibility string

const (
	VisibilityPrivate     Visibility = "private"
	VisibilityTenant      Visibility = "tenant"
	VisibilityMarketplace Visibility = "marketplace"
	VisibilityPublic      Visibility = "public"
)

// RequestStatus is the workflow state of an access request. APPROVED and
// REJECTED are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PricingModel selects how revenue is computed from tracked usage.
type PricingModel string

const (
	PricingFree       PricingModel = "free"
	PricingFixed      PricingModel = "fixed"
	PricingUsageBased PricingModel = "usage_based"
	PricingTiered     PricingModel = "tiered"
)

// PermissionAdmin implies every other permission on a grant.
const PermissionAdmin = "admin"

// ConditionType identifies one predicate kind on a sharing policy.
type ConditionType string

const (
	ConditionMinTier    ConditionType = "min_tier"
	ConditionRegion     ConditionType = "region"
	ConditionMaxCost    ConditionType = "max_cost"
	ConditionExpression ConditionType = "expression"
)

// Condition is one typed predicate a requester must satisfy. Conditions are
// evaluated in list order; the first failure decides the denial reason.
type Condition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value"`
}

// Pricing describes how consumer usage of a shared resource is billed.
type Pricing struct {
	Model     PricingModel `json:"model"`
	BasePrice float64      `json:"base_price,omitempty"`
	UnitPrice float64      `json:"unit_price,omitempty"`
	Currency  string       `json:"currency,omitempty"`
}

// SharingPolicy is the rule set under which one tenant exposes a resource.
// There is exactly one active policy per (resource, owner); policies are
// deactivated, never deleted, so historical grants stay auditable.
type SharingPolicy struct {
	ID               uuid.UUID   `db:"id"                json:"id"`
	ResourceID       uuid.UUID   `db:"resource_id"       json:"resource_id"`
	ResourceType     string      `db:"resource_type"     json:"resource_type"`
	OwnerTenantID    uuid.UUID   `db:"owner_tenant_id"   json:"owner_tenant_id"`
	Visibility       Visibility  `db:"visibility"        json:"visibility"`
	AllowedTenants   []uuid.UUID `db:"allowed_tenants"   json:"allowed_tenants,omitempty"`
	BlockedTenants   []uuid.UUID `db:"blocked_tenants"   json:"blocked_tenants,omitempty"`
	Permissions      []string    `db:"permissions"       json:"permissions"`
	Conditions       []Condition `db:"conditions"        json:"conditions,omitempty"`
	Pricing          Pricing     `db:"pricing"           json:"pricing"`
	RequiresApproval bool        `db:"requires_approval" json:"requires_approval"`
	MaxConsumers     int         `db:"max_consumers"     json:"max_consumers"`
	CurrentConsumers int         `db:"current_consumers" json:"current_consumers"`
	IsActive         bool        `db:"is_active"         json:"is_active"`
	ExpiresAt        *time.Time  `db:"expires_at"        json:"expires_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"        json:"updated_at"`
}

// IsExpired reports whether the policy's expiry has passed.
func (p *SharingPolicy) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// IsAccessible reports whether the policy can currently admit consumers.
func (p *SharingPolicy) IsAccessible(now time.Time) bool {
	return p.IsActive && !p.IsExpired(now)
}

// HasCapacity reports whether another consumer can be admitted.
// MaxConsumers == 0 means uncapped.
func (p *SharingPolicy) HasCapacity() bool {
	return p.MaxConsumers == 0 || p.CurrentConsumers < p.MaxConsumers
}

// IsTenantBlocked reports whether the tenant appears on the block list.
func (p *SharingPolicy) IsTenantBlocked(tenantID uuid.UUID) bool {
	for _, id := range p.BlockedTenants {
		if id == tenantID {
			return true
		}
	}
	return false
}

// IsTenantAllowed applies the explicit allow list: an empty list admits
// everyone the visibility admits, a non-empty list admits only its members.
func (p *SharingPolicy) IsTenantAllowed(tenantID uuid.UUID) bool {
	if len(p.AllowedTenants) == 0 {
		return true
	}
	for _, id := range p.AllowedTenants {
		if id == tenantID {
			return true
		}
	}
	return false
}

// SharingAccessRequest is the workflow record between a requester and a
// policy. At most one pending request exists per (policy, requester).
type SharingAccessRequest struct {
	ID                uuid.UUID     `db:"id"                  json:"id"`
	PolicyID          uuid.UUID     `db:"policy_id"           json:"policy_id"`
	RequesterTenantID uuid.UUID     `db:"requester_tenant_id" json:"requester_tenant_id"`
	RequesterUserID   string        `db:"requester_user_id"   json:"requester_user_id"`
	Status            RequestStatus `db:"status"              json:"status"`
	Justification     string        `db:"justification"       json:"justification"`
	ApprovedBy        *string       `db:"approved_by"         json:"approved_by,omitempty"`
	ApprovedAt        *time.Time    `db:"approved_at"         json:"approved_at,omitempty"`
	RejectedBy        *string       `db:"rejected_by"         json:"rejected_by,omitempty"`
	RejectedAt        *time.Time    `db:"rejected_at"         json:"rejected_at,omitempty"`
	RejectionReason   *string       `db:"rejection_reason"    json:"rejection_reason,omitempty"`
	CreatedAt         time.Time     `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"          json:"updated_at"`
}

// SharingAccessGrant authorizes one consumer tenant under a policy. Unique
// per (policy, consumer); revocation deactivates rather than deletes.
type SharingAccessGrant struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	PolicyID         uuid.UUID  `db:"policy_id"          json:"policy_id"`
	ConsumerTenantID uuid.UUID  `db:"consumer_tenant_id" json:"consumer_tenant_id"`
	Permissions      []string   `db:"permissions"        json:"permissions"`
	IsActive         bool       `db:"is_active"          json:"is_active"`
	ExpiresAt        *time.Time `db:"expires_at"         json:"expires_at,omitempty"`
	GrantedBy        string     `db:"granted_by"         json:"granted_by"`
	GrantedAt        time.Time  `db:"granted_at"         json:"granted_at"`
	RevokedBy        *string    `db:"revoked_by"         json:"revoked_by,omitempty"`
	RevokedAt        *time.Time `db:"revoked_at"         json:"revoked_at,omitempty"`
	RevocationReason *string    `db:"revocation_reason"  json:"revocation_reason,omitempty"`
	UsageCount       int64      `db:"usage_count"        json:"usage_count"`
	LastUsedAt       *time.Time `db:"last_used_at"       json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// IsValid reports whether the grant currently authorizes access.
func (g *SharingAccessGrant) IsValid(now time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// HasPermission checks a specific permission on the grant. The admin
// permission implies all others.
func (g *SharingAccessGrant) HasPermission(perm string) bool {
	for _, p := range g.Permissions {
		if p == perm || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// SharingUsageTracking aggregates one grant's usage for one calendar day.
type SharingUsageTracking struct {
	ID         uuid.UUID `db:"id"         json:"id"`
	GrantID    uuid.UUID `db:"grant_id"   json:"grant_id"`
	UsageDate  time.Time `db:"usage_date" json:"usage_date"`
	UsageCount int64     `db:"usage_count" json:"usage_count"`
	Cost       float64   `db:"cost"       json:"cost"`
	Revenue    float64   `db:"revenue"    json:"revenue"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
