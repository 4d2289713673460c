package store

import (
	"context"
	"errors"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrNoCapacity = errors.New("policy has no remaining capacity")
var ErrNotPending = errors.New("request is not pending")

// Store is the data access interface. All durable-store operations go
// through here; it is the single source of truth (the Redis counter store is
// a cache over tenant_quotas.current_usage).
type Store interface {
	Ping(ctx context.Context) error

	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, t *models.Tenant) error
	UpdateTenantTier(ctx context.Context, id uuid.UUID, tier models.Tier) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	UpsertQuotas(ctx context.Context, quotas []*models.TenantQuota) error
	GetQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType) (*models.TenantQuota, error)
	ListQuotas(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantQuota, error)
	AddQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) error
	SetQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, usage int64) error
	UpdateQuotaLimits(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, limit, softLimit int64) error
	ListQuotasDueForReset(ctx context.Context, now time.Time, limit int) ([]*models.TenantQuota, error)
	ResetQuota(ctx context.Context, id uuid.UUID, now time.Time, nextReset *time.Time) (bool, error)

	CreateSharingPolicy(ctx context.Context, p *models.SharingPolicy) error
	GetSharingPolicy(ctx context.Context, id uuid.UUID) (*models.SharingPolicy, error)
	GetActivePolicyForResource(ctx context.Context, resourceID uuid.UUID, resourceType string) (*models.SharingPolicy, error)
	ListSharingPolicies(ctx context.Context, ownerTenantID uuid.UUID) ([]*models.SharingPolicy, error)
	UpdateSharingPolicy(ctx context.Context, p *models.SharingPolicy) error
	DeactivatePolicy(ctx context.Context, policyID uuid.UUID, now time.Time) error

	CreateAccessRequest(ctx context.Context, r *models.SharingAccessRequest) error
	GetAccessRequest(ctx context.Context, id uuid.UUID) (*models.SharingAccessRequest, error)
	HasPendingRequest(ctx context.Context, policyID, requesterTenantID uuid.UUID) (bool, error)
	RejectRequest(ctx context.Context, id uuid.UUID, rejectedBy, reason string, now time.Time) error
	ApproveRequest(ctx context.Context, requestID uuid.UUID, approvedBy string, now time.Time) (*models.SharingAccessGrant, error)

	GetGrant(ctx context.Context, id uuid.UUID) (*models.SharingAccessGrant, error)
	GetGrantForConsumer(ctx context.Context, policyID, consumerTenantID uuid.UUID) (*models.SharingAccessGrant, error)
	RevokeGrant(ctx context.Context, grantID uuid.UUID, revokedBy, reason string, now time.Time) error
	RecordGrantUsage(ctx context.Context, grantID uuid.UUID, day time.Time, cost, revenue float64, now time.Time) error
	AggregateSharingUsage(ctx context.Context, ownerTenantID uuid.UUID, from, to time.Time) ([]SharingUsageSummary, error)

	CreateListing(ctx context.Context, l *models.MarketplaceListing) error
	ListMarketplace(ctx context.Context, filter ListingFilter) ([]*models.MarketplaceListing, int, error)
}

// SharingUsageSummary is one policy's aggregated usage over a date range.
type SharingUsageSummary struct {
	PolicyID     uuid.UUID `json:"policy_id"`
	ResourceID   uuid.UUID `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	UsageCount   int64     `json:"usage_count"`
	Cost         float64   `json:"cost"`
	Revenue      float64   `json:"revenue"`
}

// Marketplace sort keys.
const (
	SortPopularity = "popularity"
	SortRating     = "rating"
	SortNewest     = "newest"
)

// ListingFilter narrows and pages a marketplace query.
type ListingFilter struct {
	ResourceType string
	Tag          string
	PricingModel models.PricingModel
	Sort         string
	Page         int
	Limit        int
}
