// Package sharing runs the cross-tenant resource sharing workflow: policy
// lifecycle, the request/approve/reject/revoke state machine, access checks,
// usage and revenue tracking, and marketplace listings.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/notify"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
)

// SystemAutoApprover is the actor recorded on grants created by synchronous
// auto-approval of policies that do not require approval.
const SystemAutoApprover = "system:auto-approval"

// Store is the slice of the durable store the engine needs.
type Store interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

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
	AggregateSharingUsage(ctx context.Context, ownerTenantID uuid.UUID, from, to time.Time) ([]store.SharingUsageSummary, error)

	CreateListing(ctx context.Context, l *models.MarketplaceListing) error
	ListMarketplace(ctx context.Context, filter store.ListingFilter) ([]*models.MarketplaceListing, int, error)
}

// Engine is the sharing engine. Safe for concurrent use.
type Engine struct {
	store      Store
	notifier   notify.Notifier
	conditions *conditionEvaluator
	tiered     TieredStrategy
	now        func() time.Time
}

// New creates a sharing Engine. tiered may be nil; tiered-priced policies
// then fall back to usage_based revenue.
func New(s Store, n notify.Notifier, tiered TieredStrategy) (*Engine, error) {
	ce, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{store: s, notifier: n, conditions: ce, tiered: tiered, now: time.Now}, nil
}

// CreatePolicy validates and persists a new active policy. At most one
// active policy may exist per (resource, owner); a duplicate surfaces as a
// validation failure.
func (e *Engine) CreatePolicy(ctx context.Context, p *models.SharingPolicy) (*models.SharingPolicy, error) {
	if err := validatePolicy(p); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	p.ID = uuid.New()
	p.IsActive = true
	p.CurrentConsumers = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := e.store.CreateSharingPolicy(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, &ValidationError{Reason: "an active policy already exists for this resource"}
		}
		return nil, err
	}
	return p, nil
}

// UpdatePolicy applies owner-only changes to a policy's rule fields.
// Consumer count, activation state, and ownership are not updatable here.
func (e *Engine) UpdatePolicy(ctx context.Context, actorTenantID uuid.UUID, p *models.SharingPolicy) (*models.SharingPolicy, error) {
	existing, err := e.store.GetSharingPolicy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing.OwnerTenantID != actorTenantID {
		return nil, &ForbiddenError{Reason: "only the policy owner may update it"}
	}
	if !existing.IsActive {
		return nil, &ValidationError{Reason: "policy is deactivated"}
	}
	if err := validatePolicyRules(p); err != nil {
		return nil, err
	}
	if err := e.store.UpdateSharingPolicy(ctx, p); err != nil {
		return nil, err
	}
	return e.store.GetSharingPolicy(ctx, p.ID)
}

// DeletePolicy soft-deactivates a policy and every active grant under it.
// Grants record their own revocation, so consumer counters are left alone.
func (e *Engine) DeletePolicy(ctx context.Context, actorTenantID, policyID uuid.UUID) error {
	existing, err := e.store.GetSharingPolicy(ctx, policyID)
	if err != nil {
		return err
	}
	if existing.OwnerTenantID != actorTenantID {
		return &ForbiddenError{Reason: "only the policy owner may delete it"}
	}
	return e.store.DeactivatePolicy(ctx, policyID, e.now().UTC())
}

// GetPolicy fetches a policy. Private policies are visible to their owner
// only; everyone else sees them as absent.
func (e *Engine) GetPolicy(ctx context.Context, actorTenantID, policyID uuid.UUID) (*models.SharingPolicy, error) {
	p, err := e.store.GetSharingPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.Visibility == models.VisibilityPrivate && p.OwnerTenantID != actorTenantID {
		return nil, fmt.Errorf("get policy %s: %w", policyID, store.ErrNotFound)
	}
	return p, nil
}

// ListPolicies returns all of a tenant's own policies, active or not.
func (e *Engine) ListPolicies(ctx context.Context, ownerTenantID uuid.UUID) ([]*models.SharingPolicy, error) {
	return e.store.ListSharingPolicies(ctx, ownerTenantID)
}

// RequestAccess starts the access workflow for a consumer tenant. Every
// policy condition must pass; the first failing one names the denial. When
// the policy does not require approval, the request is approved in the same
// call and the resulting grant is returned alongside it.
func (e *Engine) RequestAccess(ctx context.Context, policyID, requesterTenantID uuid.UUID, requesterUserID, justification string) (*models.SharingAccessRequest, *models.SharingAccessGrant, error) {
	p, err := e.store.GetSharingPolicy(ctx, policyID)
	if err != nil {
		return nil, nil, err
	}
	now := e.now().UTC()

	if p.OwnerTenantID == requesterTenantID {
		return nil, nil, &ValidationError{Reason: "the owning tenant already has full access"}
	}
	if err := e.checkVisibility(p, requesterTenantID); err != nil {
		return nil, nil, err
	}
	if !p.IsAccessible(now) {
		return nil, nil, &ValidationError{Reason: "policy is not accepting requests"}
	}
	if p.IsTenantBlocked(requesterTenantID) {
		return nil, nil, &ForbiddenError{Reason: "tenant is blocked by the policy owner"}
	}
	if !p.IsTenantAllowed(requesterTenantID) {
		return nil, nil, &ForbiddenError{Reason: "tenant is not on the policy allow list"}
	}

	if g, err := e.store.GetGrantForConsumer(ctx, policyID, requesterTenantID); err == nil {
		if g.IsValid(now) {
			return nil, nil, &ValidationError{Reason: "an active grant already exists"}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	pending, err := e.store.HasPendingRequest(ctx, policyID, requesterTenantID)
	if err != nil {
		return nil, nil, err
	}
	if pending {
		return nil, nil, &ValidationError{Reason: "a pending request already exists"}
	}

	requester, err := e.store.GetTenant(ctx, requesterTenantID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.conditions.Evaluate(p, requester); err != nil {
		return nil, nil, err
	}

	req := &models.SharingAccessRequest{
		ID:                uuid.New(),
		PolicyID:          policyID,
		RequesterTenantID: requesterTenantID,
		RequesterUserID:   requesterUserID,
		Status:            models.RequestPending,
		Justification:     justification,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateAccessRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, nil, &ValidationError{Reason: "a pending request already exists"}
		}
		return nil, nil, err
	}

	if p.RequiresApproval {
		return req, nil, nil
	}

	grant, err := e.approve(ctx, req.ID, SystemAutoApprover)
	if err != nil {
		return nil, nil, err
	}
	req.Status = models.RequestApproved
	return req, grant, nil
}

// ApproveAccess approves a pending request. Only the policy owner may
// approve; approval, grant activation, and the consumer-count increment
// commit together.
func (e *Engine) ApproveAccess(ctx context.Context, requestID, approverTenantID uuid.UUID, approverUserID string) (*models.SharingAccessGrant, error) {
	req, err := e.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	p, err := e.store.GetSharingPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if p.OwnerTenantID != approverTenantID {
		return nil, &ForbiddenError{Reason: "only the policy owner may approve requests"}
	}
	return e.approve(ctx, requestID, approverUserID)
}

func (e *Engine) approve(ctx context.Context, requestID uuid.UUID, approvedBy string) (*models.SharingAccessGrant, error) {
	grant, err := e.store.ApproveRequest(ctx, requestID, approvedBy, e.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotPending):
			return nil, &ConflictError{Reason: "request is not pending"}
		case errors.Is(err, store.ErrNoCapacity):
			return nil, &ConflictError{Reason: "policy has no remaining consumer capacity"}
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, &ConflictError{Reason: "an active grant already exists for this consumer"}
		}
		return nil, err
	}
	return grant, nil
}

// RejectAccess rejects a pending request with a reason. Owner-only.
func (e *Engine) RejectAccess(ctx context.Context, requestID, rejecterTenantID uuid.UUID, rejectedBy, reason string) error {
	req, err := e.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		return err
	}
	p, err := e.store.GetSharingPolicy(ctx, req.PolicyID)
	if err != nil {
		return err
	}
	if p.OwnerTenantID != rejecterTenantID {
		return &ForbiddenError{Reason: "only the policy owner may reject requests"}
	}
	if err := e.store.RejectRequest(ctx, requestID, rejectedBy, reason, e.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotPending) {
			return &ConflictError{Reason: "request is not pending"}
		}
		return err
	}
	return nil
}

// RevokeAccess deactivates a grant. The policy owner may revoke any grant
// under its policy; the consumer tenant may relinquish its own. The grant
// flip and consumer-count decrement commit together, and revoking an
// already-revoked grant is rejected without touching the count.
func (e *Engine) RevokeAccess(ctx context.Context, grantID, actorTenantID uuid.UUID, revokedBy, reason string) error {
	g, err := e.store.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	p, err := e.store.GetSharingPolicy(ctx, g.PolicyID)
	if err != nil {
		return err
	}
	if p.OwnerTenantID != actorTenantID && g.ConsumerTenantID != actorTenantID {
		return &ForbiddenError{Reason: "only the policy owner or the grant holder may revoke"}
	}
	if !g.IsActive {
		return &ValidationError{Reason: "grant is already revoked"}
	}
	if err := e.store.RevokeGrant(ctx, grantID, revokedBy, reason, e.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with another revoker.
			return &ValidationError{Reason: "grant is already revoked"}
		}
		return err
	}
	return nil
}

// AccessDecision is the outcome of an access check.
type AccessDecision struct {
	Allowed bool                       `json:"allowed"`
	Reason  string                     `json:"reason"`
	Grant   *models.SharingAccessGrant `json:"grant,omitempty"`
}

// Access decision reasons.
const (
	AccessOwner             = "owner"
	AccessGranted           = "granted"
	AccessDeniedNotFound    = "not_found"
	AccessDeniedExpired     = "policy_expired"
	AccessDeniedBlocked     = "blocked"
	AccessDeniedNotShared   = "not_shared"
	AccessDeniedNotAllowed  = "not_allowed"
	AccessDeniedNoGrant     = "no_grant"
	AccessDeniedGrantLapsed = "grant_inactive_or_expired"
	AccessDeniedPermission  = "missing_permission"
)

// HasAccess decides whether a tenant may use a resource, optionally with a
// specific permission. The owner always may. Denials carry a reason except
// for private resources, which are reported as absent.
func (e *Engine) HasAccess(ctx context.Context, resourceID uuid.UUID, resourceType string, tenantID uuid.UUID, permission string) (*AccessDecision, error) {
	p, err := e.store.GetActivePolicyForResource(ctx, resourceID, resourceType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AccessDecision{Reason: AccessDeniedNotFound}, nil
		}
		return nil, err
	}
	if p.OwnerTenantID == tenantID {
		return &AccessDecision{Allowed: true, Reason: AccessOwner}, nil
	}

	now := e.now().UTC()
	if p.IsExpired(now) {
		return &AccessDecision{Reason: AccessDeniedExpired}, nil
	}
	if p.IsTenantBlocked(tenantID) {
		return &AccessDecision{Reason: AccessDeniedBlocked}, nil
	}
	switch p.Visibility {
	case models.VisibilityPrivate:
		return &AccessDecision{Reason: AccessDeniedNotFound}, nil
	case models.VisibilityTenant:
		return &AccessDecision{Reason: AccessDeniedNotShared}, nil
	}
	if !p.IsTenantAllowed(tenantID) {
		return &AccessDecision{Reason: AccessDeniedNotAllowed}, nil
	}

	g, err := e.store.GetGrantForConsumer(ctx, p.ID, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AccessDecision{Reason: AccessDeniedNoGrant}, nil
		}
		return nil, err
	}
	if !g.IsValid(now) {
		return &AccessDecision{Reason: AccessDeniedGrantLapsed}, nil
	}
	if permission != "" && !g.HasPermission(permission) {
		return &AccessDecision{Reason: AccessDeniedPermission}, nil
	}
	return &AccessDecision{Allowed: true, Reason: AccessGranted, Grant: g}, nil
}

// UsageRecord is the result of one TrackUsage call.
type UsageRecord struct {
	GrantID uuid.UUID `json:"grant_id"`
	Cost    float64   `json:"cost"`
	Revenue float64   `json:"revenue"`
	Day     time.Time `json:"day"`
}

// TrackUsage records one use of a shared resource against its grant: the
// grant's counters advance, the day's tracking row accumulates cost and
// revenue, and a revenue event is published best-effort.
func (e *Engine) TrackUsage(ctx context.Context, grantID uuid.UUID, cost float64) (*UsageRecord, error) {
	g, err := e.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if !g.IsValid(now) {
		return nil, &ValidationError{Reason: "grant is not active"}
	}
	p, err := e.store.GetSharingPolicy(ctx, g.PolicyID)
	if err != nil {
		return nil, err
	}

	revenue := computeRevenue(p.Pricing, cost, g.UsageCount, e.tiered)
	day := now.Truncate(24 * time.Hour)
	if err := e.store.RecordGrantUsage(ctx, grantID, day, cost, revenue, now); err != nil {
		return nil, err
	}

	e.notifier.PublishRevenueEvent(notify.RevenueEvent{
		GrantID:       grantID,
		PolicyID:      p.ID,
		OwnerTenantID: p.OwnerTenantID,
		Cost:          cost,
		Revenue:       revenue,
		OccurredAt:    now,
	})

	return &UsageRecord{GrantID: grantID, Cost: cost, Revenue: revenue, Day: day}, nil
}

// GetUsageStatistics aggregates tracked usage across all of an owner's
// policies over a date range.
func (e *Engine) GetUsageStatistics(ctx context.Context, ownerTenantID uuid.UUID, from, to time.Time) ([]store.SharingUsageSummary, error) {
	return e.store.AggregateSharingUsage(ctx, ownerTenantID, from, to)
}

// CreateListing publishes a policy's resource to the marketplace. The
// policy must belong to the actor and be visible beyond its own tenant.
func (e *Engine) CreateListing(ctx context.Context, actorTenantID uuid.UUID, l *models.MarketplaceListing) (*models.MarketplaceListing, error) {
	p, err := e.store.GetSharingPolicy(ctx, l.PolicyID)
	if err != nil {
		return nil, err
	}
	if p.OwnerTenantID != actorTenantID {
		return nil, &ForbiddenError{Reason: "only the policy owner may publish a listing"}
	}
	if p.Visibility != models.VisibilityMarketplace && p.Visibility != models.VisibilityPublic {
		return nil, &ValidationError{Reason: "policy visibility does not permit marketplace publication"}
	}
	if !p.IsAccessible(e.now().UTC()) {
		return nil, &ValidationError{Reason: "policy is not active"}
	}
	if l.Name == "" {
		return nil, &ValidationError{Reason: "listing name is required"}
	}

	now := e.now().UTC()
	l.ID = uuid.New()
	l.PublisherTenantID = p.OwnerTenantID
	l.ResourceType = p.ResourceType
	l.Pricing = p.Pricing
	l.IsPublished = true
	l.PublishedAt = now
	l.CreatedAt = now
	l.UpdatedAt = now
	if err := e.store.CreateListing(ctx, l); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, &ValidationError{Reason: "a listing already exists for this policy"}
		}
		return nil, err
	}
	return l, nil
}

// ListMarketplace queries published listings with filters, sort, and
// pagination. Returns the page plus the total match count.
func (e *Engine) ListMarketplace(ctx context.Context, filter store.ListingFilter) ([]*models.MarketplaceListing, int, error) {
	return e.store.ListMarketplace(ctx, filter)
}

// checkVisibility applies the visibility gate for request-time flows.
// Private policies are reported as absent to non-owners.
func (e *Engine) checkVisibility(p *models.SharingPolicy, tenantID uuid.UUID) error {
	switch p.Visibility {
	case models.VisibilityPrivate:
		return fmt.Errorf("get policy %s: %w", p.ID, store.ErrNotFound)
	case models.VisibilityTenant:
		return &ForbiddenError{Reason: "resource is not shared outside its tenant"}
	}
	return nil
}

func validatePolicy(p *models.SharingPolicy) error {
	if p.ResourceID == uuid.Nil {
		return &ValidationError{Reason: "resource_id is required"}
	}
	if p.ResourceType == "" {
		return &ValidationError{Reason: "resource_type is required"}
	}
	if p.OwnerTenantID == uuid.Nil {
		return &ValidationError{Reason: "owner_tenant_id is required"}
	}
	return validatePolicyRules(p)
}

func validatePolicyRules(p *models.SharingPolicy) error {
	switch p.Visibility {
	case models.VisibilityPrivate, models.VisibilityTenant,
		models.VisibilityMarketplace, models.VisibilityPublic:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown visibility %q", p.Visibility)}
	}
	switch p.Pricing.Model {
	case models.PricingFree, models.PricingFixed,
		models.PricingUsageBased, models.PricingTiered:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown pricing model %q", p.Pricing.Model)}
	}
	if p.MaxConsumers < 0 {
		return &ValidationError{Reason: "max_consumers must not be negative"}
	}
	for _, c := range p.Conditions {
		switch c.Type {
		case models.ConditionMinTier, models.ConditionRegion,
			models.ConditionMaxCost, models.ConditionExpression:
		default:
			return &ValidationError{Reason: fmt.Sprintf("unknown condition type %q", c.Type)}
		}
	}
	return nil
}
