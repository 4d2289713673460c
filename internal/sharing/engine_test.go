package sharing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/notify"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSharingStore struct {
	mu       sync.Mutex
	tenants  map[uuid.UUID]*models.Tenant
	policies map[uuid.UUID]*models.SharingPolicy
	requests map[uuid.UUID]*models.SharingAccessRequest
	grants   map[uuid.UUID]*models.SharingAccessGrant
	usage    map[string]*models.SharingUsageTracking
	listings map[uuid.UUID]*models.MarketplaceListing
}

func newFakeSharingStore() *fakeSharingStore {
	return &fakeSharingStore{
		tenants:  make(map[uuid.UUID]*models.Tenant),
		policies: make(map[uuid.UUID]*models.SharingPolicy),
		requests: make(map[uuid.UUID]*models.SharingAccessRequest),
		grants:   make(map[uuid.UUID]*models.SharingAccessGrant),
		usage:    make(map[string]*models.SharingUsageTracking),
		listings: make(map[uuid.UUID]*models.MarketplaceListing),
	}
}

func (f *fakeSharingStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeSharingStore) CreateSharingPolicy(_ context.Context, p *models.SharingPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.policies {
		if existing.IsActive &&
			existing.ResourceID == p.ResourceID &&
			existing.ResourceType == p.ResourceType &&
			existing.OwnerTenantID == p.OwnerTenantID {
			return store.ErrDuplicateKey
		}
	}
	cp := *p
	f.policies[p.ID] = &cp
	return nil
}

func (f *fakeSharingStore) GetSharingPolicy(_ context.Context, id uuid.UUID) (*models.SharingPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSharingStore) GetActivePolicyForResource(_ context.Context, resourceID uuid.UUID, resourceType string) (*models.SharingPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.policies {
		if p.IsActive && p.ResourceID == resourceID && p.ResourceType == resourceType {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSharingStore) ListSharingPolicies(_ context.Context, ownerTenantID uuid.UUID) ([]*models.SharingPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SharingPolicy
	for _, p := range f.policies {
		if p.OwnerTenantID == ownerTenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSharingStore) UpdateSharingPolicy(_ context.Context, p *models.SharingPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.policies[p.ID]
	if !ok || !existing.IsActive {
		return store.ErrNotFound
	}
	existing.Visibility = p.Visibility
	existing.AllowedTenants = p.AllowedTenants
	existing.BlockedTenants = p.BlockedTenants
	existing.Permissions = p.Permissions
	existing.Conditions = p.Conditions
	existing.Pricing = p.Pricing
	existing.RequiresApproval = p.RequiresApproval
	existing.MaxConsumers = p.MaxConsumers
	existing.ExpiresAt = p.ExpiresAt
	return nil
}

func (f *fakeSharingStore) DeactivatePolicy(_ context.Context, policyID uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[policyID]
	if !ok {
		return store.ErrNotFound
	}
	p.IsActive = false
	for _, g := range f.grants {
		if g.PolicyID == policyID && g.IsActive {
			g.IsActive = false
			revoker := "system"
			g.RevokedBy = &revoker
			g.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeSharingStore) CreateAccessRequest(_ context.Context, r *models.SharingAccessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.requests {
		if existing.PolicyID == r.PolicyID &&
			existing.RequesterTenantID == r.RequesterTenantID &&
			existing.Status == models.RequestPending {
			return store.ErrDuplicateKey
		}
	}
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeSharingStore) GetAccessRequest(_ context.Context, id uuid.UUID) (*models.SharingAccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeSharingStore) HasPendingRequest(_ context.Context, policyID, requesterTenantID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.PolicyID == policyID && r.RequesterTenantID == requesterTenantID && r.Status == models.RequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSharingStore) RejectRequest(_ context.Context, id uuid.UUID, rejectedBy, reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RequestPending {
		return store.ErrNotPending
	}
	r.Status = models.RequestRejected
	r.RejectedBy = &rejectedBy
	r.RejectedAt = &now
	r.RejectionReason = &reason
	return nil
}

func (f *fakeSharingStore) ApproveRequest(_ context.Context, requestID uuid.UUID, approvedBy string, now time.Time) (*models.SharingAccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RequestPending {
		return nil, store.ErrNotPending
	}
	p, ok := f.policies[r.PolicyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.MaxConsumers > 0 && p.CurrentConsumers >= p.MaxConsumers {
		return nil, store.ErrNoCapacity
	}

	var grant *models.SharingAccessGrant
	for _, g := range f.grants {
		if g.PolicyID == r.PolicyID && g.ConsumerTenantID == r.RequesterTenantID {
			if g.IsActive {
				return nil, store.ErrDuplicateKey
			}
			grant = g
			break
		}
	}

	r.Status = models.RequestApproved
	r.ApprovedBy = &approvedBy
	r.ApprovedAt = &now

	if grant == nil {
		grant = &models.SharingAccessGrant{
			ID:               uuid.New(),
			PolicyID:         r.PolicyID,
			ConsumerTenantID: r.RequesterTenantID,
		}
		f.grants[grant.ID] = grant
	}
	grant.Permissions = p.Permissions
	grant.IsActive = true
	grant.ExpiresAt = p.ExpiresAt
	grant.GrantedBy = approvedBy
	grant.GrantedAt = now
	grant.RevokedBy = nil
	grant.RevokedAt = nil

	p.CurrentConsumers++

	cp := *grant
	return &cp, nil
}

func (f *fakeSharingStore) GetGrant(_ context.Context, id uuid.UUID) (*models.SharingAccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeSharingStore) GetGrantForConsumer(_ context.Context, policyID, consumerTenantID uuid.UUID) (*models.SharingAccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.PolicyID == policyID && g.ConsumerTenantID == consumerTenantID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSharingStore) RevokeGrant(_ context.Context, grantID uuid.UUID, revokedBy, reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[grantID]
	if !ok || !g.IsActive {
		return store.ErrNotFound
	}
	g.IsActive = false
	g.RevokedBy = &revokedBy
	g.RevokedAt = &now
	g.RevocationReason = &reason
	if p, ok := f.policies[g.PolicyID]; ok && p.CurrentConsumers > 0 {
		p.CurrentConsumers--
	}
	return nil
}

func (f *fakeSharingStore) RecordGrantUsage(_ context.Context, grantID uuid.UUID, day time.Time, cost, revenue float64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[grantID]
	if !ok {
		return store.ErrNotFound
	}
	g.UsageCount++
	g.LastUsedAt = &now

	key := grantID.String() + day.Format("2006-01-02")
	if row, ok := f.usage[key]; ok {
		row.UsageCount++
		row.Cost += cost
		row.Revenue += revenue
		return nil
	}
	f.usage[key] = &models.SharingUsageTracking{
		ID:         uuid.New(),
		GrantID:    grantID,
		UsageDate:  day,
		UsageCount: 1,
		Cost:       cost,
		Revenue:    revenue,
	}
	return nil
}

func (f *fakeSharingStore) AggregateSharingUsage(_ context.Context, ownerTenantID uuid.UUID, _, _ time.Time) ([]store.SharingUsageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPolicy := make(map[uuid.UUID]*store.SharingUsageSummary)
	for _, row := range f.usage {
		g, ok := f.grants[row.GrantID]
		if !ok {
			continue
		}
		p, ok := f.policies[g.PolicyID]
		if !ok || p.OwnerTenantID != ownerTenantID {
			continue
		}
		sum, ok := byPolicy[p.ID]
		if !ok {
			sum = &store.SharingUsageSummary{
				PolicyID:     p.ID,
				ResourceID:   p.ResourceID,
				ResourceType: p.ResourceType,
			}
			byPolicy[p.ID] = sum
		}
		sum.UsageCount += row.UsageCount
		sum.Cost += row.Cost
		sum.Revenue += row.Revenue
	}
	var out []store.SharingUsageSummary
	for _, s := range byPolicy {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSharingStore) CreateListing(_ context.Context, l *models.MarketplaceListing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.listings {
		if existing.PolicyID == l.PolicyID {
			return store.ErrDuplicateKey
		}
	}
	cp := *l
	f.listings[l.ID] = &cp
	return nil
}

func (f *fakeSharingStore) ListMarketplace(_ context.Context, _ store.ListingFilter) ([]*models.MarketplaceListing, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MarketplaceListing
	for _, l := range f.listings {
		cp := *l
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type captureNotifier struct {
	mu      sync.Mutex
	revenue []notify.RevenueEvent
}

func (c *captureNotifier) PublishQuotaAlert(notify.QuotaAlert) {}

func (c *captureNotifier) PublishRevenueEvent(e notify.RevenueEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revenue = append(c.revenue, e)
}

type fixture struct {
	engine   *Engine
	store    *fakeSharingStore
	notifier *captureNotifier
	owner    uuid.UUID
	consumer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newFakeSharingStore()
	n := &captureNotifier{}
	e, err := New(s, n, nil)
	require.NoError(t, err)

	owner := uuid.New()
	consumer := uuid.New()
	s.tenants[owner] = &models.Tenant{ID: owner, Tier: models.TierProfessional, Region: "us-east-1", Status: models.TenantActive}
	s.tenants[consumer] = &models.Tenant{ID: consumer, Tier: models.TierStarter, Region: "us-east-1", Status: models.TenantActive}

	return &fixture{engine: e, store: s, notifier: n, owner: owner, consumer: consumer}
}

func (fx *fixture) createPolicy(t *testing.T, mutate func(*models.SharingPolicy)) *models.SharingPolicy {
	t.Helper()
	p := &models.SharingPolicy{
		ResourceID:       uuid.New(),
		ResourceType:     "dataset",
		OwnerTenantID:    fx.owner,
		Visibility:       models.VisibilityMarketplace,
		Permissions:      []string{"read"},
		Pricing:          models.Pricing{Model: models.PricingFree},
		RequiresApproval: true,
	}
	if mutate != nil {
		mutate(p)
	}
	created, err := fx.engine.CreatePolicy(context.Background(), p)
	require.NoError(t, err)
	return created
}

func TestCreatePolicyRejectsDuplicateActive(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)

	_, err := fx.engine.CreatePolicy(context.Background(), &models.SharingPolicy{
		ResourceID:    p.ResourceID,
		ResourceType:  p.ResourceType,
		OwnerTenantID: fx.owner,
		Visibility:    models.VisibilityPublic,
		Pricing:       models.Pricing{Model: models.PricingFree},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRequestAccessPrivatePolicyLooksAbsent(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Visibility = models.VisibilityPrivate
	})

	_, _, err := fx.engine.RequestAccess(context.Background(), p.ID, fx.consumer, "user-1", "need it")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, fx.store.requests)
}

func TestRequestAccessTenantVisibilityForbidden(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Visibility = models.VisibilityTenant
	})

	_, _, err := fx.engine.RequestAccess(context.Background(), p.ID, fx.consumer, "user-1", "")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
	assert.Empty(t, fx.store.requests)
}

func TestRequestAccessBlockedTenant(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.BlockedTenants = []uuid.UUID{fx.consumer}
	})

	_, _, err := fx.engine.RequestAccess(context.Background(), p.ID, fx.consumer, "user-1", "")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
}

func TestRequestAccessConditionFailure(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Conditions = []models.Condition{{Type: models.ConditionMinTier, Value: "enterprise"}}
	})

	_, _, err := fx.engine.RequestAccess(context.Background(), p.ID, fx.consumer, "user-1", "")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
	assert.Contains(t, err.Error(), "enterprise")
	assert.Empty(t, fx.store.requests)
}

func TestRequestAccessAutoApproval(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
	})

	req, grant, err := fx.engine.RequestAccess(context.Background(), p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, models.RequestApproved, req.Status)
	assert.True(t, grant.IsActive)
	assert.Equal(t, SystemAutoApprover, grant.GrantedBy)
	assert.Equal(t, []string{"read"}, grant.Permissions)

	stored, err := fx.store.GetSharingPolicy(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentConsumers)
}

func TestRequestAccessDuplicatePending(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)
	ctx := context.Background()

	_, _, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	_, _, err = fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestApproveAccessCapacityExhausted(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.MaxConsumers = 1
	})
	ctx := context.Background()

	req1, _, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	_, err = fx.engine.ApproveAccess(ctx, req1.ID, fx.owner, "owner-user")
	require.NoError(t, err)

	other := uuid.New()
	fx.store.tenants[other] = &models.Tenant{ID: other, Tier: models.TierStarter, Region: "us-east-1", Status: models.TenantActive}
	req2, _, err := fx.engine.RequestAccess(ctx, p.ID, other, "user-2", "")
	require.NoError(t, err)

	_, err = fx.engine.ApproveAccess(ctx, req2.ID, fx.owner, "owner-user")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	stored, err := fx.store.GetSharingPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentConsumers)
}

func TestApproveAccessNonPending(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)
	ctx := context.Background()

	req, _, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	_, err = fx.engine.ApproveAccess(ctx, req.ID, fx.owner, "owner-user")
	require.NoError(t, err)

	_, err = fx.engine.ApproveAccess(ctx, req.ID, fx.owner, "owner-user")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestApproveAccessOwnerOnly(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)
	ctx := context.Background()

	req, _, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	_, err = fx.engine.ApproveAccess(ctx, req.ID, fx.consumer, "sneaky")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
}

func TestRejectAccess(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)
	ctx := context.Background()

	req, _, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, fx.engine.RejectAccess(ctx, req.ID, fx.owner, "owner-user", "not a fit"))

	err = fx.engine.RejectAccess(ctx, req.ID, fx.owner, "owner-user", "again")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	stored, err := fx.store.GetAccessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, stored.Status)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "not a fit", *stored.RejectionReason)
}

func TestRevokeAccessTwiceFailsWithoutDoubleDecrement(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
		p.MaxConsumers = 5
	})
	ctx := context.Background()

	_, grant, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, fx.engine.RevokeAccess(ctx, grant.ID, fx.owner, "owner-user", "done"))

	err = fx.engine.RevokeAccess(ctx, grant.ID, fx.owner, "owner-user", "done again")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	stored, err := fx.store.GetSharingPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentConsumers)
}

func TestGrantUniquenessAcrossRevokeAndReapprove(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
	})
	ctx := context.Background()

	_, first, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	require.NoError(t, fx.engine.RevokeAccess(ctx, first.ID, fx.owner, "owner-user", ""))

	_, second, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	// The same grant row is reactivated, keeping one row per (policy, consumer).
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
	assert.Len(t, fx.store.grants, 1)
}

func TestHasAccess(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	t.Run("no active policy", func(t *testing.T) {
		dec, err := fx.engine.HasAccess(ctx, uuid.New(), "dataset", fx.consumer, "")
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, AccessDeniedNotFound, dec.Reason)
	})

	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
		p.Permissions = []string{"read"}
	})

	t.Run("owner always allowed", func(t *testing.T) {
		dec, err := fx.engine.HasAccess(ctx, p.ResourceID, p.ResourceType, fx.owner, "write")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, AccessOwner, dec.Reason)
	})

	t.Run("no grant yet", func(t *testing.T) {
		dec, err := fx.engine.HasAccess(ctx, p.ResourceID, p.ResourceType, fx.consumer, "")
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, AccessDeniedNoGrant, dec.Reason)
	})

	_, grant, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	require.NotNil(t, grant)

	t.Run("granted", func(t *testing.T) {
		dec, err := fx.engine.HasAccess(ctx, p.ResourceID, p.ResourceType, fx.consumer, "read")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, AccessGranted, dec.Reason)
		require.NotNil(t, dec.Grant)
	})

	t.Run("missing permission", func(t *testing.T) {
		dec, err := fx.engine.HasAccess(ctx, p.ResourceID, p.ResourceType, fx.consumer, "write")
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, AccessDeniedPermission, dec.Reason)
	})

	t.Run("revoked grant", func(t *testing.T) {
		require.NoError(t, fx.engine.RevokeAccess(ctx, grant.ID, fx.owner, "owner-user", ""))
		dec, err := fx.engine.HasAccess(ctx, p.ResourceID, p.ResourceType, fx.consumer, "")
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, AccessDeniedGrantLapsed, dec.Reason)
	})
}

func TestHasAccessPrivateLooksAbsent(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Visibility = models.VisibilityPrivate
	})

	dec, err := fx.engine.HasAccess(context.Background(), p.ResourceID, p.ResourceType, fx.consumer, "")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, AccessDeniedNotFound, dec.Reason)
}

func TestTrackUsageAccumulatesAndPublishes(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
		p.Pricing = models.Pricing{Model: models.PricingUsageBased, UnitPrice: 0.5}
	})
	ctx := context.Background()

	_, grant, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	rec, err := fx.engine.TrackUsage(ctx, grant.ID, 10)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, rec.Revenue, 0.0001)

	_, err = fx.engine.TrackUsage(ctx, grant.ID, 4)
	require.NoError(t, err)

	stored, err := fx.store.GetGrant(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.UsageCount)
	assert.NotNil(t, stored.LastUsedAt)

	require.Len(t, fx.store.usage, 1)
	for _, row := range fx.store.usage {
		assert.Equal(t, int64(2), row.UsageCount)
		assert.InDelta(t, 14.0, row.Cost, 0.0001)
		assert.InDelta(t, 7.0, row.Revenue, 0.0001)
	}

	fx.notifier.mu.Lock()
	defer fx.notifier.mu.Unlock()
	require.Len(t, fx.notifier.revenue, 2)
	assert.Equal(t, fx.owner, fx.notifier.revenue[0].OwnerTenantID)
}

func TestTrackUsageRevokedGrant(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
	})
	ctx := context.Background()

	_, grant, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)
	require.NoError(t, fx.engine.RevokeAccess(ctx, grant.ID, fx.owner, "owner-user", ""))

	_, err = fx.engine.TrackUsage(ctx, grant.ID, 1)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestDeletePolicyDeactivatesGrants(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.RequiresApproval = false
	})
	ctx := context.Background()

	_, grant, err := fx.engine.RequestAccess(ctx, p.ID, fx.consumer, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, fx.engine.DeletePolicy(ctx, fx.owner, p.ID))

	stored, err := fx.store.GetGrant(ctx, grant.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	err = fx.engine.DeletePolicy(ctx, fx.consumer, p.ID)
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
}

func TestUpdatePolicyOwnerOnly(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, nil)
	ctx := context.Background()

	p.MaxConsumers = 3
	_, err := fx.engine.UpdatePolicy(ctx, fx.consumer, p)
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	updated, err := fx.engine.UpdatePolicy(ctx, fx.owner, p)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.MaxConsumers)
}

func TestCreateListing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	private := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Visibility = models.VisibilityPrivate
	})
	_, err := fx.engine.CreateListing(ctx, fx.owner, &models.MarketplaceListing{
		PolicyID: private.ID,
		Name:     "hidden",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	public := fx.createPolicy(t, nil)
	listing, err := fx.engine.CreateListing(ctx, fx.owner, &models.MarketplaceListing{
		PolicyID:    public.ID,
		Name:        "shared dataset",
		Description: "hourly snapshots",
		Tags:        []string{"data"},
	})
	require.NoError(t, err)
	assert.True(t, listing.IsPublished)
	assert.Equal(t, fx.owner, listing.PublisherTenantID)
	assert.Equal(t, public.Pricing, listing.Pricing)

	_, err = fx.engine.CreateListing(ctx, fx.owner, &models.MarketplaceListing{
		PolicyID: public.ID,
		Name:     "duplicate",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestGetPolicyPrivateVisibleToOwnerOnly(t *testing.T) {
	fx := newFixture(t)
	p := fx.createPolicy(t, func(p *models.SharingPolicy) {
		p.Visibility = models.VisibilityPrivate
	})
	ctx := context.Background()

	_, err := fx.engine.GetPolicy(ctx, fx.consumer, p.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := fx.engine.GetPolicy(ctx, fx.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
