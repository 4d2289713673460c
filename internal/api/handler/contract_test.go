package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/handler"
	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/quota"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/sharing"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

var (
	testTenantID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testPolicyID = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testGrantID  = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
)

// ─── mock services ───────────────────────────────────────────────────────────

type mockQuotaService struct {
	checkResult *quota.CheckResult
	checkErr    error
	quotas      []*models.TenantQuota
	stats       []quota.UsageStat
	err         error

	lastLimit     int64
	lastSoftLimit int64
	lastTier      models.Tier
}

func (m *mockQuotaService) InitializeQuotas(_ context.Context, _ uuid.UUID, tier models.Tier) error {
	m.lastTier = tier
	return m.err
}

func (m *mockQuotaService) CheckQuota(_ context.Context, _ uuid.UUID, _ models.QuotaType, _ int64) (*quota.CheckResult, error) {
	return m.checkResult, m.checkErr
}

func (m *mockQuotaService) GetQuotas(_ context.Context, _ uuid.UUID) ([]*models.TenantQuota, error) {
	return m.quotas, m.err
}

func (m *mockQuotaService) GetUsageStatistics(_ context.Context, _ uuid.UUID) ([]quota.UsageStat, error) {
	return m.stats, m.err
}

func (m *mockQuotaService) UpdateQuotaLimit(_ context.Context, _ uuid.UUID, _ models.QuotaType, limit, softLimit int64) error {
	m.lastLimit, m.lastSoftLimit = limit, softLimit
	return m.err
}

func (m *mockQuotaService) UpdateQuotasForTier(_ context.Context, _ uuid.UUID, tier models.Tier) error {
	m.lastTier = tier
	return m.err
}

type mockSharingService struct {
	policy   *models.SharingPolicy
	policies []*models.SharingPolicy
	request  *models.SharingAccessRequest
	grant    *models.SharingAccessGrant
	decision *sharing.AccessDecision
	record   *sharing.UsageRecord
	usage    []store.SharingUsageSummary
	err      error

	lastJustification string
	lastReason        string
	lastPermission    string
}

func (m *mockSharingService) CreatePolicy(_ context.Context, p *models.SharingPolicy) (*models.SharingPolicy, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.policy != nil {
		return m.policy, nil
	}
	out := *p
	out.ID = testPolicyID
	return &out, nil
}

func (m *mockSharingService) UpdatePolicy(_ context.Context, _ uuid.UUID, p *models.SharingPolicy) (*models.SharingPolicy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return p, nil
}

func (m *mockSharingService) DeletePolicy(_ context.Context, _, _ uuid.UUID) error {
	return m.err
}

func (m *mockSharingService) GetPolicy(_ context.Context, _, _ uuid.UUID) (*models.SharingPolicy, error) {
	return m.policy, m.err
}

func (m *mockSharingService) ListPolicies(_ context.Context, _ uuid.UUID) ([]*models.SharingPolicy, error) {
	return m.policies, m.err
}

func (m *mockSharingService) RequestAccess(_ context.Context, _, _ uuid.UUID, _, justification string) (*models.SharingAccessRequest, *models.SharingAccessGrant, error) {
	m.lastJustification = justification
	return m.request, m.grant, m.err
}

func (m *mockSharingService) ApproveAccess(_ context.Context, _, _ uuid.UUID, _ string) (*models.SharingAccessGrant, error) {
	return m.grant, m.err
}

func (m *mockSharingService) RejectAccess(_ context.Context, _, _ uuid.UUID, _, reason string) error {
	m.lastReason = reason
	return m.err
}

func (m *mockSharingService) RevokeAccess(_ context.Context, _, _ uuid.UUID, _, reason string) error {
	m.lastReason = reason
	return m.err
}

func (m *mockSharingService) HasAccess(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID, permission string) (*sharing.AccessDecision, error) {
	m.lastPermission = permission
	return m.decision, m.err
}

func (m *mockSharingService) TrackUsage(_ context.Context, _ uuid.UUID, _ float64) (*sharing.UsageRecord, error) {
	return m.record, m.err
}

func (m *mockSharingService) GetUsageStatistics(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]store.SharingUsageSummary, error) {
	return m.usage, m.err
}

type mockMarketplaceService struct {
	listing  *models.MarketplaceListing
	listings []*models.MarketplaceListing
	total    int
	err      error

	lastFilter store.ListingFilter
}

func (m *mockMarketplaceService) CreateListing(_ context.Context, _ uuid.UUID, _ *models.MarketplaceListing) (*models.MarketplaceListing, error) {
	return m.listing, m.err
}

func (m *mockMarketplaceService) ListMarketplace(_ context.Context, filter store.ListingFilter) ([]*models.MarketplaceListing, int, error) {
	m.lastFilter = filter
	return m.listings, m.total, m.err
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// do routes a request through a chi mux so URL params resolve, with the
// tenant and user injected the way the auth middleware would.
func do(t *testing.T, method, pattern, path string, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := mw.SetTenantID(req.Context(), testTenantID)
	ctx = mw.SetUserID(ctx, "user-1")
	req = req.WithContext(ctx)

	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// doAnon is do without tenant context.
func doAnon(t *testing.T, method, pattern, path string, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)

	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code, body.Error.Message
}

// ─── quota handlers ──────────────────────────────────────────────────────────

func TestListQuotasHandler(t *testing.T) {
	svc := &mockQuotaService{quotas: []*models.TenantQuota{
		{ID: uuid.New(), TenantID: testTenantID, QuotaType: models.QuotaAPIRequests, Limit: 1000},
	}}
	rec := do(t, http.MethodGet, "/quotas", "/quotas", handler.NewListQuotasHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []*models.TenantQuota `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, models.QuotaAPIRequests, body.Data[0].QuotaType)
}

func TestListQuotasHandler_MissingTenant(t *testing.T) {
	rec := doAnon(t, http.MethodGet, "/quotas", "/quotas", handler.NewListQuotasHandler(&mockQuotaService{}), nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "INVALID_TOKEN", code)
}

func TestCheckQuotaHandler(t *testing.T) {
	svc := &mockQuotaService{checkResult: &quota.CheckResult{
		Allowed:      true,
		Reason:       quota.ReasonWithinLimit,
		QuotaType:    models.QuotaAPIRequests,
		Limit:        1000,
		CurrentUsage: 10,
		Remaining:    990,
	}}
	rec := do(t, http.MethodPost, "/quotas/check", "/quotas/check",
		handler.NewCheckQuotaHandler(svc), map[string]any{"quota_type": "api_requests", "amount": 5})

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data quota.CheckResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Data.Allowed)
	assert.Equal(t, int64(990), body.Data.Remaining)
}

func TestCheckQuotaHandler_MissingQuotaType(t *testing.T) {
	rec := do(t, http.MethodPost, "/quotas/check", "/quotas/check",
		handler.NewCheckQuotaHandler(&mockQuotaService{}), map[string]any{"amount": 1})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "INVALID_REQUEST", code)
}

func TestCheckQuotaHandler_Exceeded(t *testing.T) {
	svc := &mockQuotaService{checkErr: &quota.QuotaExceededError{
		QuotaType:    models.QuotaAPIRequests,
		Limit:        100,
		CurrentUsage: 100,
	}}
	rec := do(t, http.MethodPost, "/quotas/check", "/quotas/check",
		handler.NewCheckQuotaHandler(svc), map[string]any{"quota_type": "api_requests"})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "QUOTA_EXCEEDED", code)
}

func TestQuotaUsageHandler(t *testing.T) {
	svc := &mockQuotaService{stats: []quota.UsageStat{
		{QuotaType: models.QuotaStorageMB, Limit: 512, CurrentUsage: 256, Remaining: 256, PercentUsed: 50},
	}}
	rec := do(t, http.MethodGet, "/quotas/usage", "/quotas/usage", handler.NewQuotaUsageHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []quota.UsageStat `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.InDelta(t, 50.0, body.Data[0].PercentUsed, 0.001)
}

func TestUpdateQuotaLimitHandler(t *testing.T) {
	svc := &mockQuotaService{}
	rec := do(t, http.MethodPut, "/admin/quotas/{quotaType}", "/admin/quotas/api_requests",
		handler.NewUpdateQuotaLimitHandler(svc), map[string]any{"limit": 5000, "soft_limit": 4000})

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(5000), svc.lastLimit)
	assert.Equal(t, int64(4000), svc.lastSoftLimit)
}

func TestUpdateQuotaLimitHandler_RejectsLimitBelowUnlimited(t *testing.T) {
	rec := do(t, http.MethodPut, "/admin/quotas/{quotaType}", "/admin/quotas/api_requests",
		handler.NewUpdateQuotaLimitHandler(&mockQuotaService{}), map[string]any{"limit": -2})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeQuotasHandler(t *testing.T) {
	svc := &mockQuotaService{}
	path := fmt.Sprintf("/admin/tenants/%s/quotas", testTenantID)
	rec := do(t, http.MethodPost, "/admin/tenants/{tenantID}/quotas", path,
		handler.NewInitializeQuotasHandler(svc), map[string]any{"tier": "professional"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, models.TierProfessional, svc.lastTier)
}

func TestInitializeQuotasHandler_BadTenantID(t *testing.T) {
	rec := do(t, http.MethodPost, "/admin/tenants/{tenantID}/quotas", "/admin/tenants/not-a-uuid/quotas",
		handler.NewInitializeQuotasHandler(&mockQuotaService{}), map[string]any{"tier": "starter"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeQuotasHandler_UnknownTier(t *testing.T) {
	path := fmt.Sprintf("/admin/tenants/%s/quotas", testTenantID)
	rec := do(t, http.MethodPost, "/admin/tenants/{tenantID}/quotas", path,
		handler.NewInitializeQuotasHandler(&mockQuotaService{}), map[string]any{"tier": "platinum"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTierHandler(t *testing.T) {
	svc := &mockQuotaService{}
	path := fmt.Sprintf("/admin/tenants/%s/tier", testTenantID)
	rec := do(t, http.MethodPut, "/admin/tenants/{tenantID}/tier", path,
		handler.NewUpdateTierHandler(svc), map[string]any{"tier": "enterprise"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TierEnterprise, svc.lastTier)
}

// ─── sharing handlers ────────────────────────────────────────────────────────

func TestCreatePolicyHandler(t *testing.T) {
	svc := &mockSharingService{}
	rec := do(t, http.MethodPost, "/sharing/policies", "/sharing/policies",
		handler.NewCreatePolicyHandler(svc), map[string]any{
			"resource_id":   uuid.New(),
			"resource_type": "dataset",
			"visibility":    "marketplace",
			"permissions":   []string{"read"},
		})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data models.SharingPolicy `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, testTenantID, body.Data.OwnerTenantID)
	assert.Equal(t, models.PricingFree, body.Data.Pricing.Model)
}

func TestCreatePolicyHandler_ValidationError(t *testing.T) {
	svc := &mockSharingService{err: &sharing.ValidationError{Reason: "permissions must not be empty"}}
	rec := do(t, http.MethodPost, "/sharing/policies", "/sharing/policies",
		handler.NewCreatePolicyHandler(svc), map[string]any{"resource_type": "dataset"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	code, msg := decodeError(t, rec)
	assert.Equal(t, "INVALID_REQUEST", code)
	assert.Equal(t, "permissions must not be empty", msg)
}

func TestGetPolicyHandler_NotFound(t *testing.T) {
	svc := &mockSharingService{err: store.ErrNotFound}
	path := "/sharing/policies/" + testPolicyID.String()
	rec := do(t, http.MethodGet, "/sharing/policies/{policyID}", path,
		handler.NewGetPolicyHandler(svc), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestGetPolicyHandler_BadID(t *testing.T) {
	rec := do(t, http.MethodGet, "/sharing/policies/{policyID}", "/sharing/policies/nope",
		handler.NewGetPolicyHandler(&mockSharingService{}), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePolicyHandler_Forbidden(t *testing.T) {
	svc := &mockSharingService{err: &sharing.ForbiddenError{Reason: "only the owner may delete a policy"}}
	path := "/sharing/policies/" + testPolicyID.String()
	rec := do(t, http.MethodDelete, "/sharing/policies/{policyID}", path,
		handler.NewDeletePolicyHandler(svc), nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	code, msg := decodeError(t, rec)
	assert.Equal(t, "FORBIDDEN", code)
	assert.Equal(t, "only the owner may delete a policy", msg)
}

func TestRequestAccessHandler(t *testing.T) {
	svc := &mockSharingService{
		request: &models.SharingAccessRequest{ID: uuid.New(), PolicyID: testPolicyID, Status: models.RequestPending},
	}
	path := "/sharing/policies/" + testPolicyID.String() + "/requests"
	rec := do(t, http.MethodPost, "/sharing/policies/{policyID}/requests", path,
		handler.NewRequestAccessHandler(svc), map[string]any{"justification": "nightly sync"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "nightly sync", svc.lastJustification)

	var body struct {
		Data struct {
			Request *models.SharingAccessRequest `json:"request"`
			Grant   *models.SharingAccessGrant   `json:"grant"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Data.Request)
	assert.Nil(t, body.Data.Grant)
}

func TestRequestAccessHandler_AutoApproved(t *testing.T) {
	svc := &mockSharingService{
		request: &models.SharingAccessRequest{ID: uuid.New(), PolicyID: testPolicyID, Status: models.RequestApproved},
		grant:   &models.SharingAccessGrant{ID: testGrantID, PolicyID: testPolicyID, IsActive: true},
	}
	path := "/sharing/policies/" + testPolicyID.String() + "/requests"
	rec := do(t, http.MethodPost, "/sharing/policies/{policyID}/requests", path,
		handler.NewRequestAccessHandler(svc), map[string]any{"justification": ""})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data struct {
			Grant *models.SharingAccessGrant `json:"grant"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Data.Grant)
	assert.True(t, body.Data.Grant.IsActive)
}

func TestApproveAccessHandler_Conflict(t *testing.T) {
	svc := &mockSharingService{err: &sharing.ConflictError{Reason: "request is not pending"}}
	path := "/sharing/requests/" + uuid.NewString() + "/approve"
	rec := do(t, http.MethodPost, "/sharing/requests/{requestID}/approve", path,
		handler.NewApproveAccessHandler(svc), nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "CONFLICT", code)
}

func TestRejectAccessHandler(t *testing.T) {
	svc := &mockSharingService{}
	path := "/sharing/requests/" + uuid.NewString() + "/reject"
	rec := do(t, http.MethodPost, "/sharing/requests/{requestID}/reject", path,
		handler.NewRejectAccessHandler(svc), map[string]any{"reason": "not a fit"})

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "not a fit", svc.lastReason)
}

func TestRevokeAccessHandler(t *testing.T) {
	svc := &mockSharingService{}
	path := "/sharing/grants/" + testGrantID.String() + "/revoke"
	rec := do(t, http.MethodPost, "/sharing/grants/{grantID}/revoke", path,
		handler.NewRevokeAccessHandler(svc), map[string]any{"reason": "offboarding"})

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "offboarding", svc.lastReason)
}

func TestHasAccessHandler(t *testing.T) {
	svc := &mockSharingService{decision: &sharing.AccessDecision{Allowed: true, Reason: sharing.AccessGranted}}
	path := "/sharing/access?resource_id=" + uuid.NewString() + "&resource_type=dataset&permission=read"
	rec := do(t, http.MethodGet, "/sharing/access", path, handler.NewHasAccessHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "read", svc.lastPermission)

	var body struct {
		Data sharing.AccessDecision `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Data.Allowed)
	assert.Equal(t, sharing.AccessGranted, body.Data.Reason)
}

func TestHasAccessHandler_MissingResourceType(t *testing.T) {
	path := "/sharing/access?resource_id=" + uuid.NewString()
	rec := do(t, http.MethodGet, "/sharing/access", path, handler.NewHasAccessHandler(&mockSharingService{}), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackUsageHandler(t *testing.T) {
	svc := &mockSharingService{record: &sharing.UsageRecord{GrantID: testGrantID, Cost: 2.5, Revenue: 0.25}}
	path := "/sharing/grants/" + testGrantID.String() + "/usage"
	rec := do(t, http.MethodPost, "/sharing/grants/{grantID}/usage", path,
		handler.NewTrackUsageHandler(svc), map[string]any{"cost": 2.5})

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data sharing.UsageRecord `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.InDelta(t, 0.25, body.Data.Revenue, 0.0001)
}

func TestTrackUsageHandler_NegativeCost(t *testing.T) {
	path := "/sharing/grants/" + testGrantID.String() + "/usage"
	rec := do(t, http.MethodPost, "/sharing/grants/{grantID}/usage", path,
		handler.NewTrackUsageHandler(&mockSharingService{}), map[string]any{"cost": -1})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSharingUsageHandler(t *testing.T) {
	svc := &mockSharingService{usage: []store.SharingUsageSummary{
		{PolicyID: testPolicyID, ResourceType: "dataset", UsageCount: 7, Cost: 14, Revenue: 1.4},
	}}
	rec := do(t, http.MethodGet, "/sharing/usage", "/sharing/usage", handler.NewSharingUsageHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []store.SharingUsageSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(7), body.Data[0].UsageCount)
}

func TestSharingUsageHandler_BadRange(t *testing.T) {
	rec := do(t, http.MethodGet, "/sharing/usage",
		"/sharing/usage?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		handler.NewSharingUsageHandler(&mockSharingService{}), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSharingUsageHandler_BadTimestamp(t *testing.T) {
	rec := do(t, http.MethodGet, "/sharing/usage", "/sharing/usage?from=yesterday",
		handler.NewSharingUsageHandler(&mockSharingService{}), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─── marketplace handlers ────────────────────────────────────────────────────

func TestCreateListingHandler(t *testing.T) {
	svc := &mockMarketplaceService{listing: &models.MarketplaceListing{
		ID: uuid.New(), PolicyID: testPolicyID, Name: "weather-data", IsPublished: true,
	}}
	rec := do(t, http.MethodPost, "/marketplace/listings", "/marketplace/listings",
		handler.NewCreateListingHandler(svc), map[string]any{
			"policy_id": testPolicyID,
			"name":      "weather-data",
			"tags":      []string{"weather"},
		})

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateListingHandler_MissingFields(t *testing.T) {
	rec := do(t, http.MethodPost, "/marketplace/listings", "/marketplace/listings",
		handler.NewCreateListingHandler(&mockMarketplaceService{}), map[string]any{"name": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, http.MethodPost, "/marketplace/listings", "/marketplace/listings",
		handler.NewCreateListingHandler(&mockMarketplaceService{}), map[string]any{"policy_id": testPolicyID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMarketplaceHandler(t *testing.T) {
	svc := &mockMarketplaceService{
		listings: []*models.MarketplaceListing{{ID: uuid.New(), Name: "weather-data"}},
		total:    45,
	}
	rec := do(t, http.MethodGet, "/marketplace/listings",
		"/marketplace/listings?resource_type=dataset&sort=rating&page=2&limit=20",
		handler.NewListMarketplaceHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dataset", svc.lastFilter.ResourceType)
	assert.Equal(t, store.SortRating, svc.lastFilter.Sort)
	assert.Equal(t, 2, svc.lastFilter.Page)

	var body struct {
		Data []*models.MarketplaceListing `json:"data"`
		Meta struct {
			Page    int  `json:"page"`
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 45, body.Meta.Total)
	assert.True(t, body.Meta.HasNext)
}

func TestListMarketplaceHandler_BadSort(t *testing.T) {
	rec := do(t, http.MethodGet, "/marketplace/listings", "/marketplace/listings?sort=price",
		handler.NewListMarketplaceHandler(&mockMarketplaceService{}), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
