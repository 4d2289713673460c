package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/sharing"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// SharingService defines the sharing engine surface the handlers depend on.
type SharingService interface {
	CreatePolicy(ctx context.Context, p *models.SharingPolicy) (*models.SharingPolicy, error)
	UpdatePolicy(ctx context.Context, actorTenantID uuid.UUID, p *models.SharingPolicy) (*models.SharingPolicy, error)
	DeletePolicy(ctx context.Context, actorTenantID, policyID uuid.UUID) error
	GetPolicy(ctx context.Context, actorTenantID, policyID uuid.UUID) (*models.SharingPolicy, error)
	ListPolicies(ctx context.Context, ownerTenantID uuid.UUID) ([]*models.SharingPolicy, error)
	RequestAccess(ctx context.Context, policyID, requesterTenantID uuid.UUID, requesterUserID, justification string) (*models.SharingAccessRequest, *models.SharingAccessGrant, error)
	ApproveAccess(ctx context.Context, requestID, approverTenantID uuid.UUID, approverUserID string) (*models.SharingAccessGrant, error)
	RejectAccess(ctx context.Context, requestID, rejecterTenantID uuid.UUID, rejectedBy, reason string) error
	RevokeAccess(ctx context.Context, grantID, actorTenantID uuid.UUID, revokedBy, reason string) error
	HasAccess(ctx context.Context, resourceID uuid.UUID, resourceType string, tenantID uuid.UUID, permission string) (*sharing.AccessDecision, error)
	TrackUsage(ctx context.Context, grantID uuid.UUID, cost float64) (*sharing.UsageRecord, error)
	GetUsageStatistics(ctx context.Context, ownerTenantID uuid.UUID, from, to time.Time) ([]store.SharingUsageSummary, error)
}

type policyRequest struct {
	ResourceID       uuid.UUID          `json:"resource_id"`
	ResourceType     string             `json:"resource_type"`
	Visibility       string             `json:"visibility"`
	AllowedTenants   []uuid.UUID        `json:"allowed_tenants"`
	BlockedTenants   []uuid.UUID        `json:"blocked_tenants"`
	Permissions      []string           `json:"permissions"`
	Conditions       []models.Condition `json:"conditions"`
	Pricing          models.Pricing     `json:"pricing"`
	RequiresApproval bool               `json:"requires_approval"`
	MaxConsumers     int                `json:"max_consumers"`
	ExpiresAt        *time.Time         `json:"expires_at"`
}

func (pr *policyRequest) toModel() *models.SharingPolicy {
	pricing := pr.Pricing
	if pricing.Model == "" {
		pricing.Model = models.PricingFree
	}
	return &models.SharingPolicy{
		ResourceID:       pr.ResourceID,
		ResourceType:     pr.ResourceType,
		Visibility:       models.Visibility(pr.Visibility),
		AllowedTenants:   pr.AllowedTenants,
		BlockedTenants:   pr.BlockedTenants,
		Permissions:      pr.Permissions,
		Conditions:       pr.Conditions,
		Pricing:          pricing,
		RequiresApproval: pr.RequiresApproval,
		MaxConsumers:     pr.MaxConsumers,
		ExpiresAt:        pr.ExpiresAt,
	}
}

// NewCreatePolicyHandler returns a handler for POST /api/v1/sharing/policies.
func NewCreatePolicyHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req policyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		p := req.toModel()
		p.OwnerTenantID = tenantID

		created, err := svc.CreatePolicy(r.Context(), p)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.Created(w, created)
	}
}

// NewListPoliciesHandler returns a handler for GET /api/v1/sharing/policies.
func NewListPoliciesHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		policies, err := svc.ListPolicies(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, policies)
	}
}

// NewGetPolicyHandler returns a handler for GET /api/v1/sharing/policies/{policyID}.
func NewGetPolicyHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "policyID must be a valid UUID", nil)
			return
		}
		p, err := svc.GetPolicy(r.Context(), tenantID, policyID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, p)
	}
}

// NewUpdatePolicyHandler returns a handler for PUT /api/v1/sharing/policies/{policyID}.
func NewUpdatePolicyHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "policyID must be a valid UUID", nil)
			return
		}

		var req policyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		p := req.toModel()
		p.ID = policyID

		updated, err := svc.UpdatePolicy(r.Context(), tenantID, p)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewDeletePolicyHandler returns a handler for DELETE /api/v1/sharing/policies/{policyID}.
func NewDeletePolicyHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "policyID must be a valid UUID", nil)
			return
		}
		if err := svc.DeletePolicy(r.Context(), tenantID, policyID); err != nil {
			writeEngineError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewRequestAccessHandler returns a handler for
// POST /api/v1/sharing/policies/{policyID}/requests.
func NewRequestAccessHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		userID, _ := mw.GetUserID(r)
		policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "policyID must be a valid UUID", nil)
			return
		}

		var req struct {
			Justification string `json:"justification"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		accessReq, grant, err := svc.RequestAccess(r.Context(), policyID, tenantID, userID, req.Justification)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.Created(w, map[string]any{
			"request": accessReq,
			"grant":   grant,
		})
	}
}

// NewApproveAccessHandler returns a handler for
// POST /api/v1/sharing/requests/{requestID}/approve.
func NewApproveAccessHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		userID, _ := mw.GetUserID(r)
		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "requestID must be a valid UUID", nil)
			return
		}

		grant, err := svc.ApproveAccess(r.Context(), requestID, tenantID, userID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, grant)
	}
}

// NewRejectAccessHandler returns a handler for
// POST /api/v1/sharing/requests/{requestID}/reject.
func NewRejectAccessHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		userID, _ := mw.GetUserID(r)
		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "requestID must be a valid UUID", nil)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := svc.RejectAccess(r.Context(), requestID, tenantID, userID, req.Reason); err != nil {
			writeEngineError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewRevokeAccessHandler returns a handler for
// POST /api/v1/sharing/grants/{grantID}/revoke.
func NewRevokeAccessHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		userID, _ := mw.GetUserID(r)
		grantID, err := uuid.Parse(chi.URLParam(r, "grantID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "grantID must be a valid UUID", nil)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := svc.RevokeAccess(r.Context(), grantID, tenantID, userID, req.Reason); err != nil {
			writeEngineError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewHasAccessHandler returns a handler for GET /api/v1/sharing/access.
// Query parameters: resource_id, resource_type, permission (optional).
func NewHasAccessHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		resourceID, err := uuid.Parse(r.URL.Query().Get("resource_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "resource_id must be a valid UUID", nil)
			return
		}
		resourceType := r.URL.Query().Get("resource_type")
		if resourceType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "resource_type is required", nil)
			return
		}
		permission := r.URL.Query().Get("permission")

		dec, err := svc.HasAccess(r.Context(), resourceID, resourceType, tenantID, permission)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, dec)
	}
}

// NewTrackUsageHandler returns a handler for
// POST /api/v1/sharing/grants/{grantID}/usage.
func NewTrackUsageHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := mw.GetTenantID(r); !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		grantID, err := uuid.Parse(chi.URLParam(r, "grantID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "grantID must be a valid UUID", nil)
			return
		}

		var req struct {
			Cost float64 `json:"cost"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Cost < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "cost must not be negative", nil)
			return
		}

		rec, err := svc.TrackUsage(r.Context(), grantID, req.Cost)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewSharingUsageHandler returns a handler for GET /api/v1/sharing/usage.
// Query parameters: from, to (RFC3339, optional, default last 30 days).
func NewSharingUsageHandler(svc SharingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if v := r.URL.Query().Get("from"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "from must be a valid RFC3339 timestamp", nil)
				return
			}
			from = parsed
		}
		if v := r.URL.Query().Get("to"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "to must be a valid RFC3339 timestamp", nil)
				return
			}
			to = parsed
		}
		if !from.Before(to) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "from must be before to", nil)
			return
		}

		summaries, err := svc.GetUsageStatistics(r.Context(), tenantID, from, to)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, summaries)
	}
}
