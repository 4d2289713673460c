package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/quota"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// QuotaService defines the quota engine surface the handlers depend on.
type QuotaService interface {
	InitializeQuotas(ctx context.Context, tenantID uuid.UUID, tier models.Tier) error
	CheckQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) (*quota.CheckResult, error)
	GetQuotas(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantQuota, error)
	GetUsageStatistics(ctx context.Context, tenantID uuid.UUID) ([]quota.UsageStat, error)
	UpdateQuotaLimit(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, limit, softLimit int64) error
	UpdateQuotasForTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier) error
}

// NewListQuotasHandler returns a handler for GET /api/v1/quotas.
func NewListQuotasHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		quotas, err := svc.GetQuotas(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, quotas)
	}
}

// NewQuotaUsageHandler returns a handler for GET /api/v1/quotas/usage.
func NewQuotaUsageHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		stats, err := svc.GetUsageStatistics(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewCheckQuotaHandler returns a handler for POST /api/v1/quotas/check. The
// check is advisory and consumes nothing.
func NewCheckQuotaHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			QuotaType string `json:"quota_type"`
			Amount    int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.QuotaType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "quota_type is required", nil)
			return
		}
		if req.Amount <= 0 {
			req.Amount = 1
		}

		res, err := svc.CheckQuota(r.Context(), tenantID, models.QuotaType(req.QuotaType), req.Amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewUpdateQuotaLimitHandler returns a handler for
// PUT /api/v1/admin/quotas/{quotaType}.
func NewUpdateQuotaLimitHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		quotaType := chi.URLParam(r, "quotaType")

		var req struct {
			Limit     int64 `json:"limit"`
			SoftLimit int64 `json:"soft_limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Limit < models.UnlimitedQuota {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be -1 or greater", nil)
			return
		}

		if err := svc.UpdateQuotaLimit(r.Context(), tenantID, models.QuotaType(quotaType), req.Limit, req.SoftLimit); err != nil {
			writeEngineError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewInitializeQuotasHandler returns a handler for
// POST /api/v1/admin/tenants/{tenantID}/quotas.
func NewInitializeQuotasHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tenantID must be a valid UUID", nil)
			return
		}

		var req struct {
			Tier string `json:"tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		tier := models.Tier(req.Tier)
		if !tier.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown tier", nil)
			return
		}

		if err := svc.InitializeQuotas(r.Context(), tenantID, tier); err != nil {
			writeEngineError(w, err)
			return
		}
		response.Created(w, map[string]any{"tenant_id": tenantID, "tier": tier})
	}
}

// NewUpdateTierHandler returns a handler for
// PUT /api/v1/admin/tenants/{tenantID}/tier.
func NewUpdateTierHandler(svc QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tenantID must be a valid UUID", nil)
			return
		}

		var req struct {
			Tier string `json:"tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		tier := models.Tier(req.Tier)
		if !tier.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown tier", nil)
			return
		}

		if err := svc.UpdateQuotasForTier(r.Context(), tenantID, tier); err != nil {
			writeEngineError(w, err)
			return
		}
		response.JSON(w, map[string]any{"tenant_id": tenantID, "tier": tier})
	}
}
