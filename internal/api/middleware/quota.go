package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/quota"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
)

// QuotaEnforcer is the slice of the quota engine this middleware needs.
type QuotaEnforcer interface {
	EnforceQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) (*quota.CheckResult, error)
}

// Quota enforces the tenant's api_requests quota on every request passing
// through it. Each request consumes one unit.
type Quota struct {
	engine QuotaEnforcer
}

// NewQuota creates the quota-enforcement middleware.
func NewQuota(e QuotaEnforcer) *Quota {
	return &Quota{engine: e}
}

// Enforce applies quota enforcement for the tenant set by auth middleware.
func (q *Quota) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := GetTenantID(r)
		if !ok {
			// Auth middleware did not run; nothing to enforce against.
			next.ServeHTTP(w, r)
			return
		}

		res, err := q.engine.EnforceQuota(r.Context(), tenantID, models.QuotaAPIRequests, 1)
		if err != nil {
			if qe, ok := quota.AsQuotaExceeded(err); ok {
				w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
				w.Header().Set("X-Quota-Remaining", "0")
				if qe.ResetAt != nil {
					w.Header().Set("X-Quota-Reset", strconv.FormatInt(qe.ResetAt.Unix(), 10))
					// Retry-After carries delta-seconds, not an epoch.
					secs := int64(time.Until(*qe.ResetAt).Seconds())
					if secs < 0 {
						secs = 0
					}
					w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				}
				response.Error(w, http.StatusTooManyRequests,
					"QUOTA_EXCEEDED", qe.Error(), map[string]any{
						"limit":         qe.Limit,
						"current_usage": qe.CurrentUsage,
						"reset_at":      qe.ResetAt,
					})
				return
			}
			// The durable store could not affirm enforcement.
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Quota enforcement unavailable", nil)
			return
		}

		w.Header().Set("X-Quota-Limit", strconv.FormatInt(res.Limit, 10))
		if res.Remaining >= 0 {
			w.Header().Set("X-Quota-Remaining", strconv.FormatInt(res.Remaining, 10))
		}
		if res.ResetAt != nil {
			w.Header().Set("X-Quota-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		next.ServeHTTP(w, r)
	})
}
