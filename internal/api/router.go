package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth  *mw.Auth
	Quota *mw.Quota

	HealthHandler http.HandlerFunc

	ListQuotasHandler       http.HandlerFunc
	QuotaUsageHandler       http.HandlerFunc
	CheckQuotaHandler       http.HandlerFunc
	UpdateQuotaLimitHandler http.HandlerFunc
	InitializeQuotasHandler http.HandlerFunc
	UpdateTierHandler       http.HandlerFunc

	CreatePolicyHandler  http.HandlerFunc
	ListPoliciesHandler  http.HandlerFunc
	GetPolicyHandler     http.HandlerFunc
	UpdatePolicyHandler  http.HandlerFunc
	DeletePolicyHandler  http.HandlerFunc
	RequestAccessHandler http.HandlerFunc
	ApproveHandler       http.HandlerFunc
	RejectHandler        http.HandlerFunc
	RevokeHandler        http.HandlerFunc
	HasAccessHandler     http.HandlerFunc
	TrackUsageHandler    http.HandlerFunc
	SharingUsageHandler  http.HandlerFunc

	CreateListingHandler   http.HandlerFunc
	ListMarketplaceHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.Quota.Enforce)

		r.Get("/api/v1/quotas", orNotImplemented(deps.ListQuotasHandler))
		r.Get("/api/v1/quotas/usage", orNotImplemented(deps.QuotaUsageHandler))
		r.Post("/api/v1/quotas/check", orNotImplemented(deps.CheckQuotaHandler))

		r.Post("/api/v1/sharing/policies", orNotImplemented(deps.CreatePolicyHandler))
		r.Get("/api/v1/sharing/policies", orNotImplemented(deps.ListPoliciesHandler))
		r.Get("/api/v1/sharing/policies/{policyID}", orNotImplemented(deps.GetPolicyHandler))
		r.Put("/api/v1/sharing/policies/{policyID}", orNotImplemented(deps.UpdatePolicyHandler))
		r.Delete("/api/v1/sharing/policies/{policyID}", orNotImplemented(deps.DeletePolicyHandler))

		r.Post("/api/v1/sharing/policies/{policyID}/requests", orNotImplemented(deps.RequestAccessHandler))
		r.Post("/api/v1/sharing/requests/{requestID}/approve", orNotImplemented(deps.ApproveHandler))
		r.Post("/api/v1/sharing/requests/{requestID}/reject", orNotImplemented(deps.RejectHandler))
		r.Post("/api/v1/sharing/grants/{grantID}/revoke", orNotImplemented(deps.RevokeHandler))

		r.Get("/api/v1/sharing/access", orNotImplemented(deps.HasAccessHandler))
		r.Post("/api/v1/sharing/grants/{grantID}/usage", orNotImplemented(deps.TrackUsageHandler))
		r.Get("/api/v1/sharing/usage", orNotImplemented(deps.SharingUsageHandler))

		r.Post("/api/v1/marketplace/listings", orNotImplemented(deps.CreateListingHandler))
		r.Get("/api/v1/marketplace/listings", orNotImplemented(deps.ListMarketplaceHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Put("/api/v1/admin/quotas/{quotaType}", orNotImplemented(deps.UpdateQuotaLimitHandler))
			r.Post("/api/v1/admin/tenants/{tenantID}/quotas", orNotImplemented(deps.InitializeQuotasHandler))
			r.Put("/api/v1/admin/tenants/{tenantID}/tier", orNotImplemented(deps.UpdateTierHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
