package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	mw "github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/middleware"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// MarketplaceService defines the marketplace surface the handlers depend on.
type MarketplaceService interface {
	CreateListing(ctx context.Context, actorTenantID uuid.UUID, l *models.MarketplaceListing) (*models.MarketplaceListing, error)
	ListMarketplace(ctx context.Context, filter store.ListingFilter) ([]*models.MarketplaceListing, int, error)
}

// NewCreateListingHandler returns a handler for POST /api/v1/marketplace/listings.
func NewCreateListingHandler(svc MarketplaceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			PolicyID    uuid.UUID `json:"policy_id"`
			Name        string    `json:"name"`
			Description string    `json:"description"`
			Tags        []string  `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.PolicyID == uuid.Nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "policy_id is required", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		listing, err := svc.CreateListing(r.Context(), tenantID, &models.MarketplaceListing{
			PolicyID:    req.PolicyID,
			Name:        req.Name,
			Description: req.Description,
			Tags:        req.Tags,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		response.Created(w, listing)
	}
}

// NewListMarketplaceHandler returns a handler for GET /api/v1/marketplace/listings.
// Query parameters: resource_type, tag, pricing_model, sort, page, limit.
func NewListMarketplaceHandler(svc MarketplaceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.ListingFilter{
			ResourceType: q.Get("resource_type"),
			Tag:          q.Get("tag"),
			PricingModel: models.PricingModel(q.Get("pricing_model")),
			Sort:         q.Get("sort"),
		}
		switch filter.Sort {
		case "", store.SortPopularity, store.SortRating, store.SortNewest:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"sort must be one of popularity, rating, newest", nil)
			return
		}
		if v := q.Get("page"); v != "" {
			page, err := strconv.Atoi(v)
			if err != nil || page < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
			filter.Page = page
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = limit
		}

		listings, total, err := svc.ListMarketplace(r.Context(), filter)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		page := filter.Page
		if page < 1 {
			page = 1
		}
		limit := filter.Limit
		if limit < 1 {
			limit = 20
		}
		response.Collection(w, listings, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}
