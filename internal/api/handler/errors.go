package handler

import (
	"errors"
	"net/http"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/api/response"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/quota"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/sharing"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/store"
)

// writeEngineError maps engine and store errors onto the HTTP error
// envelope. Anything unrecognized is reported as a 500 without detail.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		forbidden  *sharing.ForbiddenError
		validation *sharing.ValidationError
		conflict   *sharing.ConflictError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.As(err, &forbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", forbidden.Reason, nil)
	case errors.As(err, &validation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", validation.Reason, nil)
	case errors.As(err, &conflict):
		response.Error(w, http.StatusConflict, "CONFLICT", conflict.Reason, nil)
	case errors.Is(err, quota.ErrUnknownTier):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown tier", nil)
	default:
		if qe, ok := quota.AsQuotaExceeded(err); ok {
			response.Error(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", qe.Error(), map[string]any{
				"limit":         qe.Limit,
				"current_usage": qe.CurrentUsage,
				"reset_at":      qe.ResetAt,
			})
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
