package counter

import (
	"fmt"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
)

// QuotaKey is the counter-store key for one tenant's usage of one quota type.
func QuotaKey(tenantID uuid.UUID, quotaType models.QuotaType) string {
	return fmt.Sprintf("quota:%s:%s", tenantID, quotaType)
}

// TenantQuotaPattern matches every quota key belonging to a tenant.
func TenantQuotaPattern(tenantID uuid.UUID) string {
	return fmt.Sprintf("quota:%s:*", tenantID)
}
