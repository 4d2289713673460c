package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
)

// ErrUnknownTier is returned when a tier has no quota table.
var ErrUnknownTier = errors.New("unknown tier")

// QuotaExceededError is returned by EnforceQuota under the block action. It
// carries enough detail for client-side backoff.
type QuotaExceededError struct {
	QuotaType    models.QuotaType
	Limit        int64
	CurrentUsage int64
	ResetAt      *time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: usage %d of %d", e.QuotaType, e.CurrentUsage, e.Limit)
}

// AsQuotaExceeded unwraps err into a QuotaExceededError, if it is one.
func AsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
