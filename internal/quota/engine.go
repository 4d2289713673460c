// Package quota enforces per-tenant usage limits. The Redis counter store
// carries the hot per-period counters; the durable store remains the source
// of truth and is reconciled by sampled flushes and the scheduled reset
// sweep.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/counter"
	"github.com/LLM-Dev-Ops/marketplace-sub003/internal/notify"
	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
)

// defaultCounterTTL bounds counter keys for quotas that never reset.
const defaultCounterTTL = 24 * time.Hour

// Store is the slice of the durable store the engine needs.
type Store interface {
	GetQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType) (*models.TenantQuota, error)
	ListQuotas(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantQuota, error)
	UpsertQuotas(ctx context.Context, quotas []*models.TenantQuota) error
	AddQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) error
	SetQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, usage int64) error
	UpdateQuotaLimits(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, limit, softLimit int64) error
	UpdateTenantTier(ctx context.Context, id uuid.UUID, tier models.Tier) error
	ListQuotasDueForReset(ctx context.Context, now time.Time, limit int) ([]*models.TenantQuota, error)
	ResetQuota(ctx context.Context, id uuid.UUID, now time.Time, nextReset *time.Time) (bool, error)
}

// Options tune the engine's reconciliation and throttling behavior.
type Options struct {
	// FlushEvery writes the counter through to the durable store on every
	// Nth increment of a key. Zero disables modulus flushing.
	FlushEvery int64
	// FlushProbability adds a random write-through chance per increment,
	// bounding flush lag for low-traffic counters.
	FlushProbability float64
	// ThrottleDelay is the bounded delay applied by the throttle action.
	ThrottleDelay time.Duration
}

// Engine is the quota enforcement engine. Safe for concurrent use.
type Engine struct {
	store    Store
	counters counter.Store
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

// New creates a quota Engine.
func New(s Store, c counter.Store, n notify.Notifier, opts Options) *Engine {
	if opts.ThrottleDelay <= 0 {
		opts.ThrottleDelay = 500 * time.Millisecond
	}
	return &Engine{store: s, counters: c, notifier: n, opts: opts, now: time.Now}
}

// CheckResult is the outcome of a quota check or enforcement call.
type CheckResult struct {
	Allowed      bool             `json:"allowed"`
	Reason       string           `json:"reason"`
	QuotaType    models.QuotaType `json:"quota_type"`
	Limit        int64            `json:"limit"`
	CurrentUsage int64            `json:"current_usage"`
	Remaining    int64            `json:"remaining"`
	ResetAt      *time.Time       `json:"reset_at,omitempty"`
}

// Check reasons.
const (
	ReasonUnlimited   = "unlimited"
	ReasonWithinLimit = "within_limit"
	ReasonOverage     = "overage"
	ReasonExceeded    = "quota_exceeded"
	ReasonThrottled   = "throttled"
	ReasonAlerted     = "alerted"
)

// InitializeQuotas materializes one quota row per definition in the tier's
// table. Idempotent: re-invoking for a tier change rewrites limits without
// resetting accumulated usage.
func (e *Engine) InitializeQuotas(ctx context.Context, tenantID uuid.UUID, tier models.Tier) error {
	defs, ok := TierDefinitions(tier)
	if !ok {
		return fmt.Errorf("initialize quotas for tier %q: %w", tier, ErrUnknownTier)
	}
	now := e.now().UTC()
	quotas := make([]*models.TenantQuota, 0, len(defs))
	for _, d := range defs {
		quotas = append(quotas, &models.TenantQuota{
			ID:                uuid.New(),
			TenantID:          tenantID,
			QuotaType:         d.Type,
			Limit:             d.Limit,
			SoftLimit:         d.SoftLimit,
			ResetPeriod:       d.ResetPeriod,
			LastReset:         now,
			NextReset:         NextReset(d.ResetPeriod, now),
			EnforcementAction: d.EnforcementAction,
			OverageAllowed:    d.OverageAllowed,
			OverageRate:       d.OverageRate,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return e.store.UpsertQuotas(ctx, quotas)
}

// CheckQuota is the advisory, read-only check: it reports whether amount
// more units would be allowed, without consuming anything. Enforcement must
// go through EnforceQuota, whose increment is atomic with the decision.
func (e *Engine) CheckQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) (*CheckResult, error) {
	q, err := e.store.GetQuota(ctx, tenantID, quotaType)
	if err != nil {
		return nil, err
	}
	if q.IsUnlimited() {
		return &CheckResult{
			Allowed:   true,
			Reason:    ReasonUnlimited,
			QuotaType: quotaType,
			Limit:     q.Limit,
			Remaining: models.UnlimitedQuota,
			ResetAt:   q.NextReset,
		}, nil
	}

	usage := e.currentUsage(ctx, q)
	res := &CheckResult{
		QuotaType:    quotaType,
		Limit:        q.Limit,
		CurrentUsage: usage,
		Remaining:    q.Remaining(usage),
		ResetAt:      q.NextReset,
	}
	switch {
	case usage+amount <= q.Limit:
		res.Allowed = true
		res.Reason = ReasonWithinLimit
	case q.OverageAllowed:
		res.Allowed = true
		res.Reason = ReasonOverage
	default:
		res.Reason = ReasonExceeded
	}
	return res, nil
}

// IncrementUsage consumes amount units without an enforcement decision.
// The counter store takes the write on the fast path; if it is unreachable
// the durable store is incremented directly so usage is never dropped.
func (e *Engine) IncrementUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) error {
	q, err := e.store.GetQuota(ctx, tenantID, quotaType)
	if err != nil {
		return err
	}
	e.seedCounter(ctx, q)
	_, err = e.increment(ctx, q, amount)
	return err
}

// EnforceQuota makes the enforcement decision and records consumption.
//
// Under the block action the decision rides on the counter store's atomic
// increment: the post-increment value decides, and a denied increment is
// rolled back. This closes the window where two concurrent callers both
// pass an advisory check and jointly exceed the limit. Throttle and alert
// always consume, so usage reflects what actually happened.
func (e *Engine) EnforceQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) (*CheckResult, error) {
	q, err := e.store.GetQuota(ctx, tenantID, quotaType)
	if err != nil {
		return nil, err
	}

	e.seedCounter(ctx, q)

	if q.IsUnlimited() {
		if _, err := e.increment(ctx, q, amount); err != nil {
			return nil, err
		}
		return &CheckResult{
			Allowed:   true,
			Reason:    ReasonUnlimited,
			QuotaType: quotaType,
			Limit:     q.Limit,
			Remaining: models.UnlimitedQuota,
			ResetAt:   q.NextReset,
		}, nil
	}

	if q.EnforcementAction == models.EnforceBlock {
		return e.enforceBlock(ctx, q, amount)
	}

	usage := e.currentUsage(ctx, q)
	denied := usage+amount > q.Limit && !q.OverageAllowed
	reason := ReasonWithinLimit
	if usage+amount > q.Limit && q.OverageAllowed {
		reason = ReasonOverage
	}

	if denied {
		switch q.EnforcementAction {
		case models.EnforceThrottle:
			if err := e.throttle(ctx); err != nil {
				return nil, err
			}
			reason = ReasonThrottled
		case models.EnforceAlert:
			e.notifier.PublishQuotaAlert(notify.QuotaAlert{
				TenantID:     q.TenantID,
				QuotaType:    string(q.QuotaType),
				Limit:        q.Limit,
				CurrentUsage: usage,
				Kind:         "limit_exceeded",
				OccurredAt:   e.now().UTC(),
			})
			reason = ReasonAlerted
		}
	}

	newVal, err := e.increment(ctx, q, amount)
	if err != nil {
		return nil, err
	}
	e.alertOnSoftLimit(q, newVal, amount)

	return &CheckResult{
		Allowed:      true,
		Reason:       reason,
		QuotaType:    q.QuotaType,
		Limit:        q.Limit,
		CurrentUsage: newVal,
		Remaining:    q.Remaining(newVal),
		ResetAt:      q.NextReset,
	}, nil
}

// enforceBlock performs the conditional atomic increment. On counter-store
// failure the decision falls back to the durable row (degraded: slower and
// advisory, but usage is never silently dropped).
func (e *Engine) enforceBlock(ctx context.Context, q *models.TenantQuota, amount int64) (*CheckResult, error) {
	key := counter.QuotaKey(q.TenantID, q.QuotaType)

	newVal, err := e.counters.IncrBy(ctx, key, amount, e.counterTTL(q))
	if err != nil {
		slog.Warn("counter store unavailable, enforcing against durable store",
			"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", err)
		return e.enforceBlockDegraded(ctx, q, amount)
	}

	if newVal > q.Limit && !q.OverageAllowed {
		if _, derr := e.counters.DecrBy(ctx, key, amount); derr != nil {
			slog.Error("rollback of denied increment failed",
				"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", derr)
		}
		return nil, &QuotaExceededError{
			QuotaType:    q.QuotaType,
			Limit:        q.Limit,
			CurrentUsage: newVal - amount,
			ResetAt:      q.NextReset,
		}
	}

	reason := ReasonWithinLimit
	if newVal > q.Limit {
		reason = ReasonOverage
	}
	e.maybeFlush(ctx, q, newVal)
	e.alertOnSoftLimit(q, newVal, amount)

	return &CheckResult{
		Allowed:      true,
		Reason:       reason,
		QuotaType:    q.QuotaType,
		Limit:        q.Limit,
		CurrentUsage: newVal,
		Remaining:    q.Remaining(newVal),
		ResetAt:      q.NextReset,
	}, nil
}

func (e *Engine) enforceBlockDegraded(ctx context.Context, q *models.TenantQuota, amount int64) (*CheckResult, error) {
	if q.CurrentUsage+amount > q.Limit && !q.OverageAllowed {
		return nil, &QuotaExceededError{
			QuotaType:    q.QuotaType,
			Limit:        q.Limit,
			CurrentUsage: q.CurrentUsage,
			ResetAt:      q.NextReset,
		}
	}
	if err := e.store.AddQuotaUsage(ctx, q.TenantID, q.QuotaType, amount); err != nil {
		return nil, err
	}
	newVal := q.CurrentUsage + amount
	reason := ReasonWithinLimit
	if newVal > q.Limit {
		reason = ReasonOverage
	}
	return &CheckResult{
		Allowed:      true,
		Reason:       reason,
		QuotaType:    q.QuotaType,
		Limit:        q.Limit,
		CurrentUsage: newVal,
		Remaining:    q.Remaining(newVal),
		ResetAt:      q.NextReset,
	}, nil
}

// UpdateQuotaLimit rewrites one quota's limits in place.
func (e *Engine) UpdateQuotaLimit(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, limit, softLimit int64) error {
	return e.store.UpdateQuotaLimits(ctx, tenantID, quotaType, limit, softLimit)
}

// UpdateQuotasForTier applies a tier change: limits are rewritten from the
// new tier's table, accumulated usage is preserved, and the tenant's counter
// keys are invalidated so the next read reseeds from the durable store.
func (e *Engine) UpdateQuotasForTier(ctx context.Context, tenantID uuid.UUID, tier models.Tier) error {
	if err := e.InitializeQuotas(ctx, tenantID, tier); err != nil {
		return err
	}
	if err := e.store.UpdateTenantTier(ctx, tenantID, tier); err != nil {
		return err
	}
	if err := e.counters.DeleteByPattern(ctx, counter.TenantQuotaPattern(tenantID)); err != nil {
		slog.Warn("invalidate tenant counters failed", "tenant_id", tenantID, "error", err)
	}
	return nil
}

// GetQuotas returns the tenant's quota rows with live counter values
// overlaid on CurrentUsage.
func (e *Engine) GetQuotas(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantQuota, error) {
	quotas, err := e.store.ListQuotas(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, q := range quotas {
		q.CurrentUsage = e.currentUsage(ctx, q)
	}
	return quotas, nil
}

// UsageStat is one quota dimension's live consumption summary.
type UsageStat struct {
	QuotaType    models.QuotaType `json:"quota_type"`
	Limit        int64            `json:"limit"`
	SoftLimit    int64            `json:"soft_limit"`
	CurrentUsage int64            `json:"current_usage"`
	Remaining    int64            `json:"remaining"`
	PercentUsed  float64          `json:"percent_used"`
	ResetAt      *time.Time       `json:"reset_at,omitempty"`
}

// GetUsageStatistics summarizes live usage across all of a tenant's quotas.
func (e *Engine) GetUsageStatistics(ctx context.Context, tenantID uuid.UUID) ([]UsageStat, error) {
	quotas, err := e.GetQuotas(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats := make([]UsageStat, 0, len(quotas))
	for _, q := range quotas {
		st := UsageStat{
			QuotaType:    q.QuotaType,
			Limit:        q.Limit,
			SoftLimit:    q.SoftLimit,
			CurrentUsage: q.CurrentUsage,
			Remaining:    q.Remaining(q.CurrentUsage),
			ResetAt:      q.NextReset,
		}
		if q.Limit > 0 {
			st.PercentUsed = float64(q.CurrentUsage) / float64(q.Limit) * 100
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// PerformScheduledResets processes every quota whose reset time has passed:
// usage returns to zero, the reset clock advances, and the counter key is
// purged. The durable-store guard makes concurrent sweeps from multiple
// instances idempotent. Returns the number of quotas this call reset.
func (e *Engine) PerformScheduledResets(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListQuotasDueForReset(ctx, now, 500)
	if err != nil {
		return 0, err
	}
	resets := 0
	for _, q := range due {
		next := NextReset(q.ResetPeriod, now)
		applied, err := e.store.ResetQuota(ctx, q.ID, now, next)
		if err != nil {
			slog.Error("reset quota failed",
				"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", err)
			continue
		}
		if !applied {
			// Another instance got here first.
			continue
		}
		key := counter.QuotaKey(q.TenantID, q.QuotaType)
		if err := e.counters.Delete(ctx, key); err != nil {
			slog.Warn("purge counter key failed", "key", key, "error", err)
		}
		resets++
	}
	return resets, nil
}

// --- internals ---

// currentUsage reads the live counter, seeding it from the durable row on a
// miss. On counter-store failure the durable value is used.
func (e *Engine) currentUsage(ctx context.Context, q *models.TenantQuota) int64 {
	key := counter.QuotaKey(q.TenantID, q.QuotaType)
	val, found, err := e.counters.Get(ctx, key)
	if err != nil {
		slog.Warn("counter store read failed, using durable usage",
			"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", err)
		return q.CurrentUsage
	}
	if !found {
		e.seedCounter(ctx, q)
		return q.CurrentUsage
	}
	return val
}

// seedCounter ensures the key exists before atomic arithmetic runs against
// it, so a fresh instance never restarts a tenant's count from zero.
func (e *Engine) seedCounter(ctx context.Context, q *models.TenantQuota) {
	if q.CurrentUsage == 0 {
		return
	}
	key := counter.QuotaKey(q.TenantID, q.QuotaType)
	if _, err := e.counters.SetNX(ctx, key, q.CurrentUsage, e.counterTTL(q)); err != nil {
		slog.Warn("seed counter failed", "key", key, "error", err)
	}
}

func (e *Engine) increment(ctx context.Context, q *models.TenantQuota, amount int64) (int64, error) {
	key := counter.QuotaKey(q.TenantID, q.QuotaType)
	newVal, err := e.counters.IncrBy(ctx, key, amount, e.counterTTL(q))
	if err != nil {
		slog.Warn("counter store unavailable, incrementing durable store",
			"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", err)
		if err := e.store.AddQuotaUsage(ctx, q.TenantID, q.QuotaType, amount); err != nil {
			return 0, err
		}
		return q.CurrentUsage + amount, nil
	}
	e.maybeFlush(ctx, q, newVal)
	return newVal, nil
}

// maybeFlush reconciles the counter into the durable store on a sampled
// subset of increments to bound write amplification.
func (e *Engine) maybeFlush(ctx context.Context, q *models.TenantQuota, value int64) {
	flush := false
	if e.opts.FlushEvery > 0 && value%e.opts.FlushEvery == 0 {
		flush = true
	} else if e.opts.FlushProbability > 0 && rand.Float64() < e.opts.FlushProbability {
		flush = true
	}
	if !flush {
		return
	}
	if err := e.store.SetQuotaUsage(ctx, q.TenantID, q.QuotaType, value); err != nil {
		slog.Warn("flush counter to durable store failed",
			"tenant_id", q.TenantID, "quota_type", q.QuotaType, "error", err)
	}
}

func (e *Engine) alertOnSoftLimit(q *models.TenantQuota, newVal, amount int64) {
	if q.SoftLimit <= 0 {
		return
	}
	// Alert only on the increment that crosses the threshold.
	if newVal > q.SoftLimit && newVal-amount <= q.SoftLimit {
		e.notifier.PublishQuotaAlert(notify.QuotaAlert{
			TenantID:     q.TenantID,
			QuotaType:    string(q.QuotaType),
			Limit:        q.Limit,
			CurrentUsage: newVal,
			Kind:         "soft_limit",
			OccurredAt:   e.now().UTC(),
		})
	}
}

func (e *Engine) throttle(ctx context.Context) error {
	t := time.NewTimer(e.opts.ThrottleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) counterTTL(q *models.TenantQuota) time.Duration {
	if q.NextReset == nil {
		return defaultCounterTTL
	}
	ttl := time.Until(*q.NextReset)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
