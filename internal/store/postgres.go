package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tier, region, status, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.Region, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTenantByName(ctx context.Context, name string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tier, region, status, created_at, updated_at FROM tenants WHERE name = $1`, name,
	).Scan(&t.ID, &t.Name, &t.Tier, &t.Region, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by name: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, tier, region, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Tier, t.Region, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTenantTier(ctx context.Context, id uuid.UUID, tier models.Tier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET tier = $2, updated_at = NOW() WHERE id = $1`, id, tier)
	if err != nil {
		return fmt.Errorf("update tenant tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.TenantID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Tenant Quotas ---

const quotaColumns = `id, tenant_id, quota_type, quota_limit, soft_limit, current_usage,
	reset_period, last_reset, next_reset, enforcement_action, overage_allowed, overage_rate,
	created_at, updated_at`

func scanQuota(row pgx.Row) (*models.TenantQuota, error) {
	var q models.TenantQuota
	err := row.Scan(&q.ID, &q.TenantID, &q.QuotaType, &q.Limit, &q.SoftLimit, &q.CurrentUsage,
		&q.ResetPeriod, &q.LastReset, &q.NextReset, &q.EnforcementAction, &q.OverageAllowed,
		&q.OverageRate, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// UpsertQuotas writes one row per quota definition inside a single
// transaction. Existing rows keep their accumulated usage and reset clock;
// only the limits, enforcement, and overage terms are rewritten. This makes
// the call idempotent for both provisioning and tier changes.
func (s *PostgresStore) UpsertQuotas(ctx context.Context, quotas []*models.TenantQuota) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range quotas {
			_, err := tx.Exec(ctx,
				`INSERT INTO tenant_quotas (id, tenant_id, quota_type, quota_limit, soft_limit, current_usage,
				   reset_period, last_reset, next_reset, enforcement_action, overage_allowed, overage_rate,
				   created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				 ON CONFLICT (tenant_id, quota_type) DO UPDATE SET
				   quota_limit = EXCLUDED.quota_limit,
				   soft_limit = EXCLUDED.soft_limit,
				   enforcement_action = EXCLUDED.enforcement_action,
				   overage_allowed = EXCLUDED.overage_allowed,
				   overage_rate = EXCLUDED.overage_rate,
				   updated_at = NOW()`,
				q.ID, q.TenantID, q.QuotaType, q.Limit, q.SoftLimit, q.CurrentUsage,
				q.ResetPeriod, q.LastReset, q.NextReset, q.EnforcementAction, q.OverageAllowed,
				q.OverageRate, q.CreatedAt, q.UpdatedAt)
			if err != nil {
				return fmt.Errorf("upsert quota %s: %w", q.QuotaType, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert quotas: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuota(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType) (*models.TenantQuota, error) {
	q, err := scanQuota(s.pool.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM tenant_quotas WHERE tenant_id = $1 AND quota_type = $2`,
		tenantID, quotaType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQuotas(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantQuota, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quotaColumns+` FROM tenant_quotas WHERE tenant_id = $1 ORDER BY quota_type`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()

	var quotas []*models.TenantQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

// AddQuotaUsage increments the durable counter directly. This is the
// degraded path used when the counter store is unreachable.
func (s *PostgresStore) AddQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, amount int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_quotas SET current_usage = current_usage + $3, updated_at = NOW()
		 WHERE tenant_id = $1 AND quota_type = $2`, tenantID, quotaType, amount)
	if err != nil {
		return fmt.Errorf("add quota usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetQuotaUsage flushes an absolute counter-store value into the durable row.
func (s *PostgresStore) SetQuotaUsage(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, usage int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_quotas SET current_usage = $3, updated_at = NOW()
		 WHERE tenant_id = $1 AND quota_type = $2`, tenantID, quotaType, usage)
	if err != nil {
		return fmt.Errorf("set quota usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateQuotaLimits(ctx context.Context, tenantID uuid.UUID, quotaType models.QuotaType, limit, softLimit int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_quotas SET quota_limit = $3, soft_limit = $4, updated_at = NOW()
		 WHERE tenant_id = $1 AND quota_type = $2`, tenantID, quotaType, limit, softLimit)
	if err != nil {
		return fmt.Errorf("update quota limits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListQuotasDueForReset(ctx context.Context, now time.Time, limit int) ([]*models.TenantQuota, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+quotaColumns+` FROM tenant_quotas
		 WHERE next_reset IS NOT NULL AND next_reset <= $1
		 ORDER BY next_reset LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list quotas due for reset: %w", err)
	}
	defer rows.Close()

	var quotas []*models.TenantQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

// ResetQuota zeroes usage and advances the reset clock. The WHERE guard on
// next_reset makes concurrent sweeps idempotent: only one instance observes
// a row still due, so a quota is never reset twice for the same period. The
// returned bool reports whether this call performed the reset.
func (s *PostgresStore) ResetQuota(ctx context.Context, id uuid.UUID, now time.Time, nextReset *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_quotas
		 SET current_usage = 0, last_reset = $2, next_reset = $3, updated_at = NOW()
		 WHERE id = $1 AND next_reset IS NOT NULL AND next_reset <= $2`,
		id, now, nextReset)
	if err != nil {
		return false, fmt.Errorf("reset quota: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
