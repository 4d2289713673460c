package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LLM-Dev-Ops/marketplace-sub003/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Sharing Policies ---

const policyColumns = `id, resource_id, resource_type, owner_tenant_id, visibility,
	allowed_tenants, blocked_tenants, permissions, conditions, pricing,
	requires_approval, max_consumers, current_consumers, is_active, expires_at,
	created_at, updated_at`

func scanPolicy(row pgx.Row) (*models.SharingPolicy, error) {
	var p models.SharingPolicy
	err := row.Scan(&p.ID, &p.ResourceID, &p.ResourceType, &p.OwnerTenantID, &p.Visibility,
		&p.AllowedTenants, &p.BlockedTenants, &p.Permissions, &p.Conditions, &p.Pricing,
		&p.RequiresApproval, &p.MaxConsumers, &p.CurrentConsumers, &p.IsActive, &p.ExpiresAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateSharingPolicy(ctx context.Context, p *models.SharingPolicy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sharing_policies (id, resource_id, resource_type, owner_tenant_id, visibility,
		   allowed_tenants, blocked_tenants, permissions, conditions, pricing,
		   requires_approval, max_consumers, current_consumers, is_active, expires_at,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.ResourceID, p.ResourceType, p.OwnerTenantID, p.Visibility,
		p.AllowedTenants, p.BlockedTenants, p.Permissions, p.Conditions, p.Pricing,
		p.RequiresApproval, p.MaxConsumers, p.CurrentConsumers, p.IsActive, p.ExpiresAt,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create sharing policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSharingPolicy(ctx context.Context, id uuid.UUID) (*models.SharingPolicy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM sharing_policies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sharing policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetActivePolicyForResource(ctx context.Context, resourceID uuid.UUID, resourceType string) (*models.SharingPolicy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM sharing_policies
		 WHERE resource_id = $1 AND resource_type = $2 AND is_active`, resourceID, resourceType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active policy for resource: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListSharingPolicies(ctx context.Context, ownerTenantID uuid.UUID) ([]*models.SharingPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM sharing_policies
		 WHERE owner_tenant_id = $1 ORDER BY created_at DESC`, ownerTenantID)
	if err != nil {
		return nil, fmt.Errorf("list sharing policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.SharingPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sharing policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpdateSharingPolicy rewrites the mutable rule fields. Consumer counts and
// activation state are managed by the grant lifecycle, not here.
func (s *PostgresStore) UpdateSharingPolicy(ctx context.Context, p *models.SharingPolicy) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sharing_policies SET
		   visibility = $2, allowed_tenants = $3, blocked_tenants = $4, permissions = $5,
		   conditions = $6, pricing = $7, requires_approval = $8, max_consumers = $9,
		   expires_at = $10, updated_at = NOW()
		 WHERE id = $1 AND is_active`,
		p.ID, p.Visibility, p.AllowedTenants, p.BlockedTenants, p.Permissions,
		p.Conditions, p.Pricing, p.RequiresApproval, p.MaxConsumers, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update sharing policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivatePolicy soft-deletes the policy and every active grant under it
// in one transaction. Grants record their own revocation state, so the
// consumer count is left as-is for the audit trail.
func (s *PostgresStore) DeactivatePolicy(ctx context.Context, policyID uuid.UUID, now time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE sharing_policies SET is_active = FALSE, updated_at = $2
			 WHERE id = $1 AND is_active`, policyID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		reason := "policy deactivated"
		_, err = tx.Exec(ctx,
			`UPDATE sharing_access_grants
			 SET is_active = FALSE, revoked_by = 'system', revoked_at = $2,
			     revocation_reason = $3, updated_at = $2
			 WHERE policy_id = $1 AND is_active`, policyID, now, reason)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("deactivate policy: %w", err)
	}
	return nil
}

// --- Access Requests ---

const requestColumns = `id, policy_id, requester_tenant_id, requester_user_id, status,
	justification, approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*models.SharingAccessRequest, error) {
	var r models.SharingAccessRequest
	err := row.Scan(&r.ID, &r.PolicyID, &r.RequesterTenantID, &r.RequesterUserID, &r.Status,
		&r.Justification, &r.ApprovedBy, &r.ApprovedAt, &r.RejectedBy, &r.RejectedAt,
		&r.RejectionReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateAccessRequest(ctx context.Context, r *models.SharingAccessRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sharing_access_requests (id, policy_id, requester_tenant_id, requester_user_id,
		   status, justification, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.PolicyID, r.RequesterTenantID, r.RequesterUserID,
		r.Status, r.Justification, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create access request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessRequest(ctx context.Context, id uuid.UUID) (*models.SharingAccessRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM sharing_access_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) HasPendingRequest(ctx context.Context, policyID, requesterTenantID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sharing_access_requests
		 WHERE policy_id = $1 AND requester_tenant_id = $2 AND status = 'pending')`,
		policyID, requesterTenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

// RejectRequest flips a pending request to rejected. The status guard keeps
// terminal states terminal.
func (s *PostgresStore) RejectRequest(ctx context.Context, id uuid.UUID, rejectedBy, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sharing_access_requests
		 SET status = 'rejected', rejected_by = $2, rejected_at = $3, rejection_reason = $4, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`, id, rejectedBy, now, reason)
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// ApproveRequest runs the whole approval transition in one transaction: the
// policy row is locked, capacity is checked, the request flips to approved,
// the grant is created or reactivated, and the consumer count is bumped.
// Keeping all of it behind one row lock is what holds currentConsumers
// consistent with the set of active grants under concurrent approvals.
func (s *PostgresStore) ApproveRequest(ctx context.Context, requestID uuid.UUID, approvedBy string, now time.Time) (*models.SharingAccessGrant, error) {
	var grant *models.SharingAccessGrant
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM sharing_access_requests WHERE id = $1 FOR UPDATE`, requestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if req.Status != models.RequestPending {
			return ErrNotPending
		}

		var maxConsumers, currentConsumers int
		var permissions []string
		var policyExpiry *time.Time
		err = tx.QueryRow(ctx,
			`SELECT max_consumers, current_consumers, permissions, expires_at
			 FROM sharing_policies WHERE id = $1 FOR UPDATE`, req.PolicyID,
		).Scan(&maxConsumers, &currentConsumers, &permissions, &policyExpiry)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if maxConsumers > 0 && currentConsumers >= maxConsumers {
			return ErrNoCapacity
		}

		_, err = tx.Exec(ctx,
			`UPDATE sharing_access_requests
			 SET status = 'approved', approved_by = $2, approved_at = $3, updated_at = $3
			 WHERE id = $1`, requestID, approvedBy, now)
		if err != nil {
			return err
		}

		existing, err := scanGrant(tx.QueryRow(ctx,
			`SELECT `+grantColumns+` FROM sharing_access_grants
			 WHERE policy_id = $1 AND consumer_tenant_id = $2 FOR UPDATE`,
			req.PolicyID, req.RequesterTenantID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			g := &models.SharingAccessGrant{
				ID:               uuid.New(),
				PolicyID:         req.PolicyID,
				ConsumerTenantID: req.RequesterTenantID,
				Permissions:      permissions,
				IsActive:         true,
				ExpiresAt:        policyExpiry,
				GrantedBy:        approvedBy,
				GrantedAt:        now,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO sharing_access_grants (id, policy_id, consumer_tenant_id, permissions,
				   is_active, expires_at, granted_by, granted_at, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				g.ID, g.PolicyID, g.ConsumerTenantID, g.Permissions,
				g.IsActive, g.ExpiresAt, g.GrantedBy, g.GrantedAt, g.CreatedAt, g.UpdatedAt)
			if err != nil {
				return err
			}
			grant = g
		case err != nil:
			return err
		case existing.IsActive:
			return ErrDuplicateKey
		default:
			// Reactivate the revoked grant for this consumer.
			_, err = tx.Exec(ctx,
				`UPDATE sharing_access_grants
				 SET permissions = $2, is_active = TRUE, expires_at = $3,
				     granted_by = $4, granted_at = $5,
				     revoked_by = NULL, revoked_at = NULL, revocation_reason = NULL,
				     updated_at = $5
				 WHERE id = $1`,
				existing.ID, permissions, policyExpiry, approvedBy, now)
			if err != nil {
				return err
			}
			existing.Permissions = permissions
			existing.IsActive = true
			existing.ExpiresAt = policyExpiry
			existing.GrantedBy = approvedBy
			existing.GrantedAt = now
			existing.RevokedBy = nil
			existing.RevokedAt = nil
			existing.RevocationReason = nil
			existing.UpdatedAt = now
			grant = existing
		}

		_, err = tx.Exec(ctx,
			`UPDATE sharing_policies
			 SET current_consumers = current_consumers + 1, updated_at = $2
			 WHERE id = $1`, req.PolicyID, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) ||
			errors.Is(err, ErrNoCapacity) || errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("approve request: %w", err)
	}
	return grant, nil
}

// --- Grants ---

const grantColumns = `id, policy_id, consumer_tenant_id, permissions, is_active, expires_at,
	granted_by, granted_at, revoked_by, revoked_at, revocation_reason,
	usage_count, last_used_at, created_at, updated_at`

func scanGrant(row pgx.Row) (*models.SharingAccessGrant, error) {
	var g models.SharingAccessGrant
	err := row.Scan(&g.ID, &g.PolicyID, &g.ConsumerTenantID, &g.Permissions, &g.IsActive,
		&g.ExpiresAt, &g.GrantedBy, &g.GrantedAt, &g.RevokedBy, &g.RevokedAt,
		&g.RevocationReason, &g.UsageCount, &g.LastUsedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) GetGrant(ctx context.Context, id uuid.UUID) (*models.SharingAccessGrant, error) {
	g, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM sharing_access_grants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) GetGrantForConsumer(ctx context.Context, policyID, consumerTenantID uuid.UUID) (*models.SharingAccessGrant, error) {
	g, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM sharing_access_grants
		 WHERE policy_id = $1 AND consumer_tenant_id = $2`, policyID, consumerTenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant for consumer: %w", err)
	}
	return g, nil
}

// RevokeGrant deactivates an active grant and decrements the policy's
// consumer count (floored at zero) in one transaction. Revoking an already
// revoked grant returns ErrNotFound via the is_active guard.
func (s *PostgresStore) RevokeGrant(ctx context.Context, grantID uuid.UUID, revokedBy, reason string, now time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var policyID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE sharing_access_grants
			 SET is_active = FALSE, revoked_by = $2, revoked_at = $3, revocation_reason = $4, updated_at = $3
			 WHERE id = $1 AND is_active
			 RETURNING policy_id`, grantID, revokedBy, now, reason).Scan(&policyID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE sharing_policies
			 SET current_consumers = GREATEST(current_consumers - 1, 0), updated_at = $2
			 WHERE id = $1`, policyID, now)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

// RecordGrantUsage bumps the grant's lifetime counters and upserts the
// per-day aggregate row in one transaction.
func (s *PostgresStore) RecordGrantUsage(ctx context.Context, grantID uuid.UUID, day time.Time, cost, revenue float64, now time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE sharing_access_grants
			 SET usage_count = usage_count + 1, last_used_at = $2, updated_at = $2
			 WHERE id = $1`, grantID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO sharing_usage_tracking (id, grant_id, usage_date, usage_count, cost, revenue, created_at, updated_at)
			 VALUES ($1, $2, $3, 1, $4, $5, $6, $6)
			 ON CONFLICT (grant_id, usage_date) DO UPDATE SET
			   usage_count = sharing_usage_tracking.usage_count + 1,
			   cost = sharing_usage_tracking.cost + EXCLUDED.cost,
			   revenue = sharing_usage_tracking.revenue + EXCLUDED.revenue,
			   updated_at = EXCLUDED.updated_at`,
			uuid.New(), grantID, day, cost, revenue, now)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("record grant usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) AggregateSharingUsage(ctx context.Context, ownerTenantID uuid.UUID, from, to time.Time) ([]SharingUsageSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.resource_id, p.resource_type,
		        COALESCE(SUM(u.usage_count), 0), COALESCE(SUM(u.cost), 0), COALESCE(SUM(u.revenue), 0)
		 FROM sharing_policies p
		 JOIN sharing_access_grants g ON g.policy_id = p.id
		 JOIN sharing_usage_tracking u ON u.grant_id = g.id
		 WHERE p.owner_tenant_id = $1 AND u.usage_date >= $2 AND u.usage_date <= $3
		 GROUP BY p.id, p.resource_id, p.resource_type
		 ORDER BY SUM(u.revenue) DESC`, ownerTenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate sharing usage: %w", err)
	}
	defer rows.Close()

	var summaries []SharingUsageSummary
	for rows.Next() {
		var sum SharingUsageSummary
		if err := rows.Scan(&sum.PolicyID, &sum.ResourceID, &sum.ResourceType,
			&sum.UsageCount, &sum.Cost, &sum.Revenue); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// --- Marketplace Listings ---

const listingColumns = `id, policy_id, publisher_tenant_id, resource_type, name, description,
	tags, pricing, install_count, rating, rating_count, is_published, published_at,
	created_at, updated_at`

func scanListing(row pgx.Row) (*models.MarketplaceListing, error) {
	var l models.MarketplaceListing
	err := row.Scan(&l.ID, &l.PolicyID, &l.PublisherTenantID, &l.ResourceType, &l.Name,
		&l.Description, &l.Tags, &l.Pricing, &l.InstallCount, &l.Rating, &l.RatingCount,
		&l.IsPublished, &l.PublishedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.MarketplaceListing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO marketplace_listings (id, policy_id, publisher_tenant_id, resource_type, name,
		   description, tags, pricing, install_count, rating, rating_count, is_published, published_at,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.PolicyID, l.PublisherTenantID, l.ResourceType, l.Name,
		l.Description, l.Tags, l.Pricing, l.InstallCount, l.Rating, l.RatingCount,
		l.IsPublished, l.PublishedAt, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMarketplace(ctx context.Context, filter ListingFilter) ([]*models.MarketplaceListing, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"is_published"}
	var args []any
	argIdx := 1

	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argIdx))
		args = append(args, filter.ResourceType)
		argIdx++
	}
	if filter.Tag != "" {
		tag, _ := json.Marshal([]string{filter.Tag})
		conditions = append(conditions, fmt.Sprintf("tags @> $%d::jsonb", argIdx))
		args = append(args, string(tag))
		argIdx++
	}
	if filter.PricingModel != "" {
		conditions = append(conditions, fmt.Sprintf("pricing->>'model' = $%d", argIdx))
		args = append(args, string(filter.PricingModel))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM marketplace_listings WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	var orderBy string
	switch filter.Sort {
	case SortRating:
		orderBy = "rating DESC, rating_count DESC"
	case SortNewest:
		orderBy = "published_at DESC"
	default: // SortPopularity
		orderBy = "install_count DESC"
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM marketplace_listings WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		listingColumns, where, orderBy, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list marketplace: %w", err)
	}
	defer rows.Close()

	var listings []*models.MarketplaceListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, total, rows.Err()
}
