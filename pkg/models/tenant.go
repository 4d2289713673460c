package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a tenant's subscription level. Tiers determine quota tables and
// feed sharing-policy condition evaluation.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// tierRank orders tiers for min-tier comparisons.
var tierRank = map[Tier]int{
	TierFree:         0,
	TierStarter:      1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

// AtLeast reports whether t meets or exceeds min. Unknown tiers never
// satisfy a minimum.
func (t Tier) AtLeast(min Tier) bool {
	tr, ok1 := tierRank[t]
	mr, ok2 := tierRank[min]
	return ok1 && ok2 && tr >= mr
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// TenantActive is the status of a tenant in good standing.
const TenantActive = "active"

// Tenant represents an isolated customer organization. Every other entity
// belongs to a tenant.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Tier      Tier      `db:"tier"       json:"tier"`
	Region    string    `db:"region"     json:"region"`
	Status    string    `db:"status"     json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
