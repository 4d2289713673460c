package models

import (
	"time"

	"github.com/google/uuid"
)

// MarketplaceListing is the published, discoverable face of a shared
// resource. Listings are read-heavy; install counts and ratings drive the
// marketplace sort orders.
type MarketplaceListing struct {
	ID                uuid.UUID `db:"id"                 json:"id"`
	PolicyID          uuid.UUID `db:"policy_id"          json:"policy_id"`
	PublisherTenantID uuid.UUID `db:"publisher_tenant_id" json:"publisher_tenant_id"`
	ResourceType      string    `db:"resource_type"      json:"resource_type"`
	Name              string    `db:"name"               json:"name"`
	Description       string    `db:"description"        json:"description"`
	Tags              []string  `db:"tags"               json:"tags,omitempty"`
	Pricing           Pricing   `db:"pricing"            json:"pricing"`
	InstallCount      int64     `db:"install_count"      json:"install_count"`
	Rating            float64   `db:"rating"             json:"rating"`
	RatingCount       int64     `db:"rating_count"       json:"rating_count"`
	IsPublished       bool      `db:"is_published"       json:"is_published"`
	PublishedAt       time.Time `db:"published_at"       json:"published_at"`
	CreatedAt         time.Time `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"         json:"updated_at"`
}
