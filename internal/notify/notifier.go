// Package notify delivers fire-and-forget events to the notification and
// billing collaborators. Delivery is best-effort: failures are logged and
// never surfaced to the calling request.
package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectQuotaAlert   = "marketplace.tenant.quota_alert"
	subjectRevenueEvent = "marketplace.tenant.revenue"
)

// QuotaAlert describes a quota threshold crossing or an alert-action denial.
type QuotaAlert struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	QuotaType    string    `json:"quota_type"`
	Limit        int64     `json:"limit"`
	CurrentUsage int64     `json:"current_usage"`
	Kind         string    `json:"kind"` // "soft_limit" or "limit_exceeded"
	OccurredAt   time.Time `json:"occurred_at"`
}

// RevenueEvent describes revenue attributed to one tracked use of a shared
// resource.
type RevenueEvent struct {
	GrantID       uuid.UUID `json:"grant_id"`
	PolicyID      uuid.UUID `json:"policy_id"`
	OwnerTenantID uuid.UUID `json:"owner_tenant_id"`
	Cost          float64   `json:"cost"`
	Revenue       float64   `json:"revenue"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier is the outbound event interface. Implementations must never
// block the caller on delivery problems.
type Notifier interface {
	PublishQuotaAlert(alert QuotaAlert)
	PublishRevenueEvent(event RevenueEvent)
}

// NATSNotifier publishes events to NATS subjects.
type NATSNotifier struct {
	nc *nats.Conn
}

// NewNATSNotifier wraps an established NATS connection.
func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

func (n *NATSNotifier) PublishQuotaAlert(alert QuotaAlert) {
	n.publish(subjectQuotaAlert, alert)
}

func (n *NATSNotifier) PublishRevenueEvent(event RevenueEvent) {
	n.publish(subjectRevenueEvent, event)
}

func (n *NATSNotifier) publish(subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal notification", "subject", subject, "error", err)
		return
	}
	if err := n.nc.Publish(subject, payload); err != nil {
		slog.Warn("publish notification failed", "subject", subject, "error", err)
	}
}

// LogNotifier is the fallback used when no NATS URL is configured. Events
// are logged instead of delivered.
type LogNotifier struct{}

func (LogNotifier) PublishQuotaAlert(alert QuotaAlert) {
	slog.Info("quota alert",
		"tenant_id", alert.TenantID,
		"quota_type", alert.QuotaType,
		"kind", alert.Kind,
		"current_usage", alert.CurrentUsage,
		"limit", alert.Limit,
	)
}

func (LogNotifier) PublishRevenueEvent(event RevenueEvent) {
	slog.Info("revenue event",
		"grant_id", event.GrantID,
		"policy_id", event.PolicyID,
		"revenue", event.Revenue,
	)
}
