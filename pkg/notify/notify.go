// Package notify fans notifications out to the channels named by each
// tenant's notification policy. Delivery is best-effort: failures are
// logged and counted, never returned to the pipeline.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
)

const dispatchTimeout = 10 * time.Second

// Notification is one message to deliver across the tenant's channels.
type Notification struct {
	Subject     string
	Message     string
	Severity    models.Severity
	ExceptionID string
	// DetailsURL backs the "View Details" button / link when set.
	DetailsURL string
}

// Service resolves channels from the pack registry and dispatches.
type Service struct {
	registry *pack.Registry
	client   *http.Client
	metrics  *metrics.Registry

	// dashboardURL builds DetailsURL for notifications raised without one.
	dashboardURL string
}

// NewService creates the dispatcher. client and reg may be nil.
func NewService(registry *pack.Registry, client *http.Client, reg *metrics.Registry, dashboardURL string) *Service {
	if client == nil {
		client = &http.Client{Timeout: dispatchTimeout}
	}
	return &Service{registry: registry, client: client, metrics: reg, dashboardURL: dashboardURL}
}

// Dispatch delivers the notification on every configured channel.
// Always returns nil; per-channel failures are logged and counted.
func (s *Service) Dispatch(ctx context.Context, tenantID string, n Notification) error {
	if n.DetailsURL == "" && s.dashboardURL != "" && n.ExceptionID != "" {
		n.DetailsURL = s.dashboardURL + "/exceptions/" + n.ExceptionID
	}

	channels := s.channelsFor(tenantID)
	if len(channels) == 0 {
		slog.Debug("No notification channels configured", "tenant_id", tenantID)
		return nil
	}

	for _, ch := range channels {
		var err error
		switch ch.Type {
		case "slack":
			err = s.sendSlack(ctx, ch, n)
		case "teams":
			err = s.sendTeams(ctx, ch, n)
		case "email":
			err = s.sendEmail(ch, n)
		default:
			slog.Warn("Skipping unknown channel type", "tenant_id", tenantID, "type", ch.Type)
			continue
		}

		outcome := "sent"
		if err != nil {
			outcome = "failed"
			slog.Error("Notification delivery failed", "tenant_id", tenantID,
				"channel", ch.Type, "error", err)
		} else {
			slog.Info("Notification delivered", "tenant_id", tenantID,
				"channel", ch.Type, "subject", n.Subject)
		}
		if s.metrics != nil {
			s.metrics.NotificationsTotal.WithLabelValues(tenantID, ch.Type, outcome).Inc()
		}
	}
	return nil
}

// Notify adapts Dispatch to the single-message shape the workers and the
// alert evaluator call with.
func (s *Service) Notify(ctx context.Context, tenantID, subject, message string) error {
	return s.Dispatch(ctx, tenantID, Notification{Subject: subject, Message: message})
}

// channelsFor collects the channels of every tenant policy across the
// registered domains. A tenant usually has one policy; multi-domain
// tenants get the union.
func (s *Service) channelsFor(tenantID string) []pack.ChannelSpec {
	if s.registry == nil {
		return nil
	}
	var channels []pack.ChannelSpec
	for _, domain := range s.registry.Domains() {
		policy, ok := s.registry.TenantPolicy(tenantID, domain)
		if !ok {
			continue
		}
		channels = append(channels, policy.Notifications.Channels...)
	}
	return channels
}
