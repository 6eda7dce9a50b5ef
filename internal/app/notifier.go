/**
 * @description
 * This file implements the best-effort notification fan-out used by the
 * billing engine: the append-only audit log, the optional outbound alert
 * webhook, and the RabbitMQ event stream. Every channel swallows its own
 * errors; a dead webhook or broker must never block or roll back a
 * subscription or withdrawal state change.
 */

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/rabbitmq"
)

// EventsExchange is the topic exchange billing events are published to.
const EventsExchange = "coachinghub.events"

// BillingNotifier writes audit entries and dispatches alerts. It implements
// the Notifier interface.
type BillingNotifier struct {
	repo            store.Repository
	publisher       rabbitmq.Publisher
	alertWebhookURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewBillingNotifier creates a notifier. publisher may be nil and
// alertWebhookURL may be empty; the corresponding channels are then skipped.
func NewBillingNotifier(repo store.Repository, publisher rabbitmq.Publisher, alertWebhookURL string, logger *slog.Logger) *BillingNotifier {
	return &BillingNotifier{
		repo:            repo,
		publisher:       publisher,
		alertWebhookURL: alertWebhookURL,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
	}
}

type statusChangeAlert struct {
	Event            string         `json:"event"`
	SubscriptionID   string         `json:"subscription_id"`
	SubscriptionType string         `json:"subscription_type"`
	OldStatus        string         `json:"old_status"`
	NewStatus        string         `json:"new_status"`
	Reason           string         `json:"reason"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// SubscriptionStatusChanged records a coach-subscription transition.
func (n *BillingNotifier) SubscriptionStatusChanged(ctx context.Context, subscriptionID, oldStatus, newStatus, reason string, metadata map[string]any) {
	n.dispatch(ctx, domain.AuditTypeCoachSubscription, subscriptionID, oldStatus, newStatus, reason, nil, metadata)
}

// WithdrawalStatusChanged records a withdrawal-request transition.
func (n *BillingNotifier) WithdrawalStatusChanged(ctx context.Context, withdrawalID, oldStatus, newStatus, reason string, changedBy *string) {
	n.dispatch(ctx, domain.AuditTypeWithdrawal, withdrawalID, oldStatus, newStatus, reason, changedBy, nil)
}

func (n *BillingNotifier) dispatch(ctx context.Context, subscriptionType, id, oldStatus, newStatus, reason string, changedBy *string, metadata map[string]any) {
	entry := &domain.SubscriptionAuditLogEntry{
		ID:               uuid.NewString(),
		SubscriptionID:   id,
		SubscriptionType: subscriptionType,
		OldStatus:        oldStatus,
		NewStatus:        newStatus,
		ChangedBy:        changedBy,
		ChangeReason:     reason,
		Metadata:         metadata,
	}
	if err := n.repo.InsertAuditLogEntry(ctx, entry); err != nil {
		n.logger.Warn("failed to write audit log entry",
			"subscription_id", id, "old_status", oldStatus, "new_status", newStatus, "error", err)
	}

	alert := statusChangeAlert{
		Event:            subscriptionType + ".status_changed",
		SubscriptionID:   id,
		SubscriptionType: subscriptionType,
		OldStatus:        oldStatus,
		NewStatus:        newStatus,
		Reason:           reason,
		Metadata:         metadata,
		Timestamp:        time.Now().UTC(),
	}

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, EventsExchange, alert.Event, alert); err != nil {
			n.logger.Warn("failed to publish billing event", "routing_key", alert.Event, "error", err)
		}
	}

	n.postAlert(ctx, alert)
}

// postAlert POSTs the JSON alert to the configured webhook, if any.
func (n *BillingNotifier) postAlert(ctx context.Context, alert statusChangeAlert) {
	if n.alertWebhookURL == "" {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		n.logger.Warn("failed to marshal alert payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.alertWebhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("failed to build alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("alert webhook unreachable", "url", n.alertWebhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("alert webhook rejected payload", "url", n.alertWebhookURL, "status", resp.StatusCode)
	}
}
