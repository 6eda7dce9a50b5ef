/**
 * @description
 * This file defines the append-only audit log entry written whenever the
 * billing engine changes a subscription or withdrawal status. It is the
 * system of record for "why did this record change status" and is never
 * mutated after insertion.
 */
package domain

import "time"

// Audit subscription types.
const (
	AuditTypeCoachSubscription = "coach_subscription"
	AuditTypeClientOrder       = "client_order"
	AuditTypeWithdrawal        = "withdrawal"
)

// SubscriptionAuditLogEntry is an immutable record of a status transition.
type SubscriptionAuditLogEntry struct {
	ID               string         `json:"id"`
	SubscriptionID   string         `json:"subscription_id"`
	SubscriptionType string         `json:"subscription_type"`
	OldStatus        string         `json:"old_status"`
	NewStatus        string         `json:"new_status"`
	ChangedBy        *string        `json:"changed_by,omitempty"`
	ChangeReason     string         `json:"change_reason"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
