/**
 * @description
 * This file defines the core domain models for coach subscriptions and the
 * pricing tiers they bill against. A CoachSubscription is the recurring
 * billing relationship between a coach and a tier; the renewal scheduler is
 * the only component that moves it between active, grace and expired.
 */
package domain

import "time"

// Subscription statuses.
const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusGrace     = "grace"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Billing cycles.
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// CoachSubscription represents a coach's recurring billing relationship to a tier.
type CoachSubscription struct {
	ID                    string     `json:"id"`
	CoachID               string     `json:"coach_id"`
	TierID                string     `json:"tier_id"`
	Status                string     `json:"status"`
	BillingCycle          string     `json:"billing_cycle"`
	RenewalDate           *time.Time `json:"renewal_date,omitempty"`
	GraceExpiresAt        *time.Time `json:"grace_expires_at,omitempty"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	FailedRenewalAttempts int        `json:"failed_renewal_attempts"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Tier is a coach pricing plan definition. The billing engine only ever
// reads tiers; they are authored elsewhere.
type Tier struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PriceMonthly int64  `json:"price_monthly"`
	PriceYearly  int64  `json:"price_yearly"`
}

// PriceFor returns the tier's stored price for a billing cycle. Unknown
// cycles return zero, which callers treat as an invalid amount.
func (t Tier) PriceFor(cycle string) int64 {
	switch cycle {
	case BillingCycleMonthly:
		return t.PriceMonthly
	case BillingCycleYearly:
		return t.PriceYearly
	default:
		return 0
	}
}
