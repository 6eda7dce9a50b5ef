/**
 * @description
 * This file defines the Transaction domain model. A Transaction is one
 * attempt to collect money through the payment gateway. Its reference is
 * both our correlation key and the gateway idempotency key, so references
 * are minted fresh per attempt and never reused.
 */
package domain

import "time"

// Transaction statuses.
const (
	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// Transaction modes describe what a charge attempt is paying for.
const (
	ModeCoachSubscription        = "coach_subscription"
	ModeCoachSubscriptionRenewal = "coach_subscription_renewal"
	ModeClientOneTime            = "client_one_time"
	ModeClientSubscription       = "client_subscription"
	ModeWithdrawalPayout         = "withdrawal_payout"
)

// Transaction represents one attempt to collect (or pay out) money via the
// payment gateway.
type Transaction struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	TransactionRef  string     `json:"transaction_ref"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	Mode            string     `json:"transaction_mode"`
	GatewayResponse []byte     `json:"gateway_response,omitempty"`
	OrderID         *string    `json:"order_id,omitempty"`
	SubscriptionID  *string    `json:"subscription_id,omitempty"`
	WithdrawalID    *string    `json:"withdrawal_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
