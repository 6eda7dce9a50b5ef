/**
 * @description
 * This file defines the WithdrawalRequest domain model: a coach's request to
 * cash out wallet credits. Requests are created by coach action and mutated
 * only by the admin approve/reject flow.
 */
package domain

import "time"

// Withdrawal request statuses.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusApproved   = "approved"
	WithdrawalStatusRejected   = "rejected"
	WithdrawalStatusFailed     = "failed"
	WithdrawalStatusCancelled  = "cancelled"
)

// Withdrawal processing actions.
const (
	WithdrawalActionApprove = "approve"
	WithdrawalActionReject  = "reject"
)

// WithdrawalRequest represents a coach's request to cash out wallet credits.
type WithdrawalRequest struct {
	ID              string     `json:"id"`
	CoachID         string     `json:"coach_id"`
	CreditsAmount   int64      `json:"credits_amount"`
	AmountMWK       int64      `json:"amount_mwk"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	AdminNotes      *string    `json:"admin_notes,omitempty"`
	FraudScore      *float64   `json:"fraud_score,omitempty"`
	PayoutMethod    string     `json:"payout_method"`
	PayoutAccount   string     `json:"payout_account"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
