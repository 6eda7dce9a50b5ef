/**
 * @description
 * This file defines the `Repository` interface: the contract for every data
 * access operation the billing engine needs. Keeping the interface here
 * decouples the business logic in `internal/app` from PostgreSQL and lets
 * tests substitute in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: The engine's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/expertcoachinghub/billing-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Profile methods. Roles are always resolved here, never read from
	// request payloads.
	GetProfileByID(ctx context.Context, userID string) (*domain.Profile, error)

	// Tier methods (read-only to the engine).
	GetTierByID(ctx context.Context, tierID string) (*domain.Tier, error)

	// Coach subscription methods.
	CreateCoachSubscription(ctx context.Context, sub *domain.CoachSubscription) error
	GetCoachSubscriptionByID(ctx context.Context, id string) (*domain.CoachSubscription, error)
	// ListDueSubscriptions returns subscriptions in (active, grace) whose
	// renewal_date has passed, oldest first, capped at limit.
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.CoachSubscription, error)
	// IncrementFailedRenewalAttempts atomically bumps the attempt counter
	// and returns the new value.
	IncrementFailedRenewalAttempts(ctx context.Context, id string) (int, error)
	// MoveSubscriptionToGrace sets status=grace and the grace deadline.
	MoveSubscriptionToGrace(ctx context.Context, id string, graceExpiresAt time.Time) error
	// ExpireSubscription sets status=expired, records the end date and
	// clears any grace deadline.
	ExpireSubscription(ctx context.Context, id string, endDate time.Time) error

	// Client order methods.
	CreateClientOrder(ctx context.Context, order *domain.ClientOrder) error

	// Transaction methods.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// SubscriptionHasPendingTransaction is a read-only check for an
	// outstanding pending transaction. Advisory only; the claim below is
	// what decides.
	SubscriptionHasPendingTransaction(ctx context.Context, subscriptionID string) (bool, error)
	// ClaimRenewalTransaction inserts a pending renewal transaction only if
	// the subscription has no pending transaction outstanding, serializing
	// concurrent claims on the subscription row. It reports whether the
	// insert happened. This is the load-bearing guard against
	// double-charging a subscription.
	ClaimRenewalTransaction(ctx context.Context, tx *domain.Transaction) (bool, error)
	MarkTransactionFailed(ctx context.Context, transactionID string, gatewayResponse []byte) error
	AttachGatewayResponse(ctx context.Context, transactionID string, gatewayResponse []byte) error

	// Withdrawal methods.
	CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error
	GetWithdrawalRequestByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	ListWithdrawalRequestsByCoach(ctx context.Context, coachID string, status string) ([]domain.WithdrawalRequest, error)
	// ClaimWithdrawalForProcessing atomically flips a pending request to
	// processing and returns it; ErrWithdrawalNotPending if already taken.
	ClaimWithdrawalForProcessing(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	MarkWithdrawalCompleted(ctx context.Context, id string, adminNotes *string) error
	MarkWithdrawalFailed(ctx context.Context, id string, reason string) error
	MarkWithdrawalRejected(ctx context.Context, id string, reason string, adminNotes *string) error

	// Wallet methods. Amounts are credits, not MWK.
	DebitWalletCredits(ctx context.Context, userID string, credits int64) error
	CreditWalletCredits(ctx context.Context, userID string, credits int64) error

	// Audit log (append-only, best-effort from the caller's perspective).
	InsertAuditLogEntry(ctx context.Context, entry *domain.SubscriptionAuditLogEntry) error
}
