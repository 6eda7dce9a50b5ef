/**
 * @description
 * This file implements the renewal batch: the periodically-invoked job that
 * scans coach subscriptions whose renewal date has passed and either starts
 * a fresh renewal charge or applies the grace/expiry rules.
 *
 * State machine driven here (webhook reactivation is external):
 *
 *   active --(renewal due, gateway call fails)--> grace
 *   grace  --(gateway call fails, attempts < max)--> grace (attempts+1)
 *   grace  --(attempts >= max)--> expired
 *   grace  --(grace deadline elapsed)--> expired
 *
 * Each subscription is processed in isolation: a panic or unexpected error
 * in one never aborts the rest of the batch. The guard against duplicate
 * charges is the renewal-transaction claim in the store, which serializes
 * concurrent claimants on the subscription row; the read-only pending check
 * earlier in the flow only classifies, it never decides.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
)

// Renewal result status tags.
const (
	RenewalStatusInitiated = "initiated"
	RenewalStatusSkipped   = "skipped"
	RenewalStatusFailed    = "failed"
	RenewalStatusExpired   = "expired"
	RenewalStatusGrace     = "grace"
	RenewalStatusError     = "error"
)

// Renewal result reasons.
const (
	ReasonMissingRenewalDate = "missing_renewal_date"
	ReasonGraceElapsed       = "grace_period_elapsed"
	ReasonMaxAttemptsReached = "max_attempts_reached"
	ReasonPendingTransaction = "pending_transaction_exists"
	ReasonTierNotFound       = "tier_not_found"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonProfileNotFound    = "profile_not_found"
	ReasonPaymentInitFailed  = "payment_initialization_failed"
)

// RenewalResult records the outcome for one subscription in a batch run.
type RenewalResult struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// RenewalRunSummary is the batch output: a programmatic contract that is
// also meant to be legible in logs and alerts.
type RenewalRunSummary struct {
	Processed int             `json:"processed"`
	Results   []RenewalResult `json:"results"`
}

// RunRenewalBatch processes up to limit due subscriptions. A non-positive or
// over-ceiling limit is clamped to the configured batch size.
func (s *Service) RunRenewalBatch(ctx context.Context, limit int) (*RenewalRunSummary, error) {
	if limit <= 0 || limit > s.cfg.RenewalBatchSize {
		limit = s.cfg.RenewalBatchSize
	}

	if s.runLock != nil {
		acquired, err := s.runLock.Acquire(ctx)
		if err != nil {
			// A broken lock backend must not stop billing; the atomic
			// transaction claim still prevents duplicate charges.
			s.logger.Warn("renewal run lock unavailable, proceeding without it", "error", err)
		} else if !acquired {
			return nil, ErrRunInProgress
		} else {
			defer s.runLock.Release(ctx)
		}
	}

	now := time.Now().UTC()
	due, err := s.repo.ListDueSubscriptions(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	summary := &RenewalRunSummary{Results: make([]RenewalResult, 0, len(due))}
	for _, sub := range due {
		result := s.processDueSubscription(ctx, sub, now)
		summary.Results = append(summary.Results, result)
		summary.Processed++
		s.logger.Info("renewal processed",
			"subscription_id", sub.ID, "status", result.Status, "reason", result.Reason)
	}

	return summary, nil
}

// processDueSubscription applies the renewal rules to one subscription.
// Panics and unexpected errors are contained here so one bad record never
// takes down the batch.
func (s *Service) processDueSubscription(ctx context.Context, sub domain.CoachSubscription, now time.Time) (result RenewalResult) {
	result = RenewalResult{SubscriptionID: sub.ID}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing subscription", "subscription_id", sub.ID, "panic", r)
			result.Status = RenewalStatusError
			result.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	// Defensive: due subscriptions are selected by renewal_date, so a nil
	// date here means the row changed under us.
	if sub.RenewalDate == nil {
		result.Status = RenewalStatusSkipped
		result.Reason = ReasonMissingRenewalDate
		return result
	}

	// Grace deadline elapsed: forced expiry dated to the deadline itself,
	// not to this run.
	if sub.Status == domain.SubscriptionStatusGrace && sub.GraceExpiresAt != nil && now.After(*sub.GraceExpiresAt) {
		if err := s.expireSubscription(ctx, sub, *sub.GraceExpiresAt, ReasonGraceElapsed, sub.FailedRenewalAttempts); err != nil {
			return errorResult(sub.ID, err)
		}
		result.Status = RenewalStatusExpired
		result.Reason = ReasonGraceElapsed
		return result
	}

	// Attempt budget already exhausted: expire regardless of any remaining
	// grace window.
	if sub.FailedRenewalAttempts >= s.cfg.MaxRenewalAttempts {
		if err := s.expireSubscription(ctx, sub, now, ReasonMaxAttemptsReached, sub.FailedRenewalAttempts); err != nil {
			return errorResult(sub.ID, err)
		}
		result.Status = RenewalStatusExpired
		result.Reason = ReasonMaxAttemptsReached
		return result
	}

	// Read-only pending check before anything else is resolved. The claim
	// below remains the deciding guard; this only keeps a subscription that
	// already has a charge in flight from being reported under an unrelated
	// reason (a deleted tier, say).
	pending, err := s.repo.SubscriptionHasPendingTransaction(ctx, sub.ID)
	if err != nil {
		return errorResult(sub.ID, err)
	}
	if pending {
		result.Status = RenewalStatusSkipped
		result.Reason = ReasonPendingTransaction
		return result
	}

	tier, err := s.repo.GetTierByID(ctx, sub.TierID)
	if err != nil {
		if errors.Is(err, store.ErrTierNotFound) {
			result.Status = RenewalStatusFailed
			result.Reason = ReasonTierNotFound
			return result
		}
		return errorResult(sub.ID, err)
	}

	amount := tier.PriceFor(sub.BillingCycle)
	if amount <= 0 {
		result.Status = RenewalStatusFailed
		result.Reason = ReasonInvalidAmount
		return result
	}

	profile, err := s.repo.GetProfileByID(ctx, sub.CoachID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			result.Status = RenewalStatusFailed
			result.Reason = ReasonProfileNotFound
			return result
		}
		return errorResult(sub.ID, err)
	}

	// The claim: insert the pending renewal transaction only if no pending
	// transaction exists, with concurrent claimants serialized on the
	// subscription row lock in the store. This is what stops two
	// overlapping runs from double-charging.
	tx := &domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         sub.CoachID,
		TransactionRef: mintTxRef("renew"),
		Amount:         amount,
		Currency:       s.cfg.DefaultCurrency,
		Status:         domain.TransactionStatusPending,
		Mode:           domain.ModeCoachSubscriptionRenewal,
		SubscriptionID: &sub.ID,
	}
	claimed, err := s.repo.ClaimRenewalTransaction(ctx, tx)
	if err != nil {
		return errorResult(sub.ID, err)
	}
	if !claimed {
		result.Status = RenewalStatusSkipped
		result.Reason = ReasonPendingTransaction
		return result
	}

	resp, err := s.gateway.InitiatePayment(ctx, paychangu.PaymentRequest{
		Amount:      amount,
		Currency:    tx.Currency,
		Email:       profile.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		CallbackURL: s.cfg.AppBaseURL + "/api/payment-webhook",
		ReturnURL:   s.cfg.AppBaseURL + "/payment-return?tx_ref=" + tx.TransactionRef + "&source=renewal",
		TxRef:       tx.TransactionRef,
	})
	if err != nil {
		return s.handleRenewalChargeFailure(ctx, sub, tx, err, now)
	}

	// Success here only means the gateway accepted the charge attempt. The
	// transaction stays pending until the webhook resolves it; the
	// subscription status is left untouched.
	if attachErr := s.repo.AttachGatewayResponse(ctx, tx.ID, resp.Raw); attachErr != nil {
		s.logger.Warn("failed to attach gateway response", "transaction_id", tx.ID, "error", attachErr)
	}

	result.Status = RenewalStatusInitiated
	result.CheckoutURL = resp.Data.CheckoutURL
	return result
}

// handleRenewalChargeFailure drives the grace/expiry state machine after a
// failed gateway initiation.
func (s *Service) handleRenewalChargeFailure(ctx context.Context, sub domain.CoachSubscription, tx *domain.Transaction, gatewayErr error, now time.Time) RenewalResult {
	s.logger.Warn("renewal charge initiation failed",
		"subscription_id", sub.ID, "tx_ref", tx.TransactionRef, "error", gatewayErr)

	if err := s.repo.MarkTransactionFailed(ctx, tx.ID, rawGatewayBody(gatewayErr)); err != nil {
		s.logger.Error("failed to mark renewal transaction failed", "transaction_id", tx.ID, "error", err)
	}

	attempts, err := s.repo.IncrementFailedRenewalAttempts(ctx, sub.ID)
	if err != nil {
		return errorResult(sub.ID, err)
	}

	if attempts >= s.cfg.MaxRenewalAttempts {
		if err := s.expireSubscription(ctx, sub, now, ReasonMaxAttemptsReached, attempts); err != nil {
			return errorResult(sub.ID, err)
		}
		return RenewalResult{
			SubscriptionID: sub.ID,
			Status:         RenewalStatusExpired,
			Reason:         ReasonMaxAttemptsReached,
		}
	}

	graceExpiresAt := now.AddDate(0, 0, s.cfg.GracePeriodDays)
	if err := s.repo.MoveSubscriptionToGrace(ctx, sub.ID, graceExpiresAt); err != nil {
		return errorResult(sub.ID, err)
	}
	s.notifier.SubscriptionStatusChanged(ctx, sub.ID, sub.Status, domain.SubscriptionStatusGrace, ReasonPaymentInitFailed, map[string]any{
		"failed_renewal_attempts": attempts,
		"grace_expires_at":        graceExpiresAt,
		"transaction_ref":         tx.TransactionRef,
	})

	return RenewalResult{
		SubscriptionID: sub.ID,
		Status:         RenewalStatusGrace,
		Reason:         ReasonPaymentInitFailed,
	}
}

// expireSubscription applies the expired transition and emits the audit
// entry and alert.
func (s *Service) expireSubscription(ctx context.Context, sub domain.CoachSubscription, endDate time.Time, reason string, attempts int) error {
	if err := s.repo.ExpireSubscription(ctx, sub.ID, endDate); err != nil {
		return err
	}
	s.notifier.SubscriptionStatusChanged(ctx, sub.ID, sub.Status, domain.SubscriptionStatusExpired, reason, map[string]any{
		"end_date":                endDate,
		"failed_renewal_attempts": attempts,
	})
	return nil
}

func errorResult(subscriptionID string, err error) RenewalResult {
	return RenewalResult{
		SubscriptionID: subscriptionID,
		Status:         RenewalStatusError,
		Detail:         err.Error(),
	}
}
