/**
 * @description
 * This file implements withdrawal request handling: coaches submit requests
 * against their wallet credits, and admins approve or reject them. Approval
 * claims the request atomically (pending -> processing), deducts the wallet,
 * creates a payout transaction and calls the gateway payout API. A payout
 * failure refunds the credits automatically.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
)

// CreateWithdrawalRequest is the payload for a coach cash-out request.
type CreateWithdrawalRequest struct {
	CreditsAmount int64  `json:"credits_amount"`
	AmountMWK     int64  `json:"amount_mwk"`
	PayoutMethod  string `json:"payout_method"`
	PayoutAccount string `json:"payout_account"`
}

// ProcessWithdrawalRequest is the payload for an admin approve/reject decision.
type ProcessWithdrawalRequest struct {
	WithdrawalID    string  `json:"withdrawal_id"`
	Action          string  `json:"action"`
	AdminNotes      *string `json:"admin_notes,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// SubmitWithdrawal creates a pending withdrawal request for a coach.
func (s *Service) SubmitWithdrawal(ctx context.Context, userID string, req CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	profile, err := s.repo.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller profile: %w", err)
	}
	if profile.Role != domain.RoleCoach {
		return nil, ErrForbidden
	}

	if req.CreditsAmount <= 0 || req.AmountMWK <= 0 {
		return nil, fmt.Errorf("%w: credits_amount and amount_mwk must be positive", ErrInvalidRequest)
	}
	if req.PayoutMethod == "" || req.PayoutAccount == "" {
		return nil, fmt.Errorf("%w: payout_method and payout_account are required", ErrInvalidRequest)
	}
	if profile.WalletCredits < req.CreditsAmount {
		return nil, fmt.Errorf("%w: requested credits exceed wallet balance", ErrInvalidRequest)
	}

	withdrawal := &domain.WithdrawalRequest{
		ID:            uuid.NewString(),
		CoachID:       profile.ID,
		CreditsAmount: req.CreditsAmount,
		AmountMWK:     req.AmountMWK,
		Status:        domain.WithdrawalStatusPending,
		PayoutMethod:  req.PayoutMethod,
		PayoutAccount: req.PayoutAccount,
	}
	if err := s.repo.CreateWithdrawalRequest(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	return withdrawal, nil
}

// ListWithdrawals returns the coach's own requests, optionally filtered by status.
func (s *Service) ListWithdrawals(ctx context.Context, userID string, status string) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalRequestsByCoach(ctx, userID, status)
}

// ProcessWithdrawal applies an admin approve/reject decision.
func (s *Service) ProcessWithdrawal(ctx context.Context, adminID string, req ProcessWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	profile, err := s.repo.GetProfileByID(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller profile: %w", err)
	}
	if profile.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}

	if req.WithdrawalID == "" {
		return nil, fmt.Errorf("%w: withdrawal_id is required", ErrInvalidRequest)
	}

	switch req.Action {
	case domain.WithdrawalActionApprove:
		return s.approveWithdrawal(ctx, adminID, req)
	case domain.WithdrawalActionReject:
		return s.rejectWithdrawal(ctx, adminID, req)
	default:
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrInvalidRequest)
	}
}

func (s *Service) approveWithdrawal(ctx context.Context, adminID string, req ProcessWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	// Atomic claim: only one admin action can move pending -> processing.
	withdrawal, err := s.repo.ClaimWithdrawalForProcessing(ctx, req.WithdrawalID)
	if err != nil {
		return nil, err
	}
	s.notifier.WithdrawalStatusChanged(ctx, withdrawal.ID, domain.WithdrawalStatusPending, domain.WithdrawalStatusProcessing, "admin_approved", &adminID)

	if err := s.repo.DebitWalletCredits(ctx, withdrawal.CoachID, withdrawal.CreditsAmount); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			reason := "insufficient wallet credits at approval time"
			if markErr := s.repo.MarkWithdrawalFailed(ctx, withdrawal.ID, reason); markErr != nil {
				s.logger.Error("failed to mark withdrawal failed", "withdrawal_id", withdrawal.ID, "error", markErr)
			}
			s.notifier.WithdrawalStatusChanged(ctx, withdrawal.ID, domain.WithdrawalStatusProcessing, domain.WithdrawalStatusFailed, reason, &adminID)
			return s.repo.GetWithdrawalRequestByID(ctx, withdrawal.ID)
		}
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	tx := &domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         withdrawal.CoachID,
		TransactionRef: mintTxRef("wd"),
		Amount:         withdrawal.AmountMWK,
		Currency:       s.cfg.DefaultCurrency,
		Status:         domain.TransactionStatusPending,
		Mode:           domain.ModeWithdrawalPayout,
		WithdrawalID:   &withdrawal.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		// Roll the debit back; the request returns to a retryable failed state.
		s.refundCredits(ctx, withdrawal.CoachID, withdrawal.CreditsAmount)
		return nil, fmt.Errorf("failed to create payout transaction: %w", err)
	}

	resp, err := s.gateway.InitiatePayout(ctx, paychangu.PayoutRequest{
		Amount:      withdrawal.AmountMWK,
		Currency:    s.cfg.DefaultCurrency,
		Mobile:      withdrawal.PayoutAccount,
		PayoutRef:   tx.TransactionRef,
		Description: "coach wallet withdrawal",
	})
	if err != nil {
		s.logger.Warn("gateway payout failed", "withdrawal_id", withdrawal.ID, "tx_ref", tx.TransactionRef, "error", err)
		if markErr := s.repo.MarkTransactionFailed(ctx, tx.ID, rawGatewayBody(err)); markErr != nil {
			s.logger.Error("failed to mark payout transaction failed", "transaction_id", tx.ID, "error", markErr)
		}
		// Credits go back to the wallet when the payout is rejected.
		s.refundCredits(ctx, withdrawal.CoachID, withdrawal.CreditsAmount)
		reason := "payout failed: " + err.Error()
		if markErr := s.repo.MarkWithdrawalFailed(ctx, withdrawal.ID, reason); markErr != nil {
			s.logger.Error("failed to mark withdrawal failed", "withdrawal_id", withdrawal.ID, "error", markErr)
		}
		s.notifier.WithdrawalStatusChanged(ctx, withdrawal.ID, domain.WithdrawalStatusProcessing, domain.WithdrawalStatusFailed, reason, &adminID)
		return s.repo.GetWithdrawalRequestByID(ctx, withdrawal.ID)
	}

	if attachErr := s.repo.AttachGatewayResponse(ctx, tx.ID, resp.Raw); attachErr != nil {
		s.logger.Warn("failed to attach gateway response", "transaction_id", tx.ID, "error", attachErr)
	}
	if err := s.repo.MarkWithdrawalCompleted(ctx, withdrawal.ID, req.AdminNotes); err != nil {
		return nil, fmt.Errorf("failed to mark withdrawal completed: %w", err)
	}
	s.notifier.WithdrawalStatusChanged(ctx, withdrawal.ID, domain.WithdrawalStatusProcessing, domain.WithdrawalStatusCompleted, "payout_initiated", &adminID)

	return s.repo.GetWithdrawalRequestByID(ctx, withdrawal.ID)
}

func (s *Service) rejectWithdrawal(ctx context.Context, adminID string, req ProcessWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	reason := req.RejectionReason
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection_reason is required when rejecting", ErrInvalidRequest)
	}

	if err := s.repo.MarkWithdrawalRejected(ctx, req.WithdrawalID, reason, req.AdminNotes); err != nil {
		return nil, err
	}
	s.notifier.WithdrawalStatusChanged(ctx, req.WithdrawalID, domain.WithdrawalStatusPending, domain.WithdrawalStatusRejected, reason, &adminID)

	return s.repo.GetWithdrawalRequestByID(ctx, req.WithdrawalID)
}

func (s *Service) refundCredits(ctx context.Context, coachID string, credits int64) {
	if err := s.repo.CreditWalletCredits(ctx, coachID, credits); err != nil {
		// A failed refund needs operator attention; the audit trail plus this
		// log line is the paper trail.
		s.logger.Error("failed to refund wallet credits", "coach_id", coachID, "credits", credits, "error", err)
	}
}
