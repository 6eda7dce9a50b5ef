/**
 * @description
 * This file contains the payment initiation logic for the billing service.
 * Given an authenticated user and a purchase mode, the service creates the
 * pending domain record (coach subscription or client order), a pending
 * transaction with a freshly minted reference, calls the payment gateway for
 * a hosted checkout URL and returns it.
 *
 * Key invariants:
 * - The caller's role is resolved server-side from the profiles table and
 *   must match the purchase mode. Violations create no records.
 * - Coach-subscription amounts are derived from the tier's stored price for
 *   the requested cycle, never from the request payload.
 * - Gateway failure rolls the transaction to failed with the raw gateway
 *   response preserved; the domain record stays pending for the webhook or
 *   a later retry.
 *
 * @dependencies
 * - context, errors, fmt, log/slog: Standard Go libraries.
 * - github.com/google/uuid: Transaction reference minting.
 * - internal/config, internal/domain, internal/store: Configuration, models, data access.
 * - pkg/paychangu: The payment gateway client.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/expertcoachinghub/billing-service/internal/config"
	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
)

var (
	// ErrForbidden is returned when the caller's role does not permit the
	// requested purchase mode.
	ErrForbidden = errors.New("role not permitted for this purchase mode")
	// ErrInvalidRequest is returned for validation failures that must be
	// rejected before any database write.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunInProgress is returned when a renewal run is already holding
	// the distributed run lock.
	ErrRunInProgress = errors.New("renewal run already in progress")
)

// Gateway is the payment gateway capability the engine depends on. It is an
// interface so the business logic is testable without a network dependency.
type Gateway interface {
	InitiatePayment(ctx context.Context, payment paychangu.PaymentRequest) (*paychangu.PaymentResponse, error)
	InitiatePayout(ctx context.Context, payout paychangu.PayoutRequest) (*paychangu.PayoutResponse, error)
}

// Notifier is the best-effort side channel for audit entries and alerts.
// Implementations must never return errors to callers.
type Notifier interface {
	SubscriptionStatusChanged(ctx context.Context, subscriptionID, oldStatus, newStatus, reason string, metadata map[string]any)
	WithdrawalStatusChanged(ctx context.Context, withdrawalID, oldStatus, newStatus, reason string, changedBy *string)
}

// RunLock guards against overlapping renewal batch invocations.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Service provides the core business logic of the billing engine.
type Service struct {
	repo     store.Repository
	gateway  Gateway
	notifier Notifier
	runLock  RunLock
	logger   *slog.Logger
	cfg      config.Config
}

// NewService creates a new billing service instance. runLock may be nil when
// no distributed lock is configured.
func NewService(repo store.Repository, gateway Gateway, notifier Notifier, runLock RunLock, logger *slog.Logger, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		runLock:  runLock,
		logger:   logger,
		cfg:      cfg,
	}
}

// InitiatePaymentRequest is the payload for starting a checkout flow.
type InitiatePaymentRequest struct {
	Mode         string            `json:"mode"`
	TierID       string            `json:"tier_id,omitempty"`
	BillingCycle string            `json:"billing_cycle,omitempty"`
	CoachID      string            `json:"coach_id,omitempty"`
	CourseID     *string           `json:"course_id,omitempty"`
	Amount       int64             `json:"amount,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	ReturnURL    string            `json:"return_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// InitiationResult is returned to the caller on successful gateway initiation.
type InitiationResult struct {
	CheckoutURL    string  `json:"checkout_url"`
	TransactionRef string  `json:"transaction_ref"`
	OrderID        *string `json:"order_id,omitempty"`
	SubscriptionID *string `json:"subscription_id,omitempty"`
}

// InitiatePayment validates and executes one of the three purchase modes for
// the authenticated user.
func (s *Service) InitiatePayment(ctx context.Context, userID string, req InitiatePaymentRequest) (*InitiationResult, error) {
	profile, err := s.repo.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller profile: %w", err)
	}

	switch req.Mode {
	case domain.ModeCoachSubscription:
		if profile.Role != domain.RoleCoach && profile.Role != domain.RoleAdmin {
			return nil, ErrForbidden
		}
		return s.initiateCoachSubscription(ctx, profile, req)
	case domain.ModeClientOneTime, domain.ModeClientSubscription:
		if profile.Role != domain.RoleClient && profile.Role != domain.RoleAdmin {
			return nil, ErrForbidden
		}
		return s.initiateClientPurchase(ctx, profile, req)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
}

func (s *Service) initiateCoachSubscription(ctx context.Context, profile *domain.Profile, req InitiatePaymentRequest) (*InitiationResult, error) {
	if req.TierID == "" {
		return nil, fmt.Errorf("%w: tier_id is required", ErrInvalidRequest)
	}
	if req.BillingCycle != domain.BillingCycleMonthly && req.BillingCycle != domain.BillingCycleYearly {
		return nil, fmt.Errorf("%w: billing_cycle must be monthly or yearly", ErrInvalidRequest)
	}

	tier, err := s.repo.GetTierByID(ctx, req.TierID)
	if err != nil {
		if errors.Is(err, store.ErrTierNotFound) {
			return nil, fmt.Errorf("%w: unknown tier %s", ErrInvalidRequest, req.TierID)
		}
		return nil, fmt.Errorf("failed to resolve tier: %w", err)
	}

	// Amount is always the tier's stored price for the cycle. Client-supplied
	// amounts are ignored for this mode to prevent price tampering.
	amount := tier.PriceFor(req.BillingCycle)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: tier %s has no price for cycle %s", ErrInvalidRequest, tier.ID, req.BillingCycle)
	}

	sub := &domain.CoachSubscription{
		ID:           uuid.NewString(),
		CoachID:      profile.ID,
		TierID:       tier.ID,
		Status:       domain.SubscriptionStatusPending,
		BillingCycle: req.BillingCycle,
	}
	if err := s.repo.CreateCoachSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription record: %w", err)
	}

	tx := &domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         profile.ID,
		TransactionRef: mintTxRef("pay"),
		Amount:         amount,
		Currency:       s.currencyOrDefault(req.Currency),
		Status:         domain.TransactionStatusPending,
		Mode:           domain.ModeCoachSubscription,
		SubscriptionID: &sub.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	checkoutURL, err := s.callGateway(ctx, profile, tx, req.ReturnURL, req.Metadata)
	if err != nil {
		return nil, err
	}

	return &InitiationResult{
		CheckoutURL:    checkoutURL,
		TransactionRef: tx.TransactionRef,
		SubscriptionID: &sub.ID,
	}, nil
}

func (s *Service) initiateClientPurchase(ctx context.Context, profile *domain.Profile, req InitiatePaymentRequest) (*InitiationResult, error) {
	if req.CoachID == "" {
		return nil, fmt.Errorf("%w: coach_id is required", ErrInvalidRequest)
	}
	// Client-mode amounts are accepted from the caller. This is a known
	// trust boundary; see the pricing-integrity note in DESIGN.md.
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	orderType := domain.OrderTypeOneTime
	if req.Mode == domain.ModeClientSubscription {
		switch req.BillingCycle {
		case domain.BillingCycleMonthly:
			orderType = domain.OrderTypeMonthly
		case domain.BillingCycleYearly:
			orderType = domain.OrderTypeYearly
		default:
			return nil, fmt.Errorf("%w: billing_cycle must be monthly or yearly", ErrInvalidRequest)
		}
	} else if req.CourseID == nil || *req.CourseID == "" {
		return nil, fmt.Errorf("%w: course_id is required for one-time purchases", ErrInvalidRequest)
	}

	order := &domain.ClientOrder{
		ID:       uuid.NewString(),
		ClientID: profile.ID,
		CoachID:  req.CoachID,
		Type:     orderType,
		Amount:   req.Amount,
		Currency: s.currencyOrDefault(req.Currency),
		Status:   domain.TransactionStatusPending,
		CourseID: req.CourseID,
	}
	if err := s.repo.CreateClientOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order record: %w", err)
	}

	tx := &domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         profile.ID,
		TransactionRef: mintTxRef("pay"),
		Amount:         req.Amount,
		Currency:       order.Currency,
		Status:         domain.TransactionStatusPending,
		Mode:           req.Mode,
		OrderID:        &order.ID,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	checkoutURL, err := s.callGateway(ctx, profile, tx, req.ReturnURL, req.Metadata)
	if err != nil {
		return nil, err
	}

	return &InitiationResult{
		CheckoutURL:    checkoutURL,
		TransactionRef: tx.TransactionRef,
		OrderID:        &order.ID,
	}, nil
}

// callGateway asks the gateway for a checkout URL for a pending transaction.
// On failure the transaction is rolled to failed with the raw gateway
// response attached, and the gateway error is returned for the handler to
// surface as diagnostics.
func (s *Service) callGateway(ctx context.Context, profile *domain.Profile, tx *domain.Transaction, returnURL string, meta map[string]string) (string, error) {
	if returnURL == "" {
		returnURL = s.cfg.AppBaseURL + "/payment-return"
	}

	resp, err := s.gateway.InitiatePayment(ctx, paychangu.PaymentRequest{
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Email:       profile.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		CallbackURL: s.cfg.AppBaseURL + "/api/payment-webhook",
		ReturnURL:   returnURL + "?tx_ref=" + tx.TransactionRef,
		TxRef:       tx.TransactionRef,
		Meta:        meta,
	})
	if err != nil {
		s.logger.Warn("gateway payment initiation failed", "tx_ref", tx.TransactionRef, "error", err)
		if markErr := s.repo.MarkTransactionFailed(ctx, tx.ID, rawGatewayBody(err)); markErr != nil {
			s.logger.Error("failed to mark transaction failed", "transaction_id", tx.ID, "error", markErr)
		}
		return "", fmt.Errorf("payment initiation failed: %w", err)
	}

	if attachErr := s.repo.AttachGatewayResponse(ctx, tx.ID, resp.Raw); attachErr != nil {
		s.logger.Warn("failed to attach gateway response", "transaction_id", tx.ID, "error", attachErr)
	}

	return resp.Data.CheckoutURL, nil
}

func (s *Service) currencyOrDefault(currency string) string {
	if currency == "" {
		return s.cfg.DefaultCurrency
	}
	return currency
}

// mintTxRef produces a fresh, globally unique transaction reference. A
// reference is never reused: every retry mints a new one so the gateway
// always sees a new idempotency key.
func mintTxRef(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// rawGatewayBody extracts the verbatim gateway payload from an error, when
// the error carries one.
func rawGatewayBody(err error) []byte {
	var apiErr *paychangu.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RawBody
	}
	return []byte(err.Error())
}
