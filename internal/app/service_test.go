package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/expertcoachinghub/billing-service/internal/config"
	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
)

// repoStub is an in-memory Repository test double. Unconfigured methods fall
// through to the embedded nil interface and panic, which keeps tests honest
// about what they exercise.
type repoStub struct {
	store.Repository

	profiles map[string]*domain.Profile
	tiers    map[string]*domain.Tier

	due []domain.CoachSubscription

	createdSubscriptions []*domain.CoachSubscription
	createdOrders        []*domain.ClientOrder
	createdTransactions  []*domain.Transaction
	claimedTransactions  []*domain.Transaction

	claimResult   bool
	claimErr      error
	tierErr       error
	pendingExists bool

	attempts          map[string]int
	incrementErr      error
	gracedAt          map[string]time.Time
	expiredAt         map[string]time.Time
	failedTxIDs       []string
	failedTxBodies    [][]byte
	attachedResponses map[string][]byte

	auditEntries []*domain.SubscriptionAuditLogEntry
}

func newRepoStub() *repoStub {
	return &repoStub{
		profiles:          make(map[string]*domain.Profile),
		tiers:             make(map[string]*domain.Tier),
		claimResult:       true,
		attempts:          make(map[string]int),
		gracedAt:          make(map[string]time.Time),
		expiredAt:         make(map[string]time.Time),
		attachedResponses: make(map[string][]byte),
	}
}

func (r *repoStub) GetProfileByID(ctx context.Context, userID string) (*domain.Profile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	return profile, nil
}

func (r *repoStub) GetTierByID(ctx context.Context, tierID string) (*domain.Tier, error) {
	if r.tierErr != nil {
		return nil, r.tierErr
	}
	tier, ok := r.tiers[tierID]
	if !ok {
		return nil, store.ErrTierNotFound
	}
	return tier, nil
}

func (r *repoStub) CreateCoachSubscription(ctx context.Context, sub *domain.CoachSubscription) error {
	r.createdSubscriptions = append(r.createdSubscriptions, sub)
	return nil
}

func (r *repoStub) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.CoachSubscription, error) {
	if limit < len(r.due) {
		return r.due[:limit], nil
	}
	return r.due, nil
}

func (r *repoStub) IncrementFailedRenewalAttempts(ctx context.Context, id string) (int, error) {
	if r.incrementErr != nil {
		return 0, r.incrementErr
	}
	r.attempts[id]++
	return r.attempts[id], nil
}

func (r *repoStub) MoveSubscriptionToGrace(ctx context.Context, id string, graceExpiresAt time.Time) error {
	r.gracedAt[id] = graceExpiresAt
	return nil
}

func (r *repoStub) ExpireSubscription(ctx context.Context, id string, endDate time.Time) error {
	r.expiredAt[id] = endDate
	return nil
}

func (r *repoStub) CreateClientOrder(ctx context.Context, order *domain.ClientOrder) error {
	r.createdOrders = append(r.createdOrders, order)
	return nil
}

func (r *repoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.createdTransactions = append(r.createdTransactions, tx)
	return nil
}

func (r *repoStub) SubscriptionHasPendingTransaction(ctx context.Context, subscriptionID string) (bool, error) {
	return r.pendingExists, nil
}

func (r *repoStub) ClaimRenewalTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if !r.claimResult {
		return false, nil
	}
	r.claimedTransactions = append(r.claimedTransactions, tx)
	return true, nil
}

func (r *repoStub) MarkTransactionFailed(ctx context.Context, transactionID string, gatewayResponse []byte) error {
	r.failedTxIDs = append(r.failedTxIDs, transactionID)
	r.failedTxBodies = append(r.failedTxBodies, gatewayResponse)
	return nil
}

func (r *repoStub) AttachGatewayResponse(ctx context.Context, transactionID string, gatewayResponse []byte) error {
	r.attachedResponses[transactionID] = gatewayResponse
	return nil
}

func (r *repoStub) InsertAuditLogEntry(ctx context.Context, entry *domain.SubscriptionAuditLogEntry) error {
	r.auditEntries = append(r.auditEntries, entry)
	return nil
}

// gatewayStub implements Gateway with pluggable behaviour per call.
type gatewayStub struct {
	paymentFn func(paychangu.PaymentRequest) (*paychangu.PaymentResponse, error)
	payoutFn  func(paychangu.PayoutRequest) (*paychangu.PayoutResponse, error)

	paymentRequests []paychangu.PaymentRequest
	payoutRequests  []paychangu.PayoutRequest
}

func (g *gatewayStub) InitiatePayment(ctx context.Context, payment paychangu.PaymentRequest) (*paychangu.PaymentResponse, error) {
	g.paymentRequests = append(g.paymentRequests, payment)
	if g.paymentFn != nil {
		return g.paymentFn(payment)
	}
	resp := &paychangu.PaymentResponse{Raw: []byte(`{"status":"success"}`)}
	resp.Data.CheckoutURL = "https://checkout.test/" + payment.TxRef
	return resp, nil
}

func (g *gatewayStub) InitiatePayout(ctx context.Context, payout paychangu.PayoutRequest) (*paychangu.PayoutResponse, error) {
	g.payoutRequests = append(g.payoutRequests, payout)
	if g.payoutFn != nil {
		return g.payoutFn(payout)
	}
	return &paychangu.PayoutResponse{Raw: []byte(`{"status":"success"}`)}, nil
}

// notifierStub records status-change notifications.
type notifierStub struct {
	subscriptionChanges []string
	withdrawalChanges   []string
	lastMetadata        map[string]any
}

func (n *notifierStub) SubscriptionStatusChanged(ctx context.Context, subscriptionID, oldStatus, newStatus, reason string, metadata map[string]any) {
	n.subscriptionChanges = append(n.subscriptionChanges, subscriptionID+":"+oldStatus+"->"+newStatus+":"+reason)
	n.lastMetadata = metadata
}

func (n *notifierStub) WithdrawalStatusChanged(ctx context.Context, withdrawalID, oldStatus, newStatus, reason string, changedBy *string) {
	n.withdrawalChanges = append(n.withdrawalChanges, withdrawalID+":"+oldStatus+"->"+newStatus+":"+reason)
}

type runLockStub struct {
	acquired bool
	err      error
	released bool
}

func (l *runLockStub) Acquire(ctx context.Context) (bool, error) { return l.acquired, l.err }
func (l *runLockStub) Release(ctx context.Context)               { l.released = true }

func testConfig() config.Config {
	return config.Config{
		AppBaseURL:         "https://app.test",
		DefaultCurrency:    "MWK",
		GracePeriodDays:    3,
		MaxRenewalAttempts: 3,
		RenewalBatchSize:   25,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo *repoStub, gateway *gatewayStub, notifier *notifierStub) *Service {
	return NewService(repo, gateway, notifier, nil, testLogger(), testConfig())
}

func TestInitiatePayment_UnknownModeRejected(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["user-1"] = &domain.Profile{ID: "user-1", Role: domain.RoleCoach}
	service := newTestService(repo, &gatewayStub{}, &notifierStub{})

	_, err := service.InitiatePayment(context.Background(), "user-1", InitiatePaymentRequest{Mode: "gift_card"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestInitiatePayment_RoleChecks(t *testing.T) {
	tests := []struct {
		name string
		role string
		mode string
	}{
		{name: "client cannot buy coach subscription", role: domain.RoleClient, mode: domain.ModeCoachSubscription},
		{name: "coach cannot make one-time client purchase", role: domain.RoleCoach, mode: domain.ModeClientOneTime},
		{name: "coach cannot make client subscription purchase", role: domain.RoleCoach, mode: domain.ModeClientSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoStub()
			repo.profiles["user-1"] = &domain.Profile{ID: "user-1", Role: tt.role}
			gateway := &gatewayStub{}
			service := newTestService(repo, gateway, &notifierStub{})

			_, err := service.InitiatePayment(context.Background(), "user-1", InitiatePaymentRequest{Mode: tt.mode})
			if !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
			if len(repo.createdSubscriptions) != 0 || len(repo.createdOrders) != 0 || len(repo.createdTransactions) != 0 {
				t.Fatal("expected no records to be created on a role violation")
			}
			if len(gateway.paymentRequests) != 0 {
				t.Fatal("expected no gateway call on a role violation")
			}
		})
	}
}

func TestInitiateCoachSubscription_UsesTierPriceNotRequestAmount(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["coach-1"] = &domain.Profile{ID: "coach-1", Role: domain.RoleCoach, Email: "coach@example.com"}
	repo.tiers["tier-pro"] = &domain.Tier{ID: "tier-pro", PriceMonthly: 50000, PriceYearly: 500000}
	gateway := &gatewayStub{}
	service := newTestService(repo, gateway, &notifierStub{})

	result, err := service.InitiatePayment(context.Background(), "coach-1", InitiatePaymentRequest{
		Mode:         domain.ModeCoachSubscription,
		TierID:       "tier-pro",
		BillingCycle: domain.BillingCycleMonthly,
		Amount:       1, // tampered amount must be ignored
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(repo.createdTransactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(repo.createdTransactions))
	}
	tx := repo.createdTransactions[0]
	if tx.Amount != 50000 {
		t.Fatalf("expected tier-derived amount 50000, got %d", tx.Amount)
	}
	if tx.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %q", tx.Status)
	}
	if !strings.HasPrefix(tx.TransactionRef, "pay-") {
		t.Fatalf("expected pay- reference prefix, got %q", tx.TransactionRef)
	}
	if len(repo.createdSubscriptions) != 1 || repo.createdSubscriptions[0].Status != domain.SubscriptionStatusPending {
		t.Fatal("expected a pending subscription record")
	}
	if result.CheckoutURL == "" || result.SubscriptionID == nil {
		t.Fatalf("expected checkout URL and subscription ID, got %+v", result)
	}
	if len(gateway.paymentRequests) != 1 || gateway.paymentRequests[0].Amount != 50000 {
		t.Fatal("expected gateway to be called with the tier price")
	}
}

func TestInitiateCoachSubscription_YearlyCycleUsesYearlyPrice(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["coach-1"] = &domain.Profile{ID: "coach-1", Role: domain.RoleCoach}
	repo.tiers["tier-pro"] = &domain.Tier{ID: "tier-pro", PriceMonthly: 50000, PriceYearly: 500000}
	service := newTestService(repo, &gatewayStub{}, &notifierStub{})

	_, err := service.InitiatePayment(context.Background(), "coach-1", InitiatePaymentRequest{
		Mode:         domain.ModeCoachSubscription,
		TierID:       "tier-pro",
		BillingCycle: domain.BillingCycleYearly,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.createdTransactions[0].Amount != 500000 {
		t.Fatalf("expected yearly price 500000, got %d", repo.createdTransactions[0].Amount)
	}
}

func TestInitiateCoachSubscription_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  InitiatePaymentRequest
	}{
		{
			name: "missing tier",
			req:  InitiatePaymentRequest{Mode: domain.ModeCoachSubscription, BillingCycle: domain.BillingCycleMonthly},
		},
		{
			name: "bad cycle",
			req:  InitiatePaymentRequest{Mode: domain.ModeCoachSubscription, TierID: "tier-pro", BillingCycle: "weekly"},
		},
		{
			name: "unknown tier",
			req:  InitiatePaymentRequest{Mode: domain.ModeCoachSubscription, TierID: "tier-nope", BillingCycle: domain.BillingCycleMonthly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoStub()
			repo.profiles["coach-1"] = &domain.Profile{ID: "coach-1", Role: domain.RoleCoach}
			repo.tiers["tier-pro"] = &domain.Tier{ID: "tier-pro", PriceMonthly: 50000}
			service := newTestService(repo, &gatewayStub{}, &notifierStub{})

			_, err := service.InitiatePayment(context.Background(), "coach-1", tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if len(repo.createdSubscriptions) != 0 || len(repo.createdTransactions) != 0 {
				t.Fatal("expected no records on validation failure")
			}
		})
	}
}

func TestInitiateClientOneTime_RequiresCourseID(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["client-1"] = &domain.Profile{ID: "client-1", Role: domain.RoleClient}
	service := newTestService(repo, &gatewayStub{}, &notifierStub{})

	_, err := service.InitiatePayment(context.Background(), "client-1", InitiatePaymentRequest{
		Mode:    domain.ModeClientOneTime,
		CoachID: "coach-1",
		Amount:  10000,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing course_id, got %v", err)
	}
}

func TestInitiateClientSubscription_CreatesOrderAndTransaction(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["client-1"] = &domain.Profile{ID: "client-1", Role: domain.RoleClient, Email: "client@example.com"}
	gateway := &gatewayStub{}
	service := newTestService(repo, gateway, &notifierStub{})

	result, err := service.InitiatePayment(context.Background(), "client-1", InitiatePaymentRequest{
		Mode:         domain.ModeClientSubscription,
		CoachID:      "coach-1",
		BillingCycle: domain.BillingCycleMonthly,
		Amount:       25000,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(repo.createdOrders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(repo.createdOrders))
	}
	order := repo.createdOrders[0]
	if order.Type != domain.OrderTypeMonthly || order.Amount != 25000 {
		t.Fatalf("unexpected order: %+v", order)
	}
	if result.OrderID == nil || *result.OrderID != order.ID {
		t.Fatal("expected result to carry the order ID")
	}
	if repo.createdTransactions[0].OrderID == nil || *repo.createdTransactions[0].OrderID != order.ID {
		t.Fatal("expected transaction to reference the order")
	}
}

func TestInitiatePayment_GatewayFailureMarksTransactionFailed(t *testing.T) {
	repo := newRepoStub()
	repo.profiles["coach-1"] = &domain.Profile{ID: "coach-1", Role: domain.RoleCoach}
	repo.tiers["tier-pro"] = &domain.Tier{ID: "tier-pro", PriceMonthly: 50000}
	gatewayErr := &paychangu.APIError{StatusCode: 400, Message: "invalid currency", RawBody: []byte(`{"status":"failed","message":"invalid currency"}`)}
	gateway := &gatewayStub{
		paymentFn: func(paychangu.PaymentRequest) (*paychangu.PaymentResponse, error) {
			return nil, gatewayErr
		},
	}
	service := newTestService(repo, gateway, &notifierStub{})

	_, err := service.InitiatePayment(context.Background(), "coach-1", InitiatePaymentRequest{
		Mode:         domain.ModeCoachSubscription,
		TierID:       "tier-pro",
		BillingCycle: domain.BillingCycleMonthly,
	})
	if err == nil {
		t.Fatal("expected gateway error to propagate")
	}
	var apiErr *paychangu.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}

	if len(repo.failedTxIDs) != 1 {
		t.Fatalf("expected 1 failed transaction, got %d", len(repo.failedTxIDs))
	}
	if string(repo.failedTxBodies[0]) != string(gatewayErr.RawBody) {
		t.Fatalf("expected raw gateway body to be preserved, got %s", repo.failedTxBodies[0])
	}
	// The subscription stays pending for a later retry.
	if len(repo.expiredAt) != 0 {
		t.Fatal("did not expect subscription expiry on an initiation failure")
	}
}

func TestMintTxRef_UniquePerCall(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := mintTxRef("renew")
		if !strings.HasPrefix(ref, "renew-") {
			t.Fatalf("expected renew- prefix, got %q", ref)
		}
		if seen[ref] {
			t.Fatalf("reference %q minted twice", ref)
		}
		seen[ref] = true
	}
}
