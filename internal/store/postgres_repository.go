/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL for subscriptions, transactions, orders,
 * withdrawals, wallets and the audit log.
 *
 * The two claims (ClaimRenewalTransaction, ClaimWithdrawalForProcessing) are
 * written so concurrent scheduler runs or double-clicked admin actions
 * serialize on a row lock: the withdrawal claim through its conditional
 * UPDATE, the renewal claim through FOR UPDATE on the subscription row
 * inside the same transaction as its guarded insert.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expertcoachinghub/billing-service/internal/domain"
)

var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrTierNotFound         = errors.New("tier not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrWithdrawalNotPending = errors.New("withdrawal request is not pending")
	ErrInsufficientCredits  = errors.New("insufficient wallet credits")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetProfileByID retrieves the profile slice the billing engine needs.
func (r *PostgresRepository) GetProfileByID(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	query := `SELECT id, email, first_name, last_name, role, wallet_credits FROM profiles WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.WalletCredits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetTierByID retrieves a pricing tier.
func (r *PostgresRepository) GetTierByID(ctx context.Context, tierID string) (*domain.Tier, error) {
	var t domain.Tier
	query := `SELECT id, name, price_monthly, price_yearly FROM tiers WHERE id = $1`
	err := r.db.QueryRow(ctx, query, tierID).Scan(&t.ID, &t.Name, &t.PriceMonthly, &t.PriceYearly)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateCoachSubscription inserts a new pending subscription row.
func (r *PostgresRepository) CreateCoachSubscription(ctx context.Context, sub *domain.CoachSubscription) error {
	query := `
		INSERT INTO coach_subscriptions (id, coach_id, tier_id, status, billing_cycle, renewal_date, failed_renewal_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.CoachID, sub.TierID, sub.Status, sub.BillingCycle, sub.RenewalDate, sub.FailedRenewalAttempts)
	return err
}

// GetCoachSubscriptionByID retrieves a subscription by its ID.
func (r *PostgresRepository) GetCoachSubscriptionByID(ctx context.Context, id string) (*domain.CoachSubscription, error) {
	var sub domain.CoachSubscription
	query := `
		SELECT id, coach_id, tier_id, status, billing_cycle, renewal_date, grace_expires_at, end_date, failed_renewal_attempts, created_at, updated_at
		FROM coach_subscriptions WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.CoachID, &sub.TierID, &sub.Status, &sub.BillingCycle,
		&sub.RenewalDate, &sub.GraceExpiresAt, &sub.EndDate, &sub.FailedRenewalAttempts,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListDueSubscriptions returns active/grace subscriptions whose renewal date
// has passed, oldest first, capped at limit.
func (r *PostgresRepository) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.CoachSubscription, error) {
	query := `
		SELECT id, coach_id, tier_id, status, billing_cycle, renewal_date, grace_expires_at, end_date, failed_renewal_attempts, created_at, updated_at
		FROM coach_subscriptions
		WHERE status IN ('active', 'grace') AND renewal_date <= $1
		ORDER BY renewal_date ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.CoachSubscription
	for rows.Next() {
		var sub domain.CoachSubscription
		if err := rows.Scan(
			&sub.ID, &sub.CoachID, &sub.TierID, &sub.Status, &sub.BillingCycle,
			&sub.RenewalDate, &sub.GraceExpiresAt, &sub.EndDate, &sub.FailedRenewalAttempts,
			&sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// IncrementFailedRenewalAttempts atomically bumps the counter and returns the new value.
func (r *PostgresRepository) IncrementFailedRenewalAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	query := `
		UPDATE coach_subscriptions
		SET failed_renewal_attempts = failed_renewal_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_renewal_attempts
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSubscriptionNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// MoveSubscriptionToGrace sets status=grace and the grace deadline.
func (r *PostgresRepository) MoveSubscriptionToGrace(ctx context.Context, id string, graceExpiresAt time.Time) error {
	query := `
		UPDATE coach_subscriptions
		SET status = 'grace', grace_expires_at = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, graceExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ExpireSubscription sets status=expired, records the end date and clears the grace deadline.
func (r *PostgresRepository) ExpireSubscription(ctx context.Context, id string, endDate time.Time) error {
	query := `
		UPDATE coach_subscriptions
		SET status = 'expired', end_date = $2, grace_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, endDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CreateClientOrder inserts a new pending client order.
func (r *PostgresRepository) CreateClientOrder(ctx context.Context, order *domain.ClientOrder) error {
	query := `
		INSERT INTO client_orders (id, client_id, coach_id, type, amount, currency, status, course_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		order.ID, order.ClientID, order.CoachID, order.Type, order.Amount, order.Currency, order.Status, order.CourseID)
	return err
}

// CreateTransaction inserts a new transaction row.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, transaction_ref, amount, currency, status, transaction_mode, gateway_response, order_id, subscription_id, withdrawal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.UserID, tx.TransactionRef, tx.Amount, tx.Currency, tx.Status, tx.Mode,
		tx.GatewayResponse, tx.OrderID, tx.SubscriptionID, tx.WithdrawalID)
	return err
}

// ClaimRenewalTransaction inserts a pending renewal transaction only when the
// subscription has no pending transaction outstanding. The subscription row
// is locked FOR UPDATE in the same transaction as the guarded insert: a bare
// INSERT ... WHERE NOT EXISTS would race under READ COMMITTED, because two
// concurrent claims would each snapshot before the other's insert and both
// succeed. With the row lock the loser blocks until the winner commits, and
// its NOT EXISTS re-evaluates against the committed pending row.
func (r *PostgresRepository) ClaimRenewalTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	var lockedID string
	err = dbTx.QueryRow(ctx, `SELECT id FROM coach_subscriptions WHERE id = $1 FOR UPDATE`, tx.SubscriptionID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrSubscriptionNotFound
		}
		return false, err
	}

	query := `
		INSERT INTO transactions (id, user_id, transaction_ref, amount, currency, status, transaction_mode, subscription_id, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, 'pending', $6, $7, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM transactions WHERE subscription_id = $7 AND status = 'pending'
		)
	`
	tag, err := dbTx.Exec(ctx, query,
		tx.ID, tx.UserID, tx.TransactionRef, tx.Amount, tx.Currency, tx.Mode, tx.SubscriptionID)
	if err != nil {
		return false, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SubscriptionHasPendingTransaction reports whether a pending transaction is
// outstanding for the subscription. Read-only; the authoritative guard is
// ClaimRenewalTransaction.
func (r *PostgresRepository) SubscriptionHasPendingTransaction(ctx context.Context, subscriptionID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM transactions WHERE subscription_id = $1 AND status = 'pending')`
	if err := r.db.QueryRow(ctx, query, subscriptionID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkTransactionFailed rolls a transaction to failed, preserving the raw
// gateway response for diagnostics.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID string, gatewayResponse []byte) error {
	query := `
		UPDATE transactions
		SET status = 'failed', gateway_response = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, transactionID, gatewayResponse)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// AttachGatewayResponse stores the raw gateway payload without touching status.
func (r *PostgresRepository) AttachGatewayResponse(ctx context.Context, transactionID string, gatewayResponse []byte) error {
	query := `UPDATE transactions SET gateway_response = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, transactionID, gatewayResponse)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// CreateWithdrawalRequest inserts a new pending withdrawal request.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (id, coach_id, credits_amount, amount_mwk, status, payout_method, payout_account, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		req.ID, req.CoachID, req.CreditsAmount, req.AmountMWK, req.Status, req.PayoutMethod, req.PayoutAccount)
	return err
}

// GetWithdrawalRequestByID retrieves a withdrawal request.
func (r *PostgresRepository) GetWithdrawalRequestByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	query := `
		SELECT id, coach_id, credits_amount, amount_mwk, status, rejection_reason, admin_notes, fraud_score, payout_method, payout_account, processed_at, created_at, updated_at
		FROM withdrawal_requests WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.CoachID, &req.CreditsAmount, &req.AmountMWK, &req.Status,
		&req.RejectionReason, &req.AdminNotes, &req.FraudScore, &req.PayoutMethod,
		&req.PayoutAccount, &req.ProcessedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ListWithdrawalRequestsByCoach lists a coach's requests, optionally filtered by status.
func (r *PostgresRepository) ListWithdrawalRequestsByCoach(ctx context.Context, coachID string, status string) ([]domain.WithdrawalRequest, error) {
	query := `
		SELECT id, coach_id, credits_amount, amount_mwk, status, rejection_reason, admin_notes, fraud_score, payout_method, payout_account, processed_at, created_at, updated_at
		FROM withdrawal_requests
		WHERE coach_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, coachID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []domain.WithdrawalRequest
	for rows.Next() {
		var req domain.WithdrawalRequest
		if err := rows.Scan(
			&req.ID, &req.CoachID, &req.CreditsAmount, &req.AmountMWK, &req.Status,
			&req.RejectionReason, &req.AdminNotes, &req.FraudScore, &req.PayoutMethod,
			&req.PayoutAccount, &req.ProcessedAt, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ClaimWithdrawalForProcessing atomically flips a pending request to processing.
// A request that is not pending anymore (already claimed, rejected, cancelled)
// returns ErrWithdrawalNotPending.
func (r *PostgresRepository) ClaimWithdrawalForProcessing(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	query := `
		UPDATE withdrawal_requests
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, coach_id, credits_amount, amount_mwk, status, rejection_reason, admin_notes, fraud_score, payout_method, payout_account, processed_at, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.CoachID, &req.CreditsAmount, &req.AmountMWK, &req.Status,
		&req.RejectionReason, &req.AdminNotes, &req.FraudScore, &req.PayoutMethod,
		&req.PayoutAccount, &req.ProcessedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish "missing" from "already handled".
			if _, getErr := r.GetWithdrawalRequestByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrWithdrawalNotPending
		}
		return nil, err
	}
	return &req, nil
}

// MarkWithdrawalCompleted finalizes an approved and paid-out request.
func (r *PostgresRepository) MarkWithdrawalCompleted(ctx context.Context, id string, adminNotes *string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = 'completed', admin_notes = COALESCE($2, admin_notes), processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, adminNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// MarkWithdrawalFailed records a payout failure.
func (r *PostgresRepository) MarkWithdrawalFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = 'failed', rejection_reason = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// MarkWithdrawalRejected records an admin rejection. Only pending requests
// can be rejected.
func (r *PostgresRepository) MarkWithdrawalRejected(ctx context.Context, id string, reason string, adminNotes *string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = 'rejected', rejection_reason = $2, admin_notes = COALESCE($3, admin_notes), processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id, reason, adminNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetWithdrawalRequestByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrWithdrawalNotPending
	}
	return nil
}

// DebitWalletCredits deducts credits, failing if the balance would go negative.
func (r *PostgresRepository) DebitWalletCredits(ctx context.Context, userID string, credits int64) error {
	query := `
		UPDATE profiles
		SET wallet_credits = wallet_credits - $2, updated_at = NOW()
		WHERE id = $1 AND wallet_credits >= $2
	`
	tag, err := r.db.Exec(ctx, query, userID, credits)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetProfileByID(ctx, userID); getErr != nil {
			return getErr
		}
		return ErrInsufficientCredits
	}
	return nil
}

// CreditWalletCredits adds credits back to a wallet (refund path).
func (r *PostgresRepository) CreditWalletCredits(ctx context.Context, userID string, credits int64) error {
	query := `UPDATE profiles SET wallet_credits = wallet_credits + $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID, credits)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// InsertAuditLogEntry appends a status-transition record. The table is
// append-only; there is deliberately no update or delete counterpart.
func (r *PostgresRepository) InsertAuditLogEntry(ctx context.Context, entry *domain.SubscriptionAuditLogEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = b
	}

	query := `
		INSERT INTO subscription_audit_log (id, subscription_id, subscription_type, old_status, new_status, changed_by, change_reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.SubscriptionID, entry.SubscriptionType, entry.OldStatus,
		entry.NewStatus, entry.ChangedBy, entry.ChangeReason, metadata)
	return err
}
