// Package account persists metered API accounts.
//
// Every quota mutation is a single targeted UPDATE with its invariant in the
// WHERE clause. The store never reads a row, modifies it in Go, and writes it
// back — concurrent requests racing on the same account must serialize in the
// database, not in process memory.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bfitz887/pdf-api/internal/models"
)

// Store errors
var (
	ErrNotFound       = errors.New("account not found")
	ErrSuspended      = errors.New("account suspended")
	ErrDuplicateEmail = errors.New("an active account already exists for this email")
	ErrQuotaExceeded  = errors.New("monthly quota exceeded")
)

// QuotaError carries the meter state behind ErrQuotaExceeded so callers can
// put the numbers in the refusal. errors.Is(err, ErrQuotaExceeded) matches.
type QuotaError struct {
	CurrentUsage int64
	MonthlyLimit int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("monthly quota exceeded (%d/%d)", e.CurrentUsage, e.MonthlyLimit)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

const accountColumns = `id, email, plan, key_hash, key_prefix, monthly_limit,
	current_usage, last_reset, status, billing_ref, last_used_at, created_at, updated_at`

// Store handles account persistence
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new account store
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// CreateParams carries the fields needed to insert an account.
// MonthlyLimit is the quota snapshot taken from the plan catalog at creation.
type CreateParams struct {
	Email        string
	Plan         string
	KeyHash      string
	KeyPrefix    string
	MonthlyLimit int64
	BillingRef   *string
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Plan, &a.KeyHash, &a.KeyPrefix, &a.MonthlyLimit,
		&a.CurrentUsage, &a.LastReset, &a.Status, &a.BillingRef, &a.LastUsedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a new account. The partial unique index on active emails
// turns a lost duplicate-email race into ErrDuplicateEmail here instead of a
// second active account.
func (s *Store) Create(ctx context.Context, p CreateParams) (*models.Account, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO accounts (email, plan, key_hash, key_prefix, monthly_limit, billing_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accountColumns+`
	`, p.Email, p.Plan, p.KeyHash, p.KeyPrefix, p.MonthlyLimit, p.BillingRef)

	acct, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// ProvisionIfAbsent inserts an account keyed by its key hash, or resolves the
// existing one. Concurrent first-sight requests converge on a single row.
// The returned bool reports whether this call created the account.
func (s *Store) ProvisionIfAbsent(ctx context.Context, p CreateParams) (*models.Account, bool, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO accounts (email, plan, key_hash, key_prefix, monthly_limit, billing_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key_hash) DO NOTHING
		RETURNING `+accountColumns+`
	`, p.Email, p.Plan, p.KeyHash, p.KeyPrefix, p.MonthlyLimit, p.BillingRef)

	acct, err := scanAccount(row)
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to provision account: %w", err)
	}

	acct, err = s.GetByKeyHash(ctx, p.KeyHash)
	if err != nil {
		return nil, false, err
	}
	return acct, false, nil
}

// GetByKeyHash looks up an account by its hashed API key
func (s *Store) GetByKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE key_hash = $1
	`, keyHash)

	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// GetByBillingRef looks up an account by its payment-provider reference
func (s *Store) GetByBillingRef(ctx context.Context, billingRef string) (*models.Account, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE billing_ref = $1
	`, billingRef)

	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// ActiveEmailExists reports whether an active account holds this email
func (s *Store) ActiveEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1 AND status = 'active')
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// ConsumeCall atomically spends one unit of quota.
// The limit check lives in the WHERE clause: with one unit left, exactly one
// of two concurrent calls gets the row. Unlimited accounts (monthly_limit < 0)
// always match. Returns the usage after the increment.
func (s *Store) ConsumeCall(ctx context.Context, keyHash string) (int64, error) {
	var usage int64
	err := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET current_usage = current_usage + 1, updated_at = NOW()
		WHERE key_hash = $1
		  AND status = 'active'
		  AND (monthly_limit < 0 OR current_usage < monthly_limit)
		RETURNING current_usage
	`, keyHash).Scan(&usage)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to consume quota: %w", err)
	}

	// No row matched: tell the caller which guard refused it.
	acct, lookupErr := s.GetByKeyHash(ctx, keyHash)
	if lookupErr != nil {
		return 0, lookupErr
	}
	if !acct.IsActive() {
		return 0, ErrSuspended
	}
	return 0, &QuotaError{CurrentUsage: acct.CurrentUsage, MonthlyLimit: acct.MonthlyLimit}
}

// RefundCall returns one reserved unit, flooring at zero. A refund racing a
// rollover must not leave the counter negative.
func (s *Store) RefundCall(ctx context.Context, keyHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET current_usage = GREATEST(0, current_usage - 1), updated_at = NOW()
		WHERE key_hash = $1
	`, keyHash)
	if err != nil {
		return fmt.Errorf("failed to refund quota: %w", err)
	}
	return nil
}

// RolloverIfStale resets the monthly counter when the stored reset month
// predates now's month. The guard makes the reset idempotent: a second
// request in the same month, or one that lost the race, matches no row.
// Reports whether the reset applied.
func (s *Store) RolloverIfStale(ctx context.Context, keyHash string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET current_usage = 0, last_reset = $2, updated_at = NOW()
		WHERE key_hash = $1
		  AND date_trunc('month', last_reset) < date_trunc('month', $2::timestamptz)
	`, keyHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to roll over usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SuspendByBillingRef marks the referenced account suspended
func (s *Store) SuspendByBillingRef(ctx context.Context, billingRef string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET status = 'suspended', updated_at = NOW() WHERE billing_ref = $1
	`, billingRef)
	if err != nil {
		return fmt.Errorf("failed to suspend account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReactivateByBillingRef reactivates the referenced account and opens a fresh
// usage period: the successful payment buys a clean meter.
func (s *Store) ReactivateByBillingRef(ctx context.Context, billingRef string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET status = 'active', current_usage = 0, last_reset = $2, updated_at = NOW()
		WHERE billing_ref = $1
	`, billingRef, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to reactivate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePlanByBillingRef migrates the plan and quota snapshot. This is the
// only path that changes monthly_limit after creation.
func (s *Store) UpdatePlanByBillingRef(ctx context.Context, billingRef, planID string, monthlyLimit int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET plan = $2, monthly_limit = $3, updated_at = NOW() WHERE billing_ref = $1
	`, billingRef, planID, monthlyLimit)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed stamps last_used_at. Advisory only; callers run it off the
// request path and ignore failures.
func (s *Store) TouchLastUsed(ctx context.Context, keyHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE accounts SET last_used_at = NOW() WHERE key_hash = $1
	`, keyHash)
	return err
}
