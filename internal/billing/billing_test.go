package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/apikey"
	"github.com/bfitz887/pdf-api/internal/config"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/plan"
)

// fakeStore is an in-memory billing.Store mirroring the account store's
// semantics: the active-email check is the partial unique index, billing
// lookups miss with ErrNotFound.
type fakeStore struct {
	accounts []*models.Account
}

func (f *fakeStore) Create(ctx context.Context, p account.CreateParams) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.Email == p.Email && a.Status == models.AccountStatusActive {
			return nil, account.ErrDuplicateEmail
		}
	}
	a := &models.Account{
		ID:           uuid.New(),
		Email:        p.Email,
		Plan:         p.Plan,
		KeyHash:      p.KeyHash,
		KeyPrefix:    p.KeyPrefix,
		MonthlyLimit: p.MonthlyLimit,
		Status:       models.AccountStatusActive,
		BillingRef:   p.BillingRef,
		LastReset:    time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	f.accounts = append(f.accounts, a)
	return a, nil
}

func (f *fakeStore) ActiveEmailExists(ctx context.Context, email string) (bool, error) {
	for _, a := range f.accounts {
		if a.Email == email && a.Status == models.AccountStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) byRef(billingRef string) *models.Account {
	for _, a := range f.accounts {
		if a.BillingRef != nil && *a.BillingRef == billingRef {
			return a
		}
	}
	return nil
}

func (f *fakeStore) SuspendByBillingRef(ctx context.Context, billingRef string) error {
	a := f.byRef(billingRef)
	if a == nil {
		return account.ErrNotFound
	}
	a.Status = models.AccountStatusSuspended
	return nil
}

func (f *fakeStore) ReactivateByBillingRef(ctx context.Context, billingRef string, now time.Time) error {
	a := f.byRef(billingRef)
	if a == nil {
		return account.ErrNotFound
	}
	a.Status = models.AccountStatusActive
	a.CurrentUsage = 0
	a.LastReset = now.UTC()
	return nil
}

func (f *fakeStore) UpdatePlanByBillingRef(ctx context.Context, billingRef, planID string, monthlyLimit int64) error {
	a := f.byRef(billingRef)
	if a == nil {
		return account.ErrNotFound
	}
	a.Plan = planID
	a.MonthlyLimit = monthlyLimit
	return nil
}

func newTestService(store Store) *Service {
	catalog := plan.NewCatalog(plan.StripePrices{Basic: "price_basic", Pro: "price_pro"})
	return NewService(store, catalog, &config.StripeConfig{}, "http://localhost:8080")
}

func TestOnSubscriptionCreated(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, err := svc.OnSubscriptionCreated(context.Background(), "new@example.com", plan.Basic, "sub_123")
	if err != nil {
		t.Fatalf("OnSubscriptionCreated failed: %v", err)
	}

	if !apikey.Valid(result.APIKey) {
		t.Fatalf("returned key %q is not a valid raw key", result.APIKey)
	}
	acct := result.Account
	if acct.Plan != plan.Basic || acct.MonthlyLimit != 1000 {
		t.Fatalf("account = plan %q limit %d, want basic/1000", acct.Plan, acct.MonthlyLimit)
	}
	if acct.KeyHash != apikey.Hash(result.APIKey) {
		t.Fatal("stored hash does not match the returned key")
	}
	if acct.KeyPrefix != apikey.DisplayPrefix(result.APIKey) {
		t.Fatal("stored prefix does not match the returned key")
	}
	if acct.BillingRef == nil || *acct.BillingRef != "sub_123" {
		t.Fatalf("billing ref = %v, want sub_123", acct.BillingRef)
	}
	if acct.Status != models.AccountStatusActive {
		t.Fatalf("status = %q, want active", acct.Status)
	}
}

func TestOnSubscriptionCreated_NoBillingRef(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, err := svc.OnSubscriptionCreated(context.Background(), "free@example.com", plan.Free, "")
	if err != nil {
		t.Fatalf("OnSubscriptionCreated failed: %v", err)
	}
	if result.Account.BillingRef != nil {
		t.Fatalf("free signup should have no billing ref, got %v", *result.Account.BillingRef)
	}
	if result.Account.MonthlyLimit != 100 {
		t.Fatalf("free quota = %d, want 100", result.Account.MonthlyLimit)
	}
}

func TestOnSubscriptionCreated_UnknownPlan(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.OnSubscriptionCreated(context.Background(), "x@example.com", "gold", "")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestOnSubscriptionCreated_DuplicateEmail(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	if _, err := svc.OnSubscriptionCreated(context.Background(), "dup@example.com", plan.Free, ""); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}

	_, err := svc.OnSubscriptionCreated(context.Background(), "dup@example.com", plan.Basic, "sub_9")
	if !errors.Is(err, account.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if len(store.accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(store.accounts))
	}
}

func TestOnSubscriptionCreated_SuspendedDoesNotBlock(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	first, err := svc.OnSubscriptionCreated(context.Background(), "back@example.com", plan.Basic, "sub_old")
	if err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	if err := svc.OnSubscriptionCanceled(context.Background(), "sub_old"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	second, err := svc.OnSubscriptionCreated(context.Background(), "back@example.com", plan.Pro, "sub_new")
	if err != nil {
		t.Fatalf("re-signup after suspension failed: %v", err)
	}
	if second.Account.ID == first.Account.ID {
		t.Fatal("re-signup must create a fresh account")
	}
	if second.Account.Plan != plan.Pro {
		t.Fatalf("new plan = %q, want pro", second.Account.Plan)
	}
}

func TestOnPaymentFailed(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, _ := svc.OnSubscriptionCreated(context.Background(), "payer@example.com", plan.Basic, "sub_pay")

	if err := svc.OnPaymentFailed(context.Background(), "sub_pay"); err != nil {
		t.Fatalf("OnPaymentFailed failed: %v", err)
	}
	if result.Account.Status != models.AccountStatusSuspended {
		t.Fatalf("status = %q, want suspended", result.Account.Status)
	}
}

func TestOnPaymentFailed_UnknownRefIgnored(t *testing.T) {
	svc := newTestService(&fakeStore{})

	// Webhooks replay and other products share the provider account
	if err := svc.OnPaymentFailed(context.Background(), "sub_ghost"); err != nil {
		t.Fatalf("unknown billing ref must be ignored, got %v", err)
	}
}

func TestOnPaymentSucceeded_ReactivatesAndResets(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, _ := svc.OnSubscriptionCreated(context.Background(), "payer@example.com", plan.Basic, "sub_pay")
	acct := result.Account
	acct.CurrentUsage = 640
	if err := svc.OnPaymentFailed(context.Background(), "sub_pay"); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	resumeAt := time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return resumeAt }

	if err := svc.OnPaymentSucceeded(context.Background(), "sub_pay"); err != nil {
		t.Fatalf("OnPaymentSucceeded failed: %v", err)
	}
	if acct.Status != models.AccountStatusActive {
		t.Fatalf("status = %q, want active", acct.Status)
	}
	if acct.CurrentUsage != 0 {
		t.Fatalf("usage after reactivation = %d, want 0", acct.CurrentUsage)
	}
	if !acct.LastReset.Equal(resumeAt) {
		t.Fatalf("last reset = %v, want %v", acct.LastReset, resumeAt)
	}
}

func TestOnPlanChanged(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, _ := svc.OnSubscriptionCreated(context.Background(), "up@example.com", plan.Basic, "sub_up")

	if err := svc.OnPlanChanged(context.Background(), "sub_up", plan.Pro); err != nil {
		t.Fatalf("OnPlanChanged failed: %v", err)
	}
	if result.Account.Plan != plan.Pro || result.Account.MonthlyLimit != 10000 {
		t.Fatalf("account = plan %q limit %d, want pro/10000", result.Account.Plan, result.Account.MonthlyLimit)
	}

	// Downgrade snapshots the smaller quota
	if err := svc.OnPlanChanged(context.Background(), "sub_up", plan.Free); err != nil {
		t.Fatalf("downgrade failed: %v", err)
	}
	if result.Account.MonthlyLimit != 100 {
		t.Fatalf("limit after downgrade = %d, want 100", result.Account.MonthlyLimit)
	}
}

func TestOnPlanChanged_UnknownPlan(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.OnPlanChanged(context.Background(), "sub_x", "gold")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestOnPlanChanged_UnknownRefIgnored(t *testing.T) {
	svc := newTestService(&fakeStore{})

	if err := svc.OnPlanChanged(context.Background(), "sub_ghost", plan.Pro); err != nil {
		t.Fatalf("unknown billing ref must be ignored, got %v", err)
	}
}

func TestOnSubscriptionCanceled(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, _ := svc.OnSubscriptionCreated(context.Background(), "bye@example.com", plan.Basic, "sub_bye")

	if err := svc.OnSubscriptionCanceled(context.Background(), "sub_bye"); err != nil {
		t.Fatalf("OnSubscriptionCanceled failed: %v", err)
	}
	if result.Account.Status != models.AccountStatusSuspended {
		t.Fatalf("status = %q, want suspended", result.Account.Status)
	}
}

func TestCreateSubscription_FreePlan(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result, err := svc.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		Email: "free@example.com",
		Plan:  plan.Free,
	})
	if err != nil {
		t.Fatalf("free signup failed: %v", err)
	}
	if result.Account.BillingRef != nil {
		t.Fatal("free plan must not touch the payment provider")
	}
}

func TestCreateSubscription_PricedWithoutProvider(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		Email: "pro@example.com",
		Plan:  plan.Pro,
	})
	if !errors.Is(err, ErrStripeDisabled) {
		t.Fatalf("expected ErrStripeDisabled without a secret key, got %v", err)
	}
}

func TestCreateSubscription_UnknownPlan(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		Email: "x@example.com",
		Plan:  "gold",
	})
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestCreateSubscription_DuplicateEmail(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	if _, err := svc.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		Email: "dup@example.com", Plan: plan.Free,
	}); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}

	_, err := svc.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		Email: "dup@example.com", Plan: plan.Free,
	})
	if !errors.Is(err, account.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	svc := NewService(&fakeStore{}, plan.NewCatalog(plan.StripePrices{}),
		&config.StripeConfig{WebhookSecret: "whsec_test"}, "http://localhost:8080")

	err := svc.HandleWebhook(context.Background(), []byte(`{"type":"invoice.paid"}`), "t=1,v1=garbage")
	if !errors.Is(err, ErrInvalidWebhookSig) {
		t.Fatalf("expected ErrInvalidWebhookSig, got %v", err)
	}
}

func TestLifecycle_FailThenRecover(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)
	ctx := context.Background()

	result, err := svc.OnSubscriptionCreated(ctx, "cycle@example.com", plan.Basic, "sub_cycle")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	acct := result.Account
	acct.CurrentUsage = 412

	if err := svc.OnPaymentFailed(ctx, "sub_cycle"); err != nil {
		t.Fatalf("payment failed event: %v", err)
	}
	if acct.Status != models.AccountStatusSuspended {
		t.Fatal("account should be suspended after failed payment")
	}

	if err := svc.OnPaymentSucceeded(ctx, "sub_cycle"); err != nil {
		t.Fatalf("payment succeeded event: %v", err)
	}
	if acct.Status != models.AccountStatusActive || acct.CurrentUsage != 0 {
		t.Fatalf("after recovery: status %q usage %d, want active/0", acct.Status, acct.CurrentUsage)
	}
}
