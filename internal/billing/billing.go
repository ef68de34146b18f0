// Package billing connects the payment provider to the account lifecycle.
//
// The On* methods are the domain entry points: plain database transitions
// with no provider dependency, so the lifecycle is testable without Stripe.
// The Stripe surface (subscriptions, checkout, webhooks) translates provider
// events into those entry points and nothing else.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/apikey"
	"github.com/bfitz887/pdf-api/internal/config"
	"github.com/bfitz887/pdf-api/internal/logging"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/monitoring"
	"github.com/bfitz887/pdf-api/internal/plan"
)

// Service errors
var (
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrPlanNotPurchasable = errors.New("plan cannot be purchased through checkout")
	ErrStripeDisabled     = errors.New("payment provider not configured")
	ErrInvalidWebhookSig  = errors.New("invalid webhook signature")
)

// Store is the account persistence the billing bridge needs
type Store interface {
	Create(ctx context.Context, p account.CreateParams) (*models.Account, error)
	ActiveEmailExists(ctx context.Context, email string) (bool, error)
	SuspendByBillingRef(ctx context.Context, billingRef string) error
	ReactivateByBillingRef(ctx context.Context, billingRef string, now time.Time) error
	UpdatePlanByBillingRef(ctx context.Context, billingRef, planID string, monthlyLimit int64) error
}

// Service handles account provisioning and payment lifecycle events
type Service struct {
	store   Store
	catalog *plan.Catalog
	cfg     *config.StripeConfig
	appURL  string
	now     func() time.Time
}

// NewService creates a billing service
func NewService(store Store, catalog *plan.Catalog, cfg *config.StripeConfig, appURL string) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}

	return &Service{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		appURL:  appURL,
		now:     time.Now,
	}
}

func (s *Service) stripeEnabled() bool {
	return s.cfg.SecretKey != ""
}

// SubscriptionResult is a freshly provisioned account. APIKey is the raw
// credential and is never available again after this response.
type SubscriptionResult struct {
	Account *models.Account `json:"account"`
	APIKey  string          `json:"api_key"`
}

// OnSubscriptionCreated provisions the account for a new subscription.
// An active account with the same email refuses the signup with
// account.ErrDuplicateEmail; suspended accounts do not block re-signup.
func (s *Service) OnSubscriptionCreated(ctx context.Context, email, planID, billingRef string) (*SubscriptionResult, error) {
	p, ok := s.catalog.Find(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}

	exists, err := s.store.ActiveEmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, account.ErrDuplicateEmail
	}

	rawKey, keyHash, keyPrefix, err := apikey.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	params := account.CreateParams{
		Email:        email,
		Plan:         p.ID,
		KeyHash:      keyHash,
		KeyPrefix:    keyPrefix,
		MonthlyLimit: p.MonthlyQuota,
	}
	if billingRef != "" {
		params.BillingRef = &billingRef
	}

	// The partial unique index re-checks the email atomically; the lookup
	// above only gives a friendlier fast path.
	acct, err := s.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	logging.LogBillingEvent("subscription_created", billingRef, "provisioned")
	return &SubscriptionResult{Account: acct, APIKey: rawKey}, nil
}

// OnPaymentFailed suspends the account behind a billing reference. Unknown
// references are logged and ignored: webhooks replay, and other products may
// share the provider account.
func (s *Service) OnPaymentFailed(ctx context.Context, billingRef string) error {
	err := s.store.SuspendByBillingRef(ctx, billingRef)
	if errors.Is(err, account.ErrNotFound) {
		log.Warn().Str("billing_ref", billingRef).Msg("Payment failed for unknown billing ref")
		return nil
	}
	if err != nil {
		return err
	}
	logging.LogBillingEvent("payment_failed", billingRef, "suspended")
	return nil
}

// OnPaymentSucceeded reactivates the account and opens a fresh usage period
func (s *Service) OnPaymentSucceeded(ctx context.Context, billingRef string) error {
	err := s.store.ReactivateByBillingRef(ctx, billingRef, s.now())
	if errors.Is(err, account.ErrNotFound) {
		log.Warn().Str("billing_ref", billingRef).Msg("Payment succeeded for unknown billing ref")
		return nil
	}
	if err != nil {
		return err
	}
	logging.LogBillingEvent("payment_succeeded", billingRef, "reactivated")
	return nil
}

// OnPlanChanged migrates the account to a new plan and quota snapshot.
// This is the only path that rewrites monthly_limit after creation.
func (s *Service) OnPlanChanged(ctx context.Context, billingRef, planID string) error {
	p, ok := s.catalog.Find(planID)
	if !ok {
		return ErrUnknownPlan
	}

	err := s.store.UpdatePlanByBillingRef(ctx, billingRef, p.ID, p.MonthlyQuota)
	if errors.Is(err, account.ErrNotFound) {
		log.Warn().Str("billing_ref", billingRef).Msg("Plan change for unknown billing ref")
		return nil
	}
	if err != nil {
		return err
	}
	logging.LogBillingEvent("plan_changed", billingRef, p.ID)
	return nil
}

// OnSubscriptionCanceled suspends the account when its subscription ends
func (s *Service) OnSubscriptionCanceled(ctx context.Context, billingRef string) error {
	err := s.store.SuspendByBillingRef(ctx, billingRef)
	if errors.Is(err, account.ErrNotFound) {
		log.Warn().Str("billing_ref", billingRef).Msg("Cancellation for unknown billing ref")
		return nil
	}
	if err != nil {
		return err
	}
	logging.LogBillingEvent("subscription_canceled", billingRef, "suspended")
	return nil
}

// CreateSubscriptionRequest represents a direct signup
type CreateSubscriptionRequest struct {
	Email string `json:"email" binding:"required,email"`
	Plan  string `json:"plan" binding:"required"`
}

// CreateSubscription signs an email up for a plan. Priced plans go through
// the payment provider first; free plans provision immediately.
func (s *Service) CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*SubscriptionResult, error) {
	p, ok := s.catalog.Find(req.Plan)
	if !ok {
		return nil, ErrUnknownPlan
	}

	exists, err := s.store.ActiveEmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, account.ErrDuplicateEmail
	}

	billingRef := ""
	if p.Priced() {
		if !s.stripeEnabled() {
			return nil, ErrStripeDisabled
		}
		billingRef, err = s.createStripeSubscription(req.Email, p)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.OnSubscriptionCreated(ctx, req.Email, p.ID, billingRef)
	if err != nil {
		// Lost the duplicate-email race after the provider subscription
		// was created; don't leave it billing nobody.
		if billingRef != "" {
			if _, cancelErr := subscription.Cancel(billingRef, nil); cancelErr != nil {
				log.Error().Err(cancelErr).Str("billing_ref", billingRef).
					Msg("Failed to cancel orphaned subscription")
			}
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) createStripeSubscription(email string, p plan.Plan) (string, error) {
	if p.StripePriceID == "" {
		return "", ErrPlanNotPurchasable
	}

	custParams := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	cust, err := customer.New(custParams)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.StripePriceID)},
		},
	}
	subParams.AddMetadata("plan", p.ID)
	subParams.AddMetadata("email", email)

	sub, err := subscription.New(subParams)
	if err != nil {
		return "", fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub.ID, nil
}

// CheckoutRequest represents a hosted-checkout signup
type CheckoutRequest struct {
	Email string `json:"email" binding:"required,email"`
	Plan  string `json:"plan" binding:"required"`
}

// CheckoutResponse carries the hosted checkout session
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession creates a hosted checkout session for a priced plan.
// The account is provisioned later, when checkout.session.completed arrives.
func (s *Service) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	p, ok := s.catalog.Find(req.Plan)
	if !ok {
		return nil, ErrUnknownPlan
	}
	if !p.Priced() || p.StripePriceID == "" {
		return nil, ErrPlanNotPurchasable
	}
	if !s.stripeEnabled() {
		return nil, ErrStripeDisabled
	}

	exists, err := s.store.ActiveEmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, account.ErrDuplicateEmail
	}

	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(req.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(fmt.Sprintf("%s/signup/success?session_id={CHECKOUT_SESSION_ID}", s.appURL)),
		CancelURL:  stripe.String(fmt.Sprintf("%s/signup/cancel", s.appURL)),
		Metadata: map[string]string{
			"email": req.Email,
			"plan":  p.ID,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
	}, nil
}

// HandleWebhook verifies and dispatches a payment-provider event
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		monitoring.RecordBillingEvent("unverified", "rejected")
		return ErrInvalidWebhookSig
	}

	err = s.dispatch(ctx, event)
	status := "ok"
	if err != nil {
		status = "error"
	}
	monitoring.RecordBillingEvent(string(event.Type), status)
	return err
}

func (s *Service) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_failed":
		return s.OnPaymentFailed(ctx, event.GetObjectValue("subscription"))
	case "invoice.payment_succeeded", "invoice.paid":
		return s.OnPaymentSucceeded(ctx, event.GetObjectValue("subscription"))
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.OnSubscriptionCanceled(ctx, event.GetObjectValue("id"))
	default:
		// Ignore other event types
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	email := event.GetObjectValue("customer_details", "email")
	if email == "" {
		email = event.GetObjectValue("metadata", "email")
	}
	planID := event.GetObjectValue("metadata", "plan")
	billingRef := event.GetObjectValue("subscription")

	if email == "" || planID == "" {
		return fmt.Errorf("checkout session missing email or plan metadata")
	}

	_, err := s.OnSubscriptionCreated(ctx, email, planID, billingRef)
	if errors.Is(err, account.ErrDuplicateEmail) {
		// Replayed webhook; the first delivery already provisioned it.
		return nil
	}
	return err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	billingRef := event.GetObjectValue("id")
	planID := event.GetObjectValue("metadata", "plan")
	if billingRef == "" || planID == "" {
		return nil
	}

	err := s.OnPlanChanged(ctx, billingRef, planID)
	if errors.Is(err, ErrUnknownPlan) {
		log.Warn().Str("billing_ref", billingRef).Str("plan", planID).
			Msg("Subscription updated to unknown plan")
		return nil
	}
	return err
}
