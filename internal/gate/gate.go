// Package gate decides whether a request may use the data plane.
//
// Authorization is read-only with respect to the meter: the gate resolves the
// account, applies the lazy month rollover, and checks status and quota, but
// never spends a unit. The usage recorder owns the spend, so the gate's quota
// check is advisory and the recorder's reservation is authoritative.
package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/apikey"
	"github.com/bfitz887/pdf-api/internal/config"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/plan"
)

// Gate errors. Suspension and quota refusals surface as the account store's
// sentinels so callers match one error set for both gate and recorder.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Credential carries whatever the request presented for authentication
type Credential struct {
	// Key is the direct-variant API key
	Key string

	// MarketplaceSecret and MarketplaceUser come from the fronting proxy
	// in the marketplace variant
	MarketplaceSecret string
	MarketplaceUser   string
}

func (c Credential) empty() bool {
	return c.Key == "" && c.MarketplaceSecret == "" && c.MarketplaceUser == ""
}

// Result is a successful authorization. Provisioned marks accounts created
// by this very call (marketplace first sight).
type Result struct {
	Account     *models.Account
	Provisioned bool
}

// Store is the account persistence the gate needs
type Store interface {
	GetByKeyHash(ctx context.Context, keyHash string) (*models.Account, error)
	ProvisionIfAbsent(ctx context.Context, p account.CreateParams) (*models.Account, bool, error)
	RolloverIfStale(ctx context.Context, keyHash string, now time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, keyHash string) error
}

// Service is the authorization gate
type Service struct {
	store       Store
	catalog     *plan.Catalog
	marketplace config.MarketplaceConfig
	now         func() time.Time
}

// NewService creates an authorization gate
func NewService(store Store, catalog *plan.Catalog, marketplace config.MarketplaceConfig) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		marketplace: marketplace,
		now:         time.Now,
	}
}

// Authorize resolves the credential to an account and checks that the
// account may call the data plane right now.
func (s *Service) Authorize(ctx context.Context, cred Credential) (*Result, error) {
	if cred.empty() {
		return nil, ErrMissingCredential
	}

	if s.marketplace.Enabled && (cred.MarketplaceSecret != "" || cred.MarketplaceUser != "") {
		return s.authorizeMarketplace(ctx, cred)
	}

	return s.authorizeDirect(ctx, cred)
}

func (s *Service) authorizeDirect(ctx context.Context, cred Credential) (*Result, error) {
	if cred.Key == "" {
		return nil, ErrMissingCredential
	}
	if !apikey.Valid(cred.Key) {
		return nil, ErrInvalidCredential
	}

	acct, err := s.store.GetByKeyHash(ctx, apikey.Hash(cred.Key))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}

	return s.admit(ctx, acct)
}

func (s *Service) authorizeMarketplace(ctx context.Context, cred Credential) (*Result, error) {
	if cred.MarketplaceSecret == "" || cred.MarketplaceUser == "" {
		return nil, ErrMissingCredential
	}
	if subtle.ConstantTimeCompare([]byte(cred.MarketplaceSecret), []byte(s.marketplace.ProxySecret)) != 1 {
		return nil, ErrInvalidCredential
	}

	rawKey := apikey.DeriveMarketplace(s.marketplace.ProxySecret, cred.MarketplaceUser)
	params := account.CreateParams{
		// Synthetic address on a reserved TLD; unique per marketplace caller
		Email:        cred.MarketplaceUser + "@marketplace.invalid",
		Plan:         s.marketplace.DefaultPlan,
		KeyHash:      apikey.Hash(rawKey),
		KeyPrefix:    apikey.DisplayPrefix(rawKey),
		MonthlyLimit: s.catalog.Quota(s.marketplace.DefaultPlan),
	}

	acct, created, err := s.store.ProvisionIfAbsent(ctx, params)
	if err != nil {
		return nil, err
	}
	if created {
		// First sight: a fresh account has nothing to roll over and
		// cannot have spent quota yet.
		s.touch(acct.KeyHash)
		return &Result{Account: acct, Provisioned: true}, nil
	}

	return s.admit(ctx, acct)
}

// admit runs the state checks shared by both variants: status, lazy
// rollover, quota.
func (s *Service) admit(ctx context.Context, acct *models.Account) (*Result, error) {
	if !acct.IsActive() {
		return nil, account.ErrSuspended
	}

	now := s.now()
	if monthChanged(acct.LastReset, now) {
		applied, err := s.store.RolloverIfStale(ctx, acct.KeyHash, now)
		if err != nil {
			return nil, err
		}
		if applied {
			acct.CurrentUsage = 0
			acct.LastReset = now.UTC()
		} else {
			// A concurrent request rolled the month first; re-read so
			// the quota check sees the fresh counter.
			acct, err = s.store.GetByKeyHash(ctx, acct.KeyHash)
			if err != nil {
				return nil, err
			}
		}
	}

	if acct.QuotaExhausted() {
		return nil, &account.QuotaError{
			CurrentUsage: acct.CurrentUsage,
			MonthlyLimit: acct.MonthlyLimit,
		}
	}

	s.touch(acct.KeyHash)
	return &Result{Account: acct}, nil
}

// touch stamps last_used_at off the request path
func (s *Service) touch(keyHash string) {
	go func() {
		_ = s.store.TouchLastUsed(context.Background(), keyHash)
	}()
}

// monthChanged reports whether now falls in a strictly later calendar month
// (UTC) than lastReset. Mirrors the date_trunc guard in the store so the Go
// pre-check and the SQL reset always agree.
func monthChanged(lastReset, now time.Time) bool {
	ly, lm, _ := lastReset.UTC().Date()
	ny, nm, _ := now.UTC().Date()
	return ny > ly || (ny == ly && nm > lm)
}
