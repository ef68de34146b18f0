package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/apikey"
	"github.com/bfitz887/pdf-api/internal/cache"
	"github.com/bfitz887/pdf-api/internal/config"
	apierrors "github.com/bfitz887/pdf-api/internal/errors"
	"github.com/bfitz887/pdf-api/internal/gate"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/plan"
	"github.com/bfitz887/pdf-api/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGateStore is an in-memory account store for exercising the auth
// middleware without Postgres.
type fakeGateStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newFakeGateStore() *fakeGateStore {
	return &fakeGateStore{accounts: make(map[string]*models.Account)}
}

func (f *fakeGateStore) GetByKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[keyHash]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeGateStore) ProvisionIfAbsent(ctx context.Context, p account.CreateParams) (*models.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[p.KeyHash]; ok {
		cp := *acct
		return &cp, false, nil
	}
	now := time.Now().UTC()
	acct := &models.Account{
		ID:           uuid.New(),
		Email:        p.Email,
		Plan:         p.Plan,
		KeyHash:      p.KeyHash,
		KeyPrefix:    p.KeyPrefix,
		MonthlyLimit: p.MonthlyLimit,
		LastReset:    now,
		Status:       models.AccountStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.accounts[p.KeyHash] = acct
	cp := *acct
	return &cp, true, nil
}

func (f *fakeGateStore) RolloverIfStale(ctx context.Context, keyHash string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[keyHash]
	if !ok {
		return false, account.ErrNotFound
	}
	acct.CurrentUsage = 0
	acct.LastReset = now.UTC()
	return true, nil
}

func (f *fakeGateStore) TouchLastUsed(ctx context.Context, keyHash string) error {
	return nil
}

// seed adds an active account and returns the raw key that resolves to it
func (f *fakeGateStore) seed(t *testing.T, usage, limit int64) string {
	t.Helper()
	rawKey, keyHash, keyPrefix, err := apikey.Generate()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	f.accounts[keyHash] = &models.Account{
		ID:           uuid.New(),
		Email:        "caller@example.com",
		Plan:         plan.Basic,
		KeyHash:      keyHash,
		KeyPrefix:    keyPrefix,
		MonthlyLimit: limit,
		CurrentUsage: usage,
		LastReset:    now,
		Status:       models.AccountStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return rawKey
}

func testAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		HeaderName: "X-API-Key",
		QueryParam: "api_key",
	}
}

func testMarketplaceConfig() *config.MarketplaceConfig {
	return &config.MarketplaceConfig{
		Enabled:      false,
		SecretHeader: "X-Marketplace-Secret",
		UserHeader:   "X-Marketplace-User",
		DefaultPlan:  plan.Marketplace,
	}
}

func setupKeyAuth(mkt *config.MarketplaceConfig) (*KeyAuthenticator, *fakeGateStore) {
	store := newFakeGateStore()
	catalog := plan.NewCatalog(plan.StripePrices{})
	svc := gate.NewService(store, catalog, *mkt)
	return NewKeyAuthenticator(svc, testAuthConfig(), mkt), store
}

func protectedRouter(auth *KeyAuthenticator) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.Use(auth.KeyAuth())
	router.GET("/protected", func(c *gin.Context) {
		acct := AccountFromContext(c)
		if acct == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no account in context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account_id":  acct.ID.String(),
			"email":       acct.Email,
			"provisioned": ProvisionedFromContext(c),
		})
	})
	return router
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) *apierrors.ErrorResponse {
	t.Helper()
	var resp apierrors.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return &resp
}

func TestKeyAuth_ValidKey(t *testing.T) {
	auth, store := setupKeyAuth(testMarketplaceConfig())
	rawKey := store.seed(t, 0, 1000)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["email"] != "caller@example.com" {
		t.Errorf("Expected seeded account in context, got %v", body["email"])
	}
	if body["provisioned"] != false {
		t.Error("existing account should not be marked provisioned")
	}
}

func TestKeyAuth_MissingKey(t *testing.T) {
	auth, _ := setupKeyAuth(testMarketplaceConfig())

	handlerRan := false
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.Use(auth.KeyAuth())
	router.GET("/protected", func(c *gin.Context) {
		handlerRan = true
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	if handlerRan {
		t.Error("handler should not run after auth rejection")
	}

	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrMissingCredential {
		t.Errorf("Expected code %s, got %s", apierrors.ErrMissingCredential, resp.Error.Code)
	}
	if resp.RequestID == "" {
		t.Error("error envelope should carry the request ID")
	}
	if resp.Path != "/protected" || resp.Method != "GET" {
		t.Errorf("error envelope should carry path and method, got %s %s", resp.Method, resp.Path)
	}
}

func TestKeyAuth_MalformedKey(t *testing.T) {
	auth, _ := setupKeyAuth(testMarketplaceConfig())
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "not-a-real-key")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrInvalidCredential {
		t.Errorf("Expected code %s, got %s", apierrors.ErrInvalidCredential, resp.Error.Code)
	}
}

func TestKeyAuth_UnknownKey(t *testing.T) {
	auth, _ := setupKeyAuth(testMarketplaceConfig())
	router := protectedRouter(auth)

	// Well-formed key that no account owns
	rawKey, _, _, err := apikey.Generate()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrInvalidCredential {
		t.Errorf("Expected code %s, got %s", apierrors.ErrInvalidCredential, resp.Error.Code)
	}
}

func TestKeyAuth_QueryParamFallback(t *testing.T) {
	auth, store := setupKeyAuth(testMarketplaceConfig())
	rawKey := store.seed(t, 0, 1000)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected?api_key="+rawKey, nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 via query param, got %d: %s", w.Code, w.Body.String())
	}
}

func TestKeyAuth_HeaderTakesPrecedence(t *testing.T) {
	auth, store := setupKeyAuth(testMarketplaceConfig())
	rawKey := store.seed(t, 0, 1000)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected?api_key=garbage", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected header credential to win, got %d: %s", w.Code, w.Body.String())
	}
}

func TestKeyAuth_SuspendedAccount(t *testing.T) {
	auth, store := setupKeyAuth(testMarketplaceConfig())
	rawKey := store.seed(t, 0, 1000)
	store.mu.Lock()
	store.accounts[apikey.Hash(rawKey)].Status = models.AccountStatusSuspended
	store.mu.Unlock()
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrAccountSuspended {
		t.Errorf("Expected code %s, got %s", apierrors.ErrAccountSuspended, resp.Error.Code)
	}
}

func TestKeyAuth_QuotaExceeded(t *testing.T) {
	auth, store := setupKeyAuth(testMarketplaceConfig())
	rawKey := store.seed(t, 1000, 1000)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrQuotaExceeded {
		t.Errorf("Expected code %s, got %s", apierrors.ErrQuotaExceeded, resp.Error.Code)
	}

	details, ok := resp.Error.Details.(map[string]any)
	if !ok {
		t.Fatalf("Expected meter details on the quota error, got %T", resp.Error.Details)
	}
	if details["current_usage"] != float64(1000) || details["monthly_limit"] != float64(1000) {
		t.Errorf("Expected meter 1000/1000 in details, got %v", details)
	}
}

func TestKeyAuth_MarketplaceProvisionsOnFirstSight(t *testing.T) {
	mkt := testMarketplaceConfig()
	mkt.Enabled = true
	mkt.ProxySecret = "proxy-secret-for-tests"
	auth, _ := setupKeyAuth(mkt)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-Marketplace-Secret", "proxy-secret-for-tests")
	req.Header.Set("X-Marketplace-User", "alice")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["provisioned"] != true {
		t.Error("first marketplace sight should provision the account")
	}
	if body["email"] != "alice@marketplace.invalid" {
		t.Errorf("Expected synthetic marketplace email, got %v", body["email"])
	}

	// Same caller again resolves to the existing account
	req2 := httptest.NewRequest("GET", "/protected", nil)
	req2.Header.Set("X-Marketplace-Secret", "proxy-secret-for-tests")
	req2.Header.Set("X-Marketplace-User", "alice")
	w2 := httptest.NewRecorder()

	router.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on second call, got %d", w2.Code)
	}
	var body2 map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body2); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body2["provisioned"] != false {
		t.Error("second marketplace call should not provision again")
	}
	if body2["account_id"] != body["account_id"] {
		t.Errorf("Expected a stable account across calls, got %v then %v", body["account_id"], body2["account_id"])
	}
}

func TestKeyAuth_MarketplaceWrongSecret(t *testing.T) {
	mkt := testMarketplaceConfig()
	mkt.Enabled = true
	mkt.ProxySecret = "proxy-secret-for-tests"
	auth, _ := setupKeyAuth(mkt)
	router := protectedRouter(auth)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-Marketplace-Secret", "wrong-secret")
	req.Header.Set("X-Marketplace-User", "alice")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrInvalidCredential {
		t.Errorf("Expected code %s, got %s", apierrors.ErrInvalidCredential, resp.Error.Code)
	}
}

func setupTestLimiter(t *testing.T, limit int) *ratelimit.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return ratelimit.NewLimiter(&cache.Redis{Client: client}, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: limit,
	})
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(nil))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d should pass with no limiter, got %d", i+1, w.Code)
		}
	}
}

func TestRateLimit_SetsHeadersAndDenies(t *testing.T) {
	limiter := setupTestLimiter(t, 2)

	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.Use(RateLimit(limiter))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d should be allowed, got %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("Expected X-RateLimit-Limit 2, got %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != apierrors.ErrRateLimited {
		t.Errorf("Expected code %s, got %s", apierrors.ErrRateLimited, resp.Error.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("denied response should carry Retry-After")
	}
}

func TestRateLimit_KeyedByAccount(t *testing.T) {
	mkt := testMarketplaceConfig()
	auth, store := setupKeyAuth(mkt)
	keyA := store.seed(t, 0, 1000)
	keyB := store.seed(t, 0, 1000)
	limiter := setupTestLimiter(t, 1)

	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.Use(auth.KeyAuth())
	router.Use(RateLimit(limiter))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := send(keyA); w.Code != http.StatusOK {
		t.Fatalf("first request for account A should pass, got %d", w.Code)
	}
	if w := send(keyA); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request for account A should be throttled, got %d", w.Code)
	}
	// Account B has its own window
	if w := send(keyB); w.Code != http.StatusOK {
		t.Fatalf("account B should not share account A's window, got %d", w.Code)
	}
}

// Property tests for request and correlation ID middleware

func TestProperty_CorrelationID_GeneratedWhenMissing(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.GET("/test", func(c *gin.Context) {
		correlationID := GetCorrelationIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"correlation_id": correlationID})
	})

	// Make request without correlation ID header
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: Correlation ID should be generated
	correlationID := w.Header().Get("X-Correlation-ID")
	if correlationID == "" {
		t.Fatal("PROPERTY VIOLATION: Correlation ID should be generated when not provided")
	}

	// Property: Correlation ID should be a valid UUID format
	if len(correlationID) != 36 {
		t.Fatalf("PROPERTY VIOLATION: Correlation ID should be UUID format, got length %d", len(correlationID))
	}
}

func TestProperty_CorrelationID_PropagatedFromHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.GET("/test", func(c *gin.Context) {
		correlationID := GetCorrelationIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"correlation_id": correlationID})
	})

	// Make request with correlation ID header
	expectedCorrelationID := "test-correlation-id-12345"
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Correlation-ID", expectedCorrelationID)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: Correlation ID should be propagated from header
	correlationID := w.Header().Get("X-Correlation-ID")
	if correlationID != expectedCorrelationID {
		t.Fatalf("PROPERTY VIOLATION: Correlation ID should be propagated, expected %s, got %s",
			expectedCorrelationID, correlationID)
	}
}

func TestProperty_CorrelationID_FallsBackToRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())

	var capturedRequestID string
	var capturedCorrelationID string

	router.GET("/test", func(c *gin.Context) {
		capturedRequestID = GetRequestIDFromContext(c)
		capturedCorrelationID = GetCorrelationIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{})
	})

	// Make request without correlation ID but with request ID
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: When no correlation ID is provided, it should fall back to request ID
	if capturedCorrelationID != capturedRequestID {
		t.Fatalf("PROPERTY VIOLATION: Correlation ID should fall back to request ID, got correlation=%s, request=%s",
			capturedCorrelationID, capturedRequestID)
	}
}

func TestProperty_CorrelationID_SetInResponseHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	// Test with provided correlation ID
	providedID := "provided-correlation-id"
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Correlation-ID", providedID)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: Response should include X-Correlation-ID header
	responseCorrelationID := w.Header().Get("X-Correlation-ID")
	if responseCorrelationID == "" {
		t.Fatal("PROPERTY VIOLATION: Response should include X-Correlation-ID header")
	}
	if responseCorrelationID != providedID {
		t.Fatalf("PROPERTY VIOLATION: Response correlation ID should match provided, expected %s, got %s",
			providedID, responseCorrelationID)
	}
}

func TestProperty_CorrelationID_UniquePerRequest(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	// Make multiple requests without correlation ID
	correlationIDs := make(map[string]bool)
	numRequests := 10

	for i := 0; i < numRequests; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		correlationID := w.Header().Get("X-Correlation-ID")
		if correlationID == "" {
			t.Fatal("PROPERTY VIOLATION: Correlation ID should be generated")
		}

		if correlationIDs[correlationID] {
			t.Fatalf("PROPERTY VIOLATION: Correlation ID should be unique, got duplicate: %s", correlationID)
		}
		correlationIDs[correlationID] = true
	}

	// Property: All correlation IDs should be unique
	if len(correlationIDs) != numRequests {
		t.Fatalf("PROPERTY VIOLATION: Expected %d unique correlation IDs, got %d",
			numRequests, len(correlationIDs))
	}
}

func TestProperty_RequestID_GeneratedWhenMissing(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		requestID := GetRequestIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"request_id": requestID})
	})

	// Make request without request ID header
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: Request ID should be generated
	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("PROPERTY VIOLATION: Request ID should be generated when not provided")
	}

	// Property: Request ID should be a valid UUID format
	if len(requestID) != 36 {
		t.Fatalf("PROPERTY VIOLATION: Request ID should be UUID format, got length %d", len(requestID))
	}
}

func TestProperty_RequestID_PropagatedFromHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		requestID := GetRequestIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"request_id": requestID})
	})

	// Make request with request ID header
	expectedRequestID := "test-request-id-12345"
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", expectedRequestID)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Property: Request ID should be propagated from header
	requestID := w.Header().Get("X-Request-ID")
	if requestID != expectedRequestID {
		t.Fatalf("PROPERTY VIOLATION: Request ID should be propagated, expected %s, got %s",
			expectedRequestID, requestID)
	}
}
