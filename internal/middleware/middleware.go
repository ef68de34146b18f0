package middleware

import (
	"errors"
	"strconv"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/config"
	apierrors "github.com/bfitz887/pdf-api/internal/errors"
	"github.com/bfitz887/pdf-api/internal/gate"
	"github.com/bfitz887/pdf-api/internal/logging"
	"github.com/bfitz887/pdf-api/internal/models"
	"github.com/bfitz887/pdf-api/internal/monitoring"
	"github.com/bfitz887/pdf-api/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys for storing caller information
const (
	ContextKeyAccount     = "account"
	ContextKeyProvisioned = "provisioned"
)

// KeyAuthenticator resolves API credentials into accounts
type KeyAuthenticator struct {
	gate        *gate.Service
	auth        *config.AuthConfig
	marketplace *config.MarketplaceConfig
}

// NewKeyAuthenticator creates a key authenticator backed by the gate service
func NewKeyAuthenticator(svc *gate.Service, authCfg *config.AuthConfig, mktCfg *config.MarketplaceConfig) *KeyAuthenticator {
	return &KeyAuthenticator{
		gate:        svc,
		auth:        authCfg,
		marketplace: mktCfg,
	}
}

// KeyAuth creates a middleware that authenticates requests by API key or
// marketplace headers. It resolves the credential to an account, enforces
// account status and quota, and stores the account in the context.
func (k *KeyAuthenticator) KeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := gate.Credential{
			Key:               c.GetHeader(k.auth.HeaderName),
			MarketplaceSecret: c.GetHeader(k.marketplace.SecretHeader),
			MarketplaceUser:   c.GetHeader(k.marketplace.UserHeader),
		}
		if cred.Key == "" {
			cred.Key = c.Query(k.auth.QueryParam)
		}

		result, err := k.gate.Authorize(c.Request.Context(), cred)
		if err != nil {
			k.reject(c, err)
			return
		}

		monitoring.RecordAuthorization("allowed")
		if result.Provisioned {
			monitoring.RecordAccountProvisioned("marketplace")
		}

		c.Set(ContextKeyAccount, result.Account)
		c.Set(ContextKeyProvisioned, result.Provisioned)

		c.Next()
	}
}

// reject translates gate errors into API error responses
func (k *KeyAuthenticator) reject(c *gin.Context, err error) {
	var quotaErr *account.QuotaError

	switch {
	case errors.Is(err, gate.ErrMissingCredential):
		monitoring.RecordAuthorization("missing")
		respondWithError(c, apierrors.ErrMissingCredentialError)
	case errors.Is(err, gate.ErrInvalidCredential):
		monitoring.RecordAuthorization("invalid")
		logging.LogSecurityEvent("invalid_credential", c.ClientIP(), c.Request.URL.Path)
		respondWithError(c, apierrors.ErrInvalidCredentialError)
	case errors.Is(err, account.ErrSuspended):
		monitoring.RecordAuthorization("suspended")
		respondWithError(c, apierrors.ErrAccountSuspendedError)
	case errors.As(err, &quotaErr):
		monitoring.RecordAuthorization("quota_exceeded")
		monitoring.RecordQuotaRejection()
		respondWithError(c, apierrors.NewQuotaExceededError(quotaErr.CurrentUsage, quotaErr.MonthlyLimit))
	default:
		monitoring.RecordAuthorization("error")
		respondWithError(c, apierrors.ErrInternalServerError)
	}
	c.Abort()
}

// AccountFromContext extracts the authenticated account from the gin context.
// Returns nil if not found.
func AccountFromContext(c *gin.Context) *models.Account {
	v, exists := c.Get(ContextKeyAccount)
	if !exists {
		return nil
	}
	acct, ok := v.(*models.Account)
	if !ok {
		return nil
	}
	return acct
}

// ProvisionedFromContext reports whether the account was created by this request
func ProvisionedFromContext(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyProvisioned)
	if !exists {
		return false
	}
	provisioned, _ := v.(bool)
	return provisioned
}

// RateLimit creates a middleware that throttles callers per minute.
// It must run after KeyAuth so requests are throttled per account;
// unauthenticated routes fall back to the client IP.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		caller := c.ClientIP()
		if acct := AccountFromContext(c); acct != nil {
			caller = acct.ID.String()
		}

		result, err := limiter.Check(c.Request.Context(), caller)
		if err != nil || result == nil {
			// Fail open: a broken limiter must not take the API down
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			monitoring.RecordRateLimitHit()
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			respondWithError(c, apierrors.ErrRateLimitedError)
			c.Abort()
			return
		}

		c.Next()
	}
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	requestID := c.GetString("request_id")
	correlationID := c.GetString("correlation_id")
	if correlationID == "" {
		correlationID = requestID
	}

	response := apierrors.NewErrorResponse(
		err,
		requestID,
		correlationID,
		c.Request.URL.Path,
		c.Request.Method,
	)

	c.JSON(err.HTTPStatus, response)
}

// RespondWithError sends a standardized error response and aborts the request
func RespondWithError(c *gin.Context, err *apierrors.APIError) {
	respondWithError(c, err)
	c.Abort()
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CorrelationID adds a correlation ID for distributed tracing
// The correlation ID is used to trace requests across multiple services
// It can be passed from upstream services or generated if not present
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing correlation ID from upstream
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			// Fall back to request ID if no correlation ID provided
			correlationID = c.GetString("request_id")
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// GetCorrelationIDFromContext extracts the correlation ID from the gin context
// Returns empty string if not found
func GetCorrelationIDFromContext(c *gin.Context) string {
	return c.GetString("correlation_id")
}

// GetRequestIDFromContext extracts the request ID from the gin context
// Returns empty string if not found
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString("request_id")
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// Check if origin is allowed
		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-API-Key")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
