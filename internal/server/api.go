package server

import (
	"net/http"
	"time"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/billing"
	"github.com/bfitz887/pdf-api/internal/cache"
	"github.com/bfitz887/pdf-api/internal/config"
	"github.com/bfitz887/pdf-api/internal/database"
	apierrors "github.com/bfitz887/pdf-api/internal/errors"
	"github.com/bfitz887/pdf-api/internal/gate"
	"github.com/bfitz887/pdf-api/internal/logging"
	"github.com/bfitz887/pdf-api/internal/middleware"
	"github.com/bfitz887/pdf-api/internal/monitoring"
	"github.com/bfitz887/pdf-api/internal/pdf"
	"github.com/bfitz887/pdf-api/internal/plan"
	"github.com/bfitz887/pdf-api/internal/ratelimit"
	"github.com/bfitz887/pdf-api/internal/storage"
	"github.com/bfitz887/pdf-api/internal/usage"
	"github.com/gin-gonic/gin"
)

// APIServer represents the main API server
type APIServer struct {
	config   *config.Config
	router   *gin.Engine
	db       *database.DB
	redis    *cache.Redis
	archive  *storage.Archive
	catalog  *plan.Catalog
	keyAuth  *middleware.KeyAuthenticator
	limiter  *ratelimit.Limiter
	recorder *usage.Recorder
	billing  *billing.Service
	renderer *pdf.Renderer
}

// NewAPIServer creates a new API server instance. The redis and archive
// dependencies are optional; rate limiting and artifact archival are
// disabled when they are nil.
func NewAPIServer(cfg *config.Config, db *database.DB, redis *cache.Redis, archive *storage.Archive) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	catalog := plan.NewCatalog(plan.StripePrices{
		Basic:      cfg.Stripe.PriceBasic,
		Pro:        cfg.Stripe.PricePro,
		Enterprise: cfg.Stripe.PriceEnterprise,
	})

	accounts := account.NewStore(db.Pool)
	events := usage.NewStore(db.Pool)

	gateService := gate.NewService(accounts, catalog, cfg.Marketplace)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled && redis != nil {
		limiter = ratelimit.NewLimiter(redis, &cfg.RateLimit)
	}

	srv := &APIServer{
		config:   cfg,
		router:   router,
		db:       db,
		redis:    redis,
		archive:  archive,
		catalog:  catalog,
		keyAuth:  middleware.NewKeyAuthenticator(gateService, &cfg.Auth, &cfg.Marketplace),
		limiter:  limiter,
		recorder: usage.NewRecorder(accounts, events, cfg.Quota.CountFailedCalls),
		billing:  billing.NewService(accounts, catalog, &cfg.Stripe, cfg.Server.URL),
		renderer: pdf.NewRenderer(&cfg.PDF),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		// Public routes
		v1.GET("/plans", s.handleListPlans)

		// Billing routes (public; the webhook authenticates by signature)
		billingGroup := v1.Group("/billing")
		{
			billingGroup.POST("/subscriptions", s.handleCreateSubscription)
			billingGroup.POST("/checkout", s.handleCreateCheckout)
			billingGroup.POST("/webhook", s.handleStripeWebhook)
		}

		// Data plane routes (protected - requires API key)
		generate := v1.Group("/generate")
		generate.Use(s.keyAuth.KeyAuth())
		generate.Use(middleware.RateLimit(s.limiter))
		{
			generate.POST("/text", s.handleGenerateText)
			generate.POST("/report", s.handleGenerateReport)
			generate.POST("/file", s.handleGenerateFile)
		}

		// Introspection routes (protected - requires API key)
		self := v1.Group("")
		self.Use(s.keyAuth.KeyAuth())
		self.Use(middleware.RateLimit(s.limiter))
		{
			self.GET("/usage", s.handleGetUsage)
			self.GET("/account", s.handleGetAccount)
		}
	}

	// Unknown routes and methods get the JSON error envelope
	s.router.HandleMethodNotAllowed = true
	s.router.NoRoute(func(c *gin.Context) {
		respondError(c, apierrors.ErrNotFoundError)
	})
	s.router.NoMethod(func(c *gin.Context) {
		respondError(c, apierrors.ErrMethodNotAllowedError)
	})
}

// healthCheck reports service liveness and dependency health
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "healthy"
	dbStatus := "up"
	if err := s.db.Health(ctx); err != nil {
		status = "degraded"
		dbStatus = "down"
	}

	stats := s.db.Stats()
	monitoring.SetDBConnections(int(stats.AcquiredConns), int(stats.IdleConns))

	resp := gin.H{
		"status":   status,
		"service":  s.config.Server.Name,
		"env":      s.config.Server.Env,
		"database": dbStatus,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}

	if s.redis != nil {
		redisStatus := "up"
		if err := s.redis.Health(ctx); err != nil {
			redisStatus = "down"
		}
		resp["redis"] = redisStatus
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// planView is the public representation of a plan
type planView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MonthlyQuota int64  `json:"monthly_quota"`
	PriceUSD     string `json:"price_usd"`
	Unlimited    bool   `json:"unlimited"`
}

// handleListPlans returns the plan catalog
func (s *APIServer) handleListPlans(c *gin.Context) {
	plans := s.catalog.List()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{
			ID:           p.ID,
			Name:         p.Name,
			MonthlyQuota: p.MonthlyQuota,
			PriceUSD:     p.PriceUSD.StringFixed(2),
			Unlimited:    p.Unlimited(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": views})
}

// handleGetUsage returns the usage summary for the authenticated account
func (s *APIServer) handleGetUsage(c *gin.Context) {
	acct := middleware.AccountFromContext(c)
	if acct == nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	summary, err := s.recorder.Summarize(c.Request.Context(), acct)
	if err != nil {
		respondError(c, apierrors.ErrStorageFailureError)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// accountView is the self-service representation of an account.
// The key is shown by prefix only; the full key is never stored.
type accountView struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Plan         string `json:"plan"`
	Status       string `json:"status"`
	KeyPrefix    string `json:"key_prefix"`
	MonthlyLimit int64  `json:"monthly_limit"`
	CurrentUsage int64  `json:"current_usage"`
	Remaining    int64  `json:"remaining"`
	Unlimited    bool   `json:"unlimited"`
	LastReset    string `json:"last_reset"`
	CreatedAt    string `json:"created_at"`
}

// handleGetAccount returns the authenticated account's own view
func (s *APIServer) handleGetAccount(c *gin.Context) {
	acct := middleware.AccountFromContext(c)
	if acct == nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, accountView{
		ID:           acct.ID.String(),
		Email:        acct.Email,
		Plan:         acct.Plan,
		Status:       string(acct.Status),
		KeyPrefix:    acct.KeyPrefix,
		MonthlyLimit: acct.MonthlyLimit,
		CurrentUsage: acct.CurrentUsage,
		Remaining:    acct.Remaining(),
		Unlimited:    acct.Unlimited(),
		LastReset:    acct.LastReset.UTC().Format(time.RFC3339),
		CreatedAt:    acct.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// respondError sends a standardized error response
func respondError(c *gin.Context, apiErr *apierrors.APIError) {
	requestID := c.GetString("request_id")
	correlationID := c.GetString("correlation_id")
	if correlationID == "" {
		correlationID = requestID
	}

	response := apierrors.NewErrorResponse(
		apiErr,
		requestID,
		correlationID,
		c.Request.URL.Path,
		c.Request.Method,
	)

	c.JSON(apiErr.HTTPStatus, response)
}
