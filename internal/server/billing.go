package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/bfitz887/pdf-api/internal/account"
	"github.com/bfitz887/pdf-api/internal/billing"
	apierrors "github.com/bfitz887/pdf-api/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Webhook payloads above this size are rejected before verification
const maxWebhookBytes = 1 << 20

// handleCreateSubscription signs an email up for a plan and returns the
// account together with the API key. The key is shown exactly once.
func (s *APIServer) handleCreateSubscription(c *gin.Context) {
	var req billing.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	result, err := s.billing.CreateSubscription(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			respondError(c, apierrors.NewUnknownPlanError(req.Plan))
		case errors.Is(err, account.ErrDuplicateEmail):
			respondError(c, apierrors.ErrDuplicateEmailError)
		case errors.Is(err, billing.ErrPlanNotPurchasable):
			respondError(c, apierrors.NewInvalidRequestError("Plan cannot be purchased"))
		case errors.Is(err, billing.ErrStripeDisabled):
			respondError(c, apierrors.NewInvalidRequestError("Payments are not configured"))
		default:
			log.Error().Err(err).Str("plan", req.Plan).Msg("Failed to create subscription")
			respondError(c, apierrors.ErrStorageFailureError)
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// handleCreateCheckout creates a hosted payment session for a priced plan
func (s *APIServer) handleCreateCheckout(c *gin.Context) {
	var req billing.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.billing.CreateCheckoutSession(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			respondError(c, apierrors.NewUnknownPlanError(req.Plan))
		case errors.Is(err, billing.ErrPlanNotPurchasable):
			respondError(c, apierrors.NewInvalidRequestError("Plan cannot be purchased"))
		case errors.Is(err, billing.ErrStripeDisabled):
			respondError(c, apierrors.NewInvalidRequestError("Payments are not configured"))
		default:
			log.Error().Err(err).Str("plan", req.Plan).Msg("Failed to create checkout session")
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleStripeWebhook receives payment provider events. The payload is
// verified against the webhook signing secret; callers are not API clients.
func (s *APIServer) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Failed to read webhook payload"))
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := s.billing.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSig) {
			respondError(c, apierrors.NewInvalidRequestError("Invalid webhook signature"))
			return
		}
		// Signal the provider to retry later
		log.Error().Err(err).Msg("Failed to process webhook event")
		respondError(c, apierrors.ErrStorageFailureError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
