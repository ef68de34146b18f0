package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bfitz887/pdf-api/internal/config"
)

// slowRequestThreshold marks requests worth a warning even when they succeed.
// PDF rendering is CPU-bound, so the bar sits higher than a typical API.
const slowRequestThreshold = 10 * time.Second

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "pdf-api").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 || latency > slowRequestThreshold {
			event = log.Warn()
		}

		event.
			Str("request_id", c.GetString("request_id")).
			Str("correlation_id", c.GetString("correlation_id")).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogGeneration logs one data-plane rendering call
func LogGeneration(requestID, accountID, endpoint string, success bool, payloadSize int64, latency time.Duration) {
	event := log.Info()
	if !success {
		event = log.Warn()
	}

	event.
		Str("request_id", requestID).
		Str("account_id", accountID).
		Str("endpoint", endpoint).
		Bool("success", success).
		Int64("payload_size", payloadSize).
		Dur("latency", latency).
		Msg("Document generated")
}

// LogBillingEvent logs a billing lifecycle event
func LogBillingEvent(eventType, billingRef, status string) {
	log.Info().
		Str("event_type", eventType).
		Str("billing_ref", billingRef).
		Str("status", status).
		Msg("Billing event")
}

// LogSecurityEvent logs security-related events such as rejected credentials
func LogSecurityEvent(eventType, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}
