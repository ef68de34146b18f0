// Package usage meters data-plane calls.
//
// The account counter, not the event ledger, is the billing source of truth:
// the pipeline is Reserve (atomic spend before the render) then Record
// (ledger append and policy settlement after it). A lost ledger write costs
// an analytics row, never a billable unit.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bfitz887/pdf-api/internal/models"
)

// QuotaCounter spends and returns quota units
type QuotaCounter interface {
	ConsumeCall(ctx context.Context, keyHash string) (int64, error)
	RefundCall(ctx context.Context, keyHash string) error
}

// EventLedger appends and aggregates usage events
type EventLedger interface {
	Append(ctx context.Context, ev *models.UsageEvent) error
	EndpointBreakdown(ctx context.Context, accountID uuid.UUID, since time.Time) ([]models.EndpointUsage, error)
}

// Recorder applies the usage effects of data-plane calls
type Recorder struct {
	counter QuotaCounter
	ledger  EventLedger

	// countFailedCalls keeps failed renders on the meter instead of
	// refunding them
	countFailedCalls bool
}

// NewRecorder creates a usage recorder
func NewRecorder(counter QuotaCounter, ledger EventLedger, countFailedCalls bool) *Recorder {
	return &Recorder{
		counter:          counter,
		ledger:           ledger,
		countFailedCalls: countFailedCalls,
	}
}

// Reserve spends one quota unit before the protected operation runs. The
// conditional update in the counter closes the window between the gate's
// advisory check and the render: concurrent calls never push usage past the
// limit.
func (r *Recorder) Reserve(ctx context.Context, acct *models.Account) error {
	usage, err := r.counter.ConsumeCall(ctx, acct.KeyHash)
	if err != nil {
		return err
	}
	acct.CurrentUsage = usage
	return nil
}

// Record settles a reserved call: appends the ledger event and, when failed
// calls do not count, refunds the reservation. Never fails the caller —
// ledger errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, acct *models.Account, endpoint string, success bool, payloadSize int64) {
	if !success {
		payloadSize = 0
		if !r.countFailedCalls {
			if err := r.counter.RefundCall(ctx, acct.KeyHash); err != nil {
				log.Error().
					Err(err).
					Str("account_id", acct.ID.String()).
					Msg("Failed to refund quota for failed call")
			} else if acct.CurrentUsage > 0 {
				acct.CurrentUsage--
			}
		}
	}

	ev := &models.UsageEvent{
		AccountID:   acct.ID,
		Endpoint:    endpoint,
		Success:     success,
		PayloadSize: payloadSize,
	}
	if err := r.ledger.Append(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("account_id", acct.ID.String()).
			Str("endpoint", endpoint).
			Msg("Failed to append usage event")
	}
}

// Summary describes an account's position against its monthly quota
type Summary struct {
	Plan         string                 `json:"plan"`
	CurrentUsage int64                  `json:"current_usage"`
	MonthlyLimit int64                  `json:"monthly_limit"`
	Remaining    int64                  `json:"remaining"`
	PercentUsed  float64                `json:"percent_used"`
	Unlimited    bool                   `json:"unlimited"`
	PeriodStart  time.Time              `json:"period_start"`
	Endpoints    []models.EndpointUsage `json:"endpoints"`
}

// Summarize builds the usage view for one account. The counters come from
// the account row the gate just resolved; the breakdown comes from the
// ledger for the current usage period.
func (r *Recorder) Summarize(ctx context.Context, acct *models.Account) (*Summary, error) {
	endpoints, err := r.ledger.EndpointBreakdown(ctx, acct.ID, acct.LastReset)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Plan:         acct.Plan,
		CurrentUsage: acct.CurrentUsage,
		MonthlyLimit: acct.MonthlyLimit,
		Remaining:    acct.Remaining(),
		Unlimited:    acct.Unlimited(),
		PeriodStart:  acct.LastReset,
		Endpoints:    endpoints,
	}
	if !s.Unlimited && acct.MonthlyLimit > 0 {
		s.PercentUsed = float64(acct.CurrentUsage) / float64(acct.MonthlyLimit) * 100
	}
	return s, nil
}
