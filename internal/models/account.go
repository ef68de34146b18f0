package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus represents the lifecycle state of an account
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// UnlimitedQuota is the monthly_limit sentinel for plans without a cap
const UnlimitedQuota int64 = -1

// Account represents a metered API account
type Account struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Email        string        `json:"email" db:"email"`
	Plan         string        `json:"plan" db:"plan"`
	KeyHash      string        `json:"-" db:"key_hash"`
	KeyPrefix    string        `json:"key_prefix" db:"key_prefix"`
	MonthlyLimit int64         `json:"monthly_limit" db:"monthly_limit"`
	CurrentUsage int64         `json:"current_usage" db:"current_usage"`
	LastReset    time.Time     `json:"last_reset" db:"last_reset"`
	Status       AccountStatus `json:"status" db:"status"`
	BillingRef   *string       `json:"billing_ref,omitempty" db:"billing_ref"`
	LastUsedAt   *time.Time    `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the account may call the data plane
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Unlimited reports whether the account has no monthly cap
func (a *Account) Unlimited() bool {
	return a.MonthlyLimit == UnlimitedQuota
}

// Remaining returns the quota left this month, 0-floored.
// Unlimited accounts report UnlimitedQuota.
func (a *Account) Remaining() int64 {
	if a.Unlimited() {
		return UnlimitedQuota
	}
	if a.CurrentUsage >= a.MonthlyLimit {
		return 0
	}
	return a.MonthlyLimit - a.CurrentUsage
}

// QuotaExhausted reports whether the monthly limit has been reached
func (a *Account) QuotaExhausted() bool {
	return !a.Unlimited() && a.CurrentUsage >= a.MonthlyLimit
}
