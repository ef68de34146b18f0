package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent represents one metered call in the append-only ledger
type UsageEvent struct {
	ID          uuid.UUID `json:"id" db:"id"`
	AccountID   uuid.UUID `json:"account_id" db:"account_id"`
	Endpoint    string    `json:"endpoint" db:"endpoint"`
	Success     bool      `json:"success" db:"success"`
	PayloadSize int64     `json:"payload_size" db:"payload_size"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EndpointUsage aggregates ledger events for one endpoint
type EndpointUsage struct {
	Endpoint  string `json:"endpoint" db:"endpoint"`
	Calls     int64  `json:"calls" db:"calls"`
	Successes int64  `json:"successes" db:"successes"`
	Bytes     int64  `json:"bytes" db:"bytes"`
}
