package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bfitz887/pdf-api/internal/models"
)

// Store persists the append-only usage ledger
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new usage event store
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Append inserts one ledger event
func (s *Store) Append(ctx context.Context, ev *models.UsageEvent) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO usage_events (account_id, endpoint, success, payload_size)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, ev.AccountID, ev.Endpoint, ev.Success, ev.PayloadSize).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}

// EndpointBreakdown aggregates ledger events per endpoint since a point in time
func (s *Store) EndpointBreakdown(ctx context.Context, accountID uuid.UUID, since time.Time) ([]models.EndpointUsage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT endpoint,
		       COUNT(*) AS calls,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COALESCE(SUM(payload_size), 0) AS bytes
		FROM usage_events
		WHERE account_id = $1 AND created_at >= $2
		GROUP BY endpoint
		ORDER BY calls DESC, endpoint
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage breakdown: %w", err)
	}
	defer rows.Close()

	var out []models.EndpointUsage
	for rows.Next() {
		var eu models.EndpointUsage
		if err := rows.Scan(&eu.Endpoint, &eu.Calls, &eu.Successes, &eu.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan usage breakdown: %w", err)
		}
		out = append(out, eu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage breakdown: %w", err)
	}
	return out, nil
}

// CountSince returns the number of ledger events since a point in time
func (s *Store) CountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_events WHERE account_id = $1 AND created_at >= $2
	`, accountID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events: %w", err)
	}
	return n, nil
}
