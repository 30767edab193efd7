// Package captain holds the Captain record and the eligibility predicate
// consulted before offering a ride, plus the Postgres-backed repository for
// the wallet balance reads and writes that back payment settlement.
package captain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficientFunds mirrors trip.ErrInsufficientFunds for the narrower
// repository-level debit operation, so payment.Ledger doesn't need to
// import the trip package just to report this.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNotFound is returned when a captain row doesn't exist.
var ErrNotFound = errors.New("captain not found")

// Captain is one driver account.
type Captain struct {
	ID              string
	Rating          float64
	WalletBalance   int64
	IsActive        bool
	IsVerified      bool
	LastActiveAt    time.Time
	ActiveRideCount int
}

// Eligible reports whether this captain may be offered rides: active,
// verified, rating and wallet above the configured floors, and fewer
// active rides than the cap.
func (c *Captain) Eligible(minRating float64, minWalletBalance int64, maxActiveRides int) bool {
	return c.IsActive &&
		c.IsVerified &&
		c.Rating >= minRating &&
		c.WalletBalance >= minWalletBalance &&
		c.ActiveRideCount < maxActiveRides
}

// Repository is the Postgres-backed captain store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository backed by pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ByID reads a captain row, including the live count of trips in
// {accepted, arrived, onRide} for that captain, used for the
// maxActiveRides eligibility check.
func (r *Repository) ByID(ctx context.Context, captainID string) (*Captain, error) {
	var c Captain
	err := r.db.QueryRow(ctx, `
		SELECT c.id, c.rating, c.wallet_balance, c.is_active, c.is_verified, c.last_active_at,
			(SELECT count(*) FROM trips t WHERE t.driver_id = c.id AND t.status IN ('accepted','arrived','onRide'))
		FROM captains c WHERE c.id = $1
	`, captainID).Scan(
		&c.ID, &c.Rating, &c.WalletBalance, &c.IsActive, &c.IsVerified, &c.LastActiveAt,
		&c.ActiveRideCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select captain: %w", err)
	}
	return &c, nil
}

// Debit subtracts amount from the captain's wallet, failing with
// ErrInsufficientFunds rather than going negative. Used for both the
// acceptance-time vault deduction and the completion-time commission and
// overage transfers.
func (r *Repository) Debit(ctx context.Context, captainID string, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE captains SET wallet_balance = wallet_balance - $1
		WHERE id = $2 AND wallet_balance >= $1
	`, amount, captainID)
	if err != nil {
		return fmt.Errorf("debit captain wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the captain's wallet (e.g. giving back an
// acceptance debit when the trip's acceptance CAS then loses the race —
// this path itself is never insufficient).
func (r *Repository) Credit(ctx context.Context, captainID string, amount int64) error {
	_, err := r.db.Exec(ctx, `UPDATE captains SET wallet_balance = wallet_balance + $1 WHERE id = $2`, amount, captainID)
	if err != nil {
		return fmt.Errorf("credit captain wallet: %w", err)
	}
	return nil
}

// TouchActive records a captain's last-active timestamp, called on every
// authenticated location ping.
func (r *Repository) TouchActive(ctx context.Context, captainID string) error {
	_, err := r.db.Exec(ctx, `UPDATE captains SET last_active_at = $1 WHERE id = $2`, time.Now(), captainID)
	if err != nil {
		return fmt.Errorf("touch captain active: %w", err)
	}
	return nil
}
