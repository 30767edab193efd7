package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/uuid"
)

const tripColumns = `id, ride_number, passenger_id, driver_id,
	pickup_lat, pickup_lon, pickup_name, dropoff_lat, dropoff_lon, dropoff_name,
	fare_amount, fare_currency, distance_km, duration_sec,
	status, dispatching,
	created_at, accepted_at, arrived_at, started_at, ended_at, dispatch_ended_at,
	cancellation_reason, payment_received, main_vault_deducted, main_vault_deduction_amount`

// Store is the Postgres-backed trip store. Every status advance goes
// through a `RETURNING` UPDATE whose WHERE clause encodes the transition's
// precondition; zero rows back means the CAS lost the race and the caller
// gets ErrRideNotAvailable.
type Store struct {
	db  *pgxpool.Pool
	log logger.Logger
}

// New creates a Store backed by pool.
func New(db *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// Create persists a new trip in status=requested, dispatching=false.
func (s *Store) Create(ctx context.Context, t *Trip) error {
	if err := validatePoint(t.Pickup); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if err := validatePoint(t.Dropoff); err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}

	t.ID = uuid.MustNewV4().String()
	t.RideNumber = generateRideNumber()
	t.Status = StatusRequested
	t.Dispatching = false
	t.CreatedAt = time.Now()

	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (
			id, ride_number, passenger_id, driver_id,
			pickup_lat, pickup_lon, pickup_name, dropoff_lat, dropoff_lon, dropoff_name,
			fare_amount, fare_currency, distance_km, duration_sec,
			status, dispatching, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		t.ID, t.RideNumber, t.PassengerID, t.DriverID,
		t.Pickup.Lat, t.Pickup.Lon, t.Pickup.Name, t.Dropoff.Lat, t.Dropoff.Lon, t.Dropoff.Name,
		t.Fare.Amount, t.Fare.Currency, t.DistanceKm, t.DurationSec,
		t.Status, t.Dispatching, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// ByID reads a trip by id.
func (s *Store) ByID(ctx context.Context, tripID string) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, tripID)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	return t, nil
}

// ListRequested returns trips in status=requested and dispatching=false,
// excluding any tripId already claimed in-process, for the supervisor's
// orphan sweep.
func (s *Store) ListRequested(ctx context.Context, excluding []string) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = $1 AND dispatching = false AND NOT (id = ANY($2))
		ORDER BY created_at ASC
	`, StatusRequested, excluding)
	if err != nil {
		return nil, fmt.Errorf("list requested: %w", err)
	}
	defer rows.Close()

	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveByDriver returns the driver's current trip in one of the active
// states, if any — used to route a captain's location pings to the right
// passenger.
func (s *Store) ActiveByDriver(ctx context.Context, driverID string) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1 AND status IN ($2, $3, $4, $5)
		ORDER BY accepted_at DESC LIMIT 1
	`, driverID, StatusAccepted, StatusArrived, StatusOnRide, StatusAwaitingPayment)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	return t, nil
}

// ClaimDispatch sets dispatching=true iff the trip is still requested and
// unclaimed. This is the persisted half of the "one Dispatcher per trip"
// lease; the process-local in-flight set (dispatcher.Supervisor) is the
// other half, so a restart can't double-dispatch a trip the old process
// still thinks it owns.
func (s *Store) ClaimDispatch(ctx context.Context, tripID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET dispatching = true
		WHERE id = $1 AND status = $2 AND dispatching = false
	`, tripID, StatusRequested)
	if err != nil {
		return false, fmt.Errorf("claim dispatch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseDispatch clears the dispatching flag without changing status, used
// when a Dispatcher exits without a terminal CAS (e.g. external cancel
// raced it to a terminal state already).
func (s *Store) ReleaseDispatch(ctx context.Context, tripID string) error {
	_, err := s.db.Exec(ctx, `UPDATE trips SET dispatching = false WHERE id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("release dispatch: %w", err)
	}
	return nil
}

// AcceptByDriver is the acceptance CAS: requested & driverId=null -> accepted.
// vaultDeductionAmount is recorded alongside the transition so the vault
// debit and the status advance are visibly linked on the row, even though
// the ledger entry itself lives in a separate transaction managed by
// payment.Ledger.
func (s *Store) AcceptByDriver(ctx context.Context, tripID, driverID string, vaultDeductionAmount int64) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET
			status = $1, driver_id = $2, accepted_at = $3, dispatching = false,
			main_vault_deducted = true, main_vault_deduction_amount = $4
		WHERE id = $5 AND status = $6 AND driver_id IS NULL
		RETURNING `+tripColumns,
		StatusAccepted, driverID, now, vaultDeductionAmount, tripID, StatusRequested,
	)
	return s.mustOne(row)
}

// MarkArrived is the accepted -> arrived CAS, owning-driver only.
func (s *Store) MarkArrived(ctx context.Context, tripID, driverID string) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET status = $1, arrived_at = $2
		WHERE id = $3 AND status = $4 AND driver_id = $5
		RETURNING `+tripColumns,
		StatusArrived, now, tripID, StatusAccepted, driverID,
	)
	return s.mustOne(row)
}

// StartRide is the arrived -> onRide CAS, owning-driver only.
func (s *Store) StartRide(ctx context.Context, tripID, driverID string) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4 AND driver_id = $5
		RETURNING `+tripColumns,
		StatusOnRide, now, tripID, StatusArrived, driverID,
	)
	return s.mustOne(row)
}

// EndRide is the onRide -> awaiting_payment CAS, owning-driver only.
func (s *Store) EndRide(ctx context.Context, tripID, driverID string) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET status = $1
		WHERE id = $2 AND status = $3 AND driver_id = $4
		RETURNING `+tripColumns,
		StatusAwaitingPayment, tripID, StatusOnRide, driverID,
	)
	return s.mustOne(row)
}

// CompletePayment is the awaiting_payment -> completed CAS, owning-driver
// only; receivedAmount is recorded on the row for audit, the ledger split
// (commission/overage) lives in payment.Ledger.
func (s *Store) CompletePayment(ctx context.Context, tripID, driverID string, receivedAmount int64) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET status = $1, ended_at = $2, payment_received = $3
		WHERE id = $4 AND status = $5 AND driver_id = $6
		RETURNING `+tripColumns,
		StatusCompleted, now, receivedAmount, tripID, StatusAwaitingPayment, driverID,
	)
	return s.mustOne(row)
}

// DriverCancel resets an accepted/arrived trip back to requested so a fresh
// Dispatcher can take it over.
func (s *Store) DriverCancel(ctx context.Context, tripID, driverID, reason string) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET
			status = $1, driver_id = NULL, dispatching = true, cancellation_reason = $2,
			accepted_at = NULL, arrived_at = NULL
		WHERE id = $3 AND status IN ($4, $5) AND driver_id = $6
		RETURNING `+tripColumns,
		StatusRequested, reason, tripID, StatusAccepted, StatusArrived, driverID,
	)
	return s.mustOne(row)
}

// PassengerCancel moves any active trip to cancelled, owning-passenger only.
func (s *Store) PassengerCancel(ctx context.Context, tripID, passengerID, reason string) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET status = $1, ended_at = $2, cancellation_reason = $3
		WHERE id = $4 AND passenger_id = $5
			AND status IN ($6, $7, $8, $9, $10)
		RETURNING `+tripColumns,
		StatusCancelled, now, reason, tripID, passengerID,
		StatusRequested, StatusAccepted, StatusArrived, StatusOnRide, StatusAwaitingPayment,
	)
	return s.mustOne(row)
}

// MarkNotApproved is the dispatch-timeout terminal CAS.
func (s *Store) MarkNotApproved(ctx context.Context, tripID, reason string) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET
			status = $1, dispatching = false, dispatch_ended_at = $2, cancellation_reason = $3
		WHERE id = $4 AND status = $5
		RETURNING `+tripColumns,
		StatusNotApproved, now, reason, tripID, StatusRequested,
	)
	return s.mustOne(row)
}

// MarkFailed is the dispatch-error terminal CAS.
func (s *Store) MarkFailed(ctx context.Context, tripID, reason string) (*Trip, error) {
	now := time.Now()
	row := s.db.QueryRow(ctx, `
		UPDATE trips SET
			status = $1, dispatching = false, dispatch_ended_at = $2, cancellation_reason = $3
		WHERE id = $4 AND status = $5
		RETURNING `+tripColumns,
		StatusFailed, now, reason, tripID, StatusRequested,
	)
	return s.mustOne(row)
}

// mustOne unwraps a RETURNING QueryRow, mapping "no row" to ErrRideNotAvailable
// since every caller here is a CAS whose absence means the precondition
// didn't hold, not that the trip is missing outright.
func (s *Store) mustOne(row pgx.Row) (*Trip, error) {
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("cas update: %w", err)
	}
	return t, nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.RideNumber, &t.PassengerID, &t.DriverID,
		&t.Pickup.Lat, &t.Pickup.Lon, &t.Pickup.Name, &t.Dropoff.Lat, &t.Dropoff.Lon, &t.Dropoff.Name,
		&t.Fare.Amount, &t.Fare.Currency, &t.DistanceKm, &t.DurationSec,
		&t.Status, &t.Dispatching,
		&t.CreatedAt, &t.AcceptedAt, &t.ArrivedAt, &t.StartedAt, &t.EndedAt, &t.DispatchEndedAt,
		&t.CancellationReason, &t.PaymentReceived, &t.MainVaultDeducted, &t.MainVaultDeductionAmount,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func validatePoint(p Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// generateRideNumber produces a human-facing identifier in the
// TRIP_YYYYMMDD_NNN shape. It is never used for identity, only for
// operator-facing logs and admin views.
func generateRideNumber() string {
	return fmt.Sprintf("TRIP_%s_%03d", time.Now().Format("20060102"), time.Now().Nanosecond()%1000)
}
