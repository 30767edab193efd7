// Package trip holds the Trip document, its legal status transitions, and
// the Postgres-backed compare-and-set store that is the only way to advance
// a trip's status.
package trip

import "time"

// Status is one of the legal trip lifecycle states.
type Status string

const (
	StatusRequested       Status = "requested"
	StatusAccepted        Status = "accepted"
	StatusArrived         Status = "arrived"
	StatusOnRide          Status = "onRide"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusNotApproved     Status = "notApprove"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Point is a named geographic location.
type Point struct {
	Lat  float64
	Lon  float64
	Name string
}

// Fare is a money amount in integer minor units.
type Fare struct {
	Amount   int64
	Currency string
}

// Trip is one passenger request and its lifecycle document.
type Trip struct {
	ID          string
	RideNumber  string
	PassengerID string
	DriverID    *string

	Pickup  Point
	Dropoff Point

	Fare        Fare
	DistanceKm  float64
	DurationSec int

	Status      Status
	Dispatching bool

	CreatedAt       time.Time
	AcceptedAt      *time.Time
	ArrivedAt       *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DispatchEndedAt *time.Time

	CancellationReason       *string
	PaymentReceived          *int64
	MainVaultDeducted        bool
	MainVaultDeductionAmount *int64
}

// HasDriver reports whether a driver is currently assigned. DriverID is
// non-nil iff the trip is in one of the driver-owned states.
func (t *Trip) HasDriver() bool {
	return t.DriverID != nil
}

// IsActive reports whether the trip is in one of the three driver-owned,
// in-progress states counted against a captain's maxActiveRides.
func (t *Trip) IsActive() bool {
	switch t.Status {
	case StatusAccepted, StatusArrived, StatusOnRide:
		return true
	default:
		return false
	}
}
