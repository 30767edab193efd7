package trip

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-core/pkg/logger"
)

// newTestStore connects to a throwaway Postgres instance named by
// DISPATCH_CORE_TEST_DATABASE_URL. Without it these tests skip rather than
// fail, since the CAS semantics under test only mean something against a
// real `trips` table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DISPATCH_CORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DISPATCH_CORE_TEST_DATABASE_URL not set, skipping store integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool, logger.NewLogger("trip-store-test"))
}

func newTrip(passengerID string) *Trip {
	return &Trip{
		PassengerID: passengerID,
		Pickup:      Point{Lat: 33.3, Lon: 44.3, Name: "A"},
		Dropoff:     Point{Lat: 33.4, Lon: 44.4, Name: "B"},
		Fare:        Fare{Amount: 5000, Currency: "IQD"},
		DistanceKm:  5.2,
		DurationSec: 600,
	}
}

func TestCreateAndByID(t *testing.T) {
	s := newTestStore(t)
	tr := newTrip("passenger-1")
	if err := s.Create(context.Background(), tr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tr.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.ByID(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.Status != StatusRequested {
		t.Fatalf("expected requested, got %s", got.Status)
	}
	if got.Dispatching {
		t.Fatal("expected dispatching=false on creation")
	}
}

func TestAcceptByDriverIsSingleFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := newTrip("passenger-2")
	if err := s.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	accepted, err := s.AcceptByDriver(ctx, tr.ID, "driver-a", 500)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if accepted.Status != StatusAccepted || accepted.DriverID == nil || *accepted.DriverID != "driver-a" {
		t.Fatalf("unexpected accepted trip: %+v", accepted)
	}

	_, err = s.AcceptByDriver(ctx, tr.ID, "driver-b", 500)
	if !errors.Is(err, ErrRideNotAvailable) {
		t.Fatalf("expected ErrRideNotAvailable on second accept, got %v", err)
	}
}

func TestDriverCancelResetsToRequestedAndAllowsReaccept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := newTrip("passenger-3")
	if err := s.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AcceptByDriver(ctx, tr.ID, "driver-a", 500); err != nil {
		t.Fatalf("accept: %v", err)
	}

	reset, err := s.DriverCancel(ctx, tr.ID, "driver-a", "vehicle issue")
	if err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if reset.Status != StatusRequested || reset.DriverID != nil {
		t.Fatalf("expected reset to requested with no driver, got %+v", reset)
	}

	if _, err := s.AcceptByDriver(ctx, tr.ID, "driver-b", 500); err != nil {
		t.Fatalf("expected reaccept to succeed: %v", err)
	}
}

func TestPassengerCancelRejectsWrongPassenger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := newTrip("passenger-4")
	if err := s.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := s.PassengerCancel(ctx, tr.ID, "someone-else", "changed mind")
	if !errors.Is(err, ErrRideNotAvailable) {
		t.Fatalf("expected ErrRideNotAvailable for wrong passenger, got %v", err)
	}

	got, err := s.PassengerCancel(ctx, tr.ID, "passenger-4", "changed mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestClaimDispatchIsSingleFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := newTrip("passenger-5")
	if err := s.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.ClaimDispatch(ctx, tr.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}

	ok, err = s.ClaimDispatch(ctx, tr.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("expected second claim to fail while already dispatching")
	}

	if err := s.ReleaseDispatch(ctx, tr.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = s.ClaimDispatch(ctx, tr.ID)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !ok {
		t.Fatal("expected claim to succeed again after release")
	}
}
