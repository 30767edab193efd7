package payment

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-core/internal/dispatchcore/captain"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/pkg/logger"
)

// newTestLedger connects to a throwaway Postgres instance named by
// DISPATCH_CORE_TEST_DATABASE_URL and skips otherwise, matching
// trip.newTestStore since this ledger's CAS/debit semantics only mean
// something against real captains/trips/money_transfers tables.
func newTestLedger(t *testing.T) (*Ledger, *pgxpool.Pool, *trip.Store, *captain.Repository) {
	t.Helper()
	dsn := os.Getenv("DISPATCH_CORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DISPATCH_CORE_TEST_DATABASE_URL not set, skipping payment integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	log := logger.NewLogger("payment-test")
	tripStore := trip.New(pool, log)
	captains := captain.NewRepository(pool)

	st, err := settings.NewStore(settings.DispatchConfig{
		InitialRadiusKm: 1, MaxRadiusKm: 10, RadiusIncrementKm: 1,
		NotificationTimeoutSec: 15, MaxDispatchTimeSec: 300, GraceAfterMaxRadiusSec: 30,
		MaxQueueLength: 5, QueueProcessingDelayMs: 2000, QueueTimeoutMultiplier: 1.5,
		MinRating: 3, MinWalletBalance: 0, MaxActiveRides: 1,
		MainVaultDeductionRate: 0.1, CommissionRate: 0.2,
		BaseFare: 1000, PricePerKm: 200, MinRidePrice: 1000, MaxRidePrice: 100000,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	return New(pool, tripStore, captains, st, log), pool, tripStore, captains
}

func seedCaptain(t *testing.T, pool *pgxpool.Pool, id string, wallet int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO captains (id, rating, wallet_balance, is_active, is_verified, last_active_at)
		VALUES ($1, 5, $2, true, true, now())
		ON CONFLICT (id) DO UPDATE SET wallet_balance = $2
	`, id, wallet)
	if err != nil {
		t.Fatalf("seed captain: %v", err)
	}
}

func newTrip(passengerID string, fare int64) *trip.Trip {
	return &trip.Trip{
		PassengerID: passengerID,
		Pickup:      trip.Point{Lat: 33.3, Lon: 44.3, Name: "A"},
		Dropoff:     trip.Point{Lat: 33.4, Lon: 44.4, Name: "B"},
		Fare:        trip.Fare{Amount: fare, Currency: "IQD"},
		DistanceKm:  5.2,
		DurationSec: 600,
	}
}

func TestAcceptWithVaultDeductionRefusesInsufficientBalance(t *testing.T) {
	l, pool, tripStore, _ := newTestLedger(t)
	ctx := context.Background()

	seedCaptain(t, pool, "captain-poor", 10)
	tr := newTrip("passenger-1", 10000)
	if err := tripStore.Create(ctx, tr); err != nil {
		t.Fatalf("create trip: %v", err)
	}

	_, _, err := l.AcceptWithVaultDeduction(ctx, tr.ID, "captain-poor", tr.Fare.Amount)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, err := tripStore.ByID(ctx, tr.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.Status != trip.StatusRequested {
		t.Fatalf("expected trip to remain requested when debit fails, got %s", got.Status)
	}
}

func TestAcceptWithVaultDeductionDebitsAndAccepts(t *testing.T) {
	l, pool, tripStore, captains := newTestLedger(t)
	ctx := context.Background()

	seedCaptain(t, pool, "captain-rich", 100000)
	tr := newTrip("passenger-2", 10000)
	if err := tripStore.Create(ctx, tr); err != nil {
		t.Fatalf("create trip: %v", err)
	}

	accepted, debit, err := l.AcceptWithVaultDeduction(ctx, tr.ID, "captain-rich", tr.Fare.Amount)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != trip.StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if debit != 1000 { // 10% of 10000
		t.Fatalf("expected debit of 1000, got %d", debit)
	}

	c, err := captains.ByID(ctx, "captain-rich")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if c.WalletBalance != 99000 {
		t.Fatalf("expected wallet balance 99000 after debit, got %d", c.WalletBalance)
	}
}

func TestSettleCompletionDefersOverageWhenCaptainCantCoverIt(t *testing.T) {
	l, pool, _, _ := newTestLedger(t)
	ctx := context.Background()

	seedCaptain(t, pool, "captain-tight", 50)
	result, err := l.SettleCompletion(ctx, "trip-x", "captain-tight", "passenger-3", 10000, 12000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Overage != 2000 {
		t.Fatalf("expected overage 2000, got %d", result.Overage)
	}
	if !result.CommissionPending {
		t.Fatal("expected commission transfer to be deferred for a captain with insufficient balance")
	}
	if !result.OveragePending {
		t.Fatal("expected overage transfer to be deferred for a captain with insufficient balance")
	}
}

func TestSettleCompletionSettlesImmediatelyWhenFunded(t *testing.T) {
	l, pool, _, captains := newTestLedger(t)
	ctx := context.Background()

	seedCaptain(t, pool, "captain-funded", 100000)
	result, err := l.SettleCompletion(ctx, "trip-y", "captain-funded", "passenger-4", 10000, 10000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.Commission != 2000 { // 20% of 10000
		t.Fatalf("expected commission 2000, got %d", result.Commission)
	}
	if result.CommissionPending {
		t.Fatal("expected commission to settle immediately for a well-funded captain")
	}
	if result.Overage != 0 {
		t.Fatalf("expected no overage for an exact payment, got %d", result.Overage)
	}

	c, err := captains.ByID(ctx, "captain-funded")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if c.WalletBalance != 98000 {
		t.Fatalf("expected wallet balance 98000 after commission debit, got %d", c.WalletBalance)
	}
}
