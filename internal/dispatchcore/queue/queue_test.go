package queue

import (
	"testing"
	"time"

	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
)

func testManager(t *testing.T, maxQueue int, notificationTimeoutSec int) (*Manager, func(tripID string, ok bool)) {
	t.Helper()
	cfg := settings.DispatchConfig{
		InitialRadiusKm: 2, MaxRadiusKm: 10, RadiusIncrementKm: 1,
		NotificationTimeoutSec: notificationTimeoutSec, MaxDispatchTimeSec: 300,
		GraceAfterMaxRadiusSec: 30, MaxQueueLength: maxQueue,
		QueueProcessingDelayMs: 1000, QueueTimeoutMultiplier: 1.5,
		MinRating: 3.5, MaxActiveRides: 1,
		MainVaultDeductionRate: 0.2, CommissionRate: 0.15,
	}
	st, err := settings.NewStore(cfg)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	log := logger.NewLogger("queue-test")
	reg := presence.New(log)
	notifier := notify.New(reg, log)

	tripStatus := map[string]bool{}
	tripOK := func(tripID string) bool { return tripStatus[tripID] }
	captainOK := func(string) bool { return true }

	m := New(st, notifier, tripOK, captainOK, log)
	setTripOK := func(tripID string, ok bool) { tripStatus[tripID] = ok }
	return m, setTripOK
}

func ride(tripID string, fare int64, dist float64) Ride {
	return Ride{
		TripID:     tripID,
		FareAmount: fare,
		DistanceKm: dist,
		QueuedAt:   time.Now(),
		Snapshot:   wire.NewRidePayload{RideID: tripID, Fare: fare},
	}
}

func TestSendFirstIsImmediate(t *testing.T) {
	m, _ := testManager(t, 10, 15)
	res, _ := m.Send("c1", ride("t1", 5000, 1))
	if res != ResultSent {
		t.Fatalf("expected ResultSent, got %v", res)
	}
	if !m.HasPending("c1") {
		t.Fatal("expected pending to be set")
	}
}

func TestSecondSendIsQueued(t *testing.T) {
	m, _ := testManager(t, 10, 15)
	m.Send("c1", ride("t1", 5000, 1))
	res, pos := m.Send("c1", ride("t2", 3000, 2))
	if res != ResultQueued {
		t.Fatalf("expected ResultQueued, got %v", res)
	}
	if pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}
	if m.QueueLen("c1") != 1 {
		t.Fatalf("expected queue len 1, got %d", m.QueueLen("c1"))
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	m, _ := testManager(t, 1, 15)
	m.Send("c1", ride("t1", 5000, 1)) // pending
	m.Send("c1", ride("t2", 1000, 1)) // queued, len=1
	m.Send("c1", ride("t3", 1000, 1)) // queue full at maxQueueLength=1, drop t2
	if got := m.QueueLen("c1"); got != 1 {
		t.Fatalf("expected queue len capped at 1, got %d", got)
	}
}

func TestOnAcceptClearsPendingAndQueue(t *testing.T) {
	m, _ := testManager(t, 10, 15)
	m.Send("c1", ride("t1", 5000, 1))
	m.Send("c1", ride("t2", 3000, 1))
	m.OnAccept("c1", "t1")

	if m.HasPending("c1") {
		t.Fatal("expected pending cleared on accept")
	}
	if m.QueueLen("c1") != 0 {
		t.Fatal("expected entire queue cleared on accept")
	}
}

func TestOnRejectReportsNotNotifiedForMismatch(t *testing.T) {
	m, _ := testManager(t, 10, 15)
	m.Send("c1", ride("t1", 5000, 1))
	if err := m.OnReject("c1", "wrong-trip", "reason"); err != ErrNotNotified {
		t.Fatalf("expected ErrNotNotified, got %v", err)
	}
}

func TestOnRejectAdvancesQueueAfterDelay(t *testing.T) {
	m, setOK := testManager(t, 10, 5)
	setOK("t2", true)
	m.Send("c1", ride("t1", 5000, 1))
	m.Send("c1", ride("t2", 3000, 1))

	if err := m.OnReject("c1", "t1", "busy"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if m.HasPending("c1") {
		t.Fatal("expected pending cleared immediately on reject")
	}

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if m.HasPending("c1") {
				return
			}
		case <-deadline:
			t.Fatal("expected queued ride to be dispatched after queueProcessingDelay")
		}
	}
}

func TestOnTimeoutBehavesLikeReject(t *testing.T) {
	m, setOK := testManager(t, 10, 5)
	setOK("t2", true)
	m.Send("c1", ride("t1", 5000, 1))
	m.Send("c1", ride("t2", 3000, 1))

	m.OnTimeout("c1", "t1")
	if m.HasPending("c1") {
		t.Fatal("expected pending cleared immediately on timeout")
	}
}

func TestOnDisconnectClearsEverything(t *testing.T) {
	m, _ := testManager(t, 10, 15)
	m.Send("c1", ride("t1", 5000, 1))
	m.Send("c1", ride("t2", 3000, 1))
	m.OnDisconnect("c1")

	if m.HasPending("c1") {
		t.Fatal("expected pending cleared on disconnect")
	}
	if m.QueueLen("c1") != 0 {
		t.Fatal("expected queue cleared on disconnect")
	}
}

func TestPendingTripReportsTheOutstandingOffer(t *testing.T) {
	m, _ := testManager(t, 10, 15)

	if _, has := m.PendingTrip("c1"); has {
		t.Fatal("expected no pending trip for idle captain")
	}

	m.Send("c1", ride("t1", 5000, 1))
	got, has := m.PendingTrip("c1")
	if !has || got != "t1" {
		t.Fatalf("expected pending t1, got %q (has=%v)", got, has)
	}

	m.OnAccept("c1", "t1")
	if _, has := m.PendingTrip("c1"); has {
		t.Fatal("expected pending cleared after accept")
	}
}

func TestPriorityPrefersHigherFareAndCloserCaptain(t *testing.T) {
	queue := []Ride{
		ride("low", 1000, 10),
		ride("high", 9000, 1),
	}
	idx := bestIndex(queue)
	if queue[idx].TripID != "high" {
		t.Fatalf("expected higher-fare/closer ride to win, got %s", queue[idx].TripID)
	}
}
