// Package dispatcher implements the per-trip expanding-radius search and
// the background supervisor that ensures every requested trip has exactly
// one Dispatcher. Each search phase returns an explicit outcome value
// rather than signalling through errors, so the loop's dispositions stay
// enumerable.
package dispatcher

import (
	"context"
	"time"

	"dispatch-core/internal/dispatchcore/captain"
	"dispatch-core/internal/dispatchcore/eventbus"
	"dispatch-core/internal/dispatchcore/location"
	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/payment"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/queue"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
)

// outcome is the explicit result of a dispatch phase.
type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeNotApproved
	outcomeFailed
	outcomeCancelled
	// outcomeContinueToGrace signals the search loop exhausted the radius
	// without a terminal disposition; Run proceeds to the grace period.
	outcomeContinueToGrace
)

const pollInterval = 500 * time.Millisecond
const gracePollInterval = 5 * time.Second
const expandBackoff = 2 * time.Second

// Dispatcher drives one trip's radius-expansion search.
type Dispatcher struct {
	trips     *trip.Store
	locations *location.Index
	captains  *captain.Repository
	presence  *presence.Registry
	queue     *queue.Manager
	notifier  *notify.Notifier
	settings  *settings.Store
	payment   *payment.Ledger
	events    *eventbus.Outbox
	log       logger.Logger
}

// Deps bundles Dispatcher's collaborators so Supervisor can build fresh
// Dispatchers per trip without repeating the constructor's argument list.
type Deps struct {
	Trips     *trip.Store
	Locations *location.Index
	Captains  *captain.Repository
	Presence  *presence.Registry
	Queue     *queue.Manager
	Notifier  *notify.Notifier
	Settings  *settings.Store
	Payment   *payment.Ledger
	Events    *eventbus.Outbox
	Log       logger.Logger
}

// New creates a Dispatcher from deps.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		trips: d.Trips, locations: d.Locations, captains: d.Captains,
		presence: d.Presence, queue: d.Queue, notifier: d.Notifier,
		settings: d.Settings, payment: d.Payment, events: d.Events, log: d.Log,
	}
}

// Run executes the full radius-expansion search for tripID until a
// terminal disposition is reached. The caller (Supervisor) owns the
// dispatching=true lease and the process-local in-flight claim. The lease is
// cleared by the CAS that ends the search (or by ReleaseDispatch after a
// cancellation); the Supervisor drops the in-flight claim once Run returns.
func (d *Dispatcher) Run(ctx context.Context, tripID string) error {
	log := d.log.WithFields(logger.LogFields{"trip_id": tripID})

	t, err := d.trips.ByID(ctx, tripID)
	if err != nil {
		log.Error("dispatch_load_failed", err)
		return err
	}

	if err := validateOrigin(t.Pickup); err != nil {
		log.Error("dispatch_invalid_origin", err)
		d.failTrip(ctx, t, "invalid_origin")
		return err
	}

	notified := make(map[string]bool)
	currentRadius := make(map[string]bool)

	cfg := d.settings.Get()
	radius := cfg.InitialRadiusKm
	deadline := time.Now().Add(time.Duration(cfg.MaxDispatchTimeSec) * time.Second)

	out := d.searchLoop(ctx, t, &radius, notified, currentRadius, deadline)
	if out == outcomeAccepted {
		return d.finishAccepted(ctx, t, notified)
	}
	if out == outcomeCancelled {
		return d.finishCancelled(ctx, t, notified)
	}

	if out == outcomeContinueToGrace {
		// Radius exhausted without a terminal disposition: one last
		// polling window before giving up.
		out = d.gracePeriod(ctx, t, cfg)
	}

	switch out {
	case outcomeAccepted:
		return d.finishAccepted(ctx, t, notified)
	case outcomeCancelled:
		return d.finishCancelled(ctx, t, notified)
	default:
		reason := wire.ReasonMaxRadiusReached
		if time.Now().After(deadline) {
			reason = wire.ReasonDispatchTimeout
		}
		return d.finishNotApproved(ctx, t, notified, reason)
	}
}

// searchLoop runs SEARCHING/WAITING/EXPAND until acceptance, cancellation,
// the overall deadline, or the radius exceeds maxRadiusKm (in which case it
// returns outcomeContinueToGrace so Run proceeds to the grace period).
func (d *Dispatcher) searchLoop(ctx context.Context, t *trip.Trip, radius *float64, notified, currentRadius map[string]bool, deadline time.Time) outcome {
	for {
		select {
		case <-ctx.Done():
			return outcomeCancelled
		default:
		}

		if time.Now().After(deadline) {
			return outcomeNotApproved
		}

		cfg := d.settings.Get()
		newCount := d.notifyCandidates(t, *radius, notified, currentRadius)

		if newCount == 0 {
			// Nobody new at this radius (empty, or everyone already
			// notified): expand immediately instead of waiting out a full
			// notification timeout.
			if *radius >= cfg.MaxRadiusKm {
				return outcomeContinueToGrace
			}
			*radius += cfg.RadiusIncrementKm
			select {
			case <-ctx.Done():
				return outcomeCancelled
			case <-time.After(expandBackoff):
			}
			continue
		}

		waitTimeout := time.Duration(cfg.NotificationTimeoutSec) * time.Second
		status := d.pollForTerminal(ctx, t.ID, waitTimeout, pollInterval)
		switch status {
		case trip.StatusAccepted:
			return outcomeAccepted
		case trip.StatusCancelled:
			return outcomeCancelled
		}

		// Wait elapsed without resolution: hide the current-radius set only
		// (earlier rings keep counting toward the trip's avoidance set) and
		// expand.
		for captainID := range currentRadius {
			d.notifier.HideRide(captainID, t.ID, wire.ReasonExpanding, "searching a wider radius")
		}
		for k := range currentRadius {
			delete(currentRadius, k)
		}

		*radius += cfg.RadiusIncrementKm
		if *radius > cfg.MaxRadiusKm {
			return outcomeContinueToGrace
		}

		select {
		case <-ctx.Done():
			return outcomeCancelled
		case <-time.After(expandBackoff):
		}
	}
}

// notifyCandidates queries the LocationIndex, filters to eligible
// not-yet-notified captains, and offers the ride to each via
// CaptainQueueManager, recording them in both the global and
// current-radius notified sets. Returns how many new captains were
// notified this pass.
func (d *Dispatcher) notifyCandidates(t *trip.Trip, radiusKm float64, notified, currentRadius map[string]bool) int {
	hits := d.locations.Radius(t.Pickup.Lat, t.Pickup.Lon, radiusKm, 50)
	n := 0
	for _, hit := range hits {
		if notified[hit.CaptainID] {
			continue
		}
		if !d.captainEligible(hit.CaptainID) {
			continue
		}

		ride := queue.Ride{
			TripID:     t.ID,
			FareAmount: t.Fare.Amount,
			DistanceKm: hit.DistanceKm,
			QueuedAt:   time.Now(),
			Snapshot:   NewRidePayload(t),
		}
		d.queue.Send(hit.CaptainID, ride)
		notified[hit.CaptainID] = true
		currentRadius[hit.CaptainID] = true
		n++
	}
	return n
}

// captainEligible filters notifyCandidates' hits to online captains that
// pass the rating, wallet and active-ride checks. queue.Manager gets its own
// EligibilityChecker from cmd/dispatch-service, not this method.
func (d *Dispatcher) captainEligible(captainID string) bool {
	if !d.presence.IsOnline(presence.RoleCaptain, captainID) {
		return false
	}
	c, err := d.captains.ByID(context.Background(), captainID)
	if err != nil {
		return false
	}
	cfg := d.settings.Get()
	return c.Eligible(cfg.MinRating, cfg.MinWalletBalance, cfg.MaxActiveRides)
}

// pollForTerminal polls the trip row until it leaves StatusRequested,
// ctx is cancelled, or timeout elapses, returning the last observed status
// ("" on timeout without a terminal transition).
func (d *Dispatcher) pollForTerminal(ctx context.Context, tripID string, timeout, interval time.Duration) trip.Status {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return trip.StatusCancelled
		case <-ticker.C:
			if time.Now().After(deadline) {
				return ""
			}
			t, err := d.trips.ByID(ctx, tripID)
			if err != nil {
				continue
			}
			if t.Status != trip.StatusRequested {
				return t.Status
			}
		}
	}
}

// gracePeriod polls every 5s for up to graceAfterMaxRadiusSec, so an
// external cancel is noticed within one sub-interval.
func (d *Dispatcher) gracePeriod(ctx context.Context, t *trip.Trip, cfg settings.DispatchConfig) outcome {
	status := d.pollForTerminal(ctx, t.ID, time.Duration(cfg.GraceAfterMaxRadiusSec)*time.Second, gracePollInterval)
	switch status {
	case trip.StatusAccepted:
		return outcomeAccepted
	case trip.StatusCancelled:
		return outcomeCancelled
	default:
		return outcomeNotApproved
	}
}

func (d *Dispatcher) finishAccepted(ctx context.Context, t *trip.Trip, notified map[string]bool) error {
	fresh, err := d.trips.ByID(ctx, t.ID)
	if err != nil {
		return err
	}
	var accepter string
	if fresh.DriverID != nil {
		accepter = *fresh.DriverID
	}
	for captainID := range notified {
		if captainID == accepter {
			continue
		}
		d.notifier.HideRide(captainID, t.ID, wire.ReasonRideTaken, "ride has been taken")
	}
	d.events.Publish(ctx, eventbus.RoutingRideMatched, eventbus.RideMatched{TripID: t.ID, DriverID: accepter})
	d.log.WithFields(logger.LogFields{"trip_id": t.ID, "driver_id": accepter}).
		Info("dispatch_accepted", "trip accepted")
	return nil
}

func (d *Dispatcher) finishCancelled(ctx context.Context, t *trip.Trip, notified map[string]bool) error {
	for captainID := range notified {
		d.notifier.HideRide(captainID, t.ID, wire.ReasonCancelled, "ride was cancelled")
	}
	_ = d.trips.ReleaseDispatch(ctx, t.ID)
	d.events.Publish(ctx, eventbus.RoutingRideCancelled, eventbus.RideCancelled{TripID: t.ID})
	return nil
}

func (d *Dispatcher) finishNotApproved(ctx context.Context, t *trip.Trip, notified map[string]bool, reason string) error {
	updated, err := d.trips.MarkNotApproved(ctx, t.ID, reason)
	if err != nil {
		d.log.Error("dispatch_mark_not_approved_failed", err)
		return err
	}
	for captainID := range notified {
		d.notifier.HideRide(captainID, t.ID, reason, "no captain accepted in time")
	}
	d.notifier.ToPassenger(updated.PassengerID, wire.EventRideNotApproved, wire.RideErrorPayload{
		RideID: t.ID, Code: reason, Message: "no driver could be found for your ride",
	})
	d.events.Publish(ctx, eventbus.RoutingRideNotApproved, eventbus.RideNotApproved{TripID: t.ID})
	return nil
}

func (d *Dispatcher) failTrip(ctx context.Context, t *trip.Trip, reason string) {
	if _, err := d.trips.MarkFailed(ctx, t.ID, reason); err != nil {
		d.log.Error("dispatch_mark_failed_failed", err)
	}
	d.notifier.ToPassenger(t.PassengerID, wire.EventRideError, wire.RideErrorPayload{
		RideID: t.ID, Code: reason, Message: "could not process your ride request",
	})
}

func validateOrigin(p trip.Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return trip.ErrInvalidCoordinates
	}
	return nil
}

// NewRidePayload builds the newRide event body for t, shared with the ride
// service so queue snapshots and direct sends carry the same shape.
func NewRidePayload(t *trip.Trip) wire.NewRidePayload {
	return wire.NewRidePayload{
		RideID:        t.ID,
		Pickup:        [2]float64{t.Pickup.Lon, t.Pickup.Lat},
		Dropoff:       [2]float64{t.Dropoff.Lon, t.Dropoff.Lat},
		Fare:          t.Fare.Amount,
		Currency:      t.Fare.Currency,
		Distance:      t.DistanceKm,
		Duration:      t.DurationSec,
		PaymentMethod: "cash",
		PickupName:    t.Pickup.Name,
		DropoffName:   t.Dropoff.Name,
		PassengerInfo: wire.PassengerInfo{ID: t.PassengerID},
	}
}
