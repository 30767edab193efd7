// Package ride is the use-case layer between the wire handlers and the
// dispatch core: every captain and passenger event (accept, reject,
// cancel, arrive, start, end, pay, locate) lands here and is turned into
// the right sequence of CAS updates, queue operations, ledger moves, and
// outbound events. One Service rather than per-operation use cases, since
// the operations share every collaborator.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatch-core/internal/dispatchcore/admin"
	"dispatch-core/internal/dispatchcore/captain"
	"dispatch-core/internal/dispatchcore/dispatcher"
	"dispatch-core/internal/dispatchcore/eventbus"
	"dispatch-core/internal/dispatchcore/location"
	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/payment"
	"dispatch-core/internal/dispatchcore/queue"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
)

// RequestRideCommand is the passenger's trip request input.
type RequestRideCommand struct {
	PickupLat   float64
	PickupLon   float64
	PickupName  string
	DropoffLat  float64
	DropoffLon  float64
	DropoffName string
	Currency    string
}

// Service coordinates the dispatch core's components for one inbound event
// at a time.
type Service struct {
	trips      *trip.Store
	captains   *captain.Repository
	queue      *queue.Manager
	notifier   *notify.Notifier
	payment    *payment.Ledger
	locations  *location.Index
	settings   *settings.Store
	supervisor *dispatcher.Supervisor
	events     *eventbus.Outbox
	adminHub   *admin.Hub
	log        logger.Logger
}

// Deps bundles Service's collaborators.
type Deps struct {
	Trips      *trip.Store
	Captains   *captain.Repository
	Queue      *queue.Manager
	Notifier   *notify.Notifier
	Payment    *payment.Ledger
	Locations  *location.Index
	Settings   *settings.Store
	Supervisor *dispatcher.Supervisor
	Events     *eventbus.Outbox
	AdminHub   *admin.Hub
	Log        logger.Logger
}

// NewService creates a Service from deps.
func NewService(d Deps) *Service {
	return &Service{
		trips: d.Trips, captains: d.Captains, queue: d.Queue,
		notifier: d.Notifier, payment: d.Payment, locations: d.Locations,
		settings: d.Settings, supervisor: d.Supervisor, events: d.Events,
		adminHub: d.AdminHub, log: d.Log,
	}
}

// RequestRide validates and persists a passenger's trip, prices it, and
// hands it straight to a Dispatcher instead of waiting for the supervisor's
// next sweep.
func (s *Service) RequestRide(ctx context.Context, passengerID string, cmd RequestRideCommand) (*trip.Trip, error) {
	distanceKm := location.DistanceKm(cmd.PickupLat, cmd.PickupLon, cmd.DropoffLat, cmd.DropoffLon)
	cfg := s.settings.Get()

	currency := cmd.Currency
	if currency == "" {
		currency = "IQD"
	}

	t := &trip.Trip{
		PassengerID: passengerID,
		Pickup:      trip.Point{Lat: cmd.PickupLat, Lon: cmd.PickupLon, Name: cmd.PickupName},
		Dropoff:     trip.Point{Lat: cmd.DropoffLat, Lon: cmd.DropoffLon, Name: cmd.DropoffName},
		Fare:        trip.Fare{Amount: EstimateFare(cfg, distanceKm), Currency: currency},
		DistanceKm:  distanceKm,
		DurationSec: EstimateDurationSec(distanceKm),
	}
	if err := s.trips.Create(ctx, t); err != nil {
		return nil, err
	}

	s.events.Publish(ctx, eventbus.RoutingRideRequested, eventbus.RideRequested{
		TripID: t.ID, PassengerID: passengerID,
	})
	s.supervisor.Claim(ctx, t.ID)

	s.log.WithFields(logger.LogFields{"trip_id": t.ID}).Info("ride_requested", "trip created and handed to dispatch")
	return t, nil
}

// Accept handles a captain's acceptRide. The captain must currently hold
// this trip as their pending offer; the vault debit gates the acceptance
// CAS. On success the captain's queue is discarded (they are busy now) and
// both parties are notified.
func (s *Service) Accept(ctx context.Context, captainID, tripID string) (*trip.Trip, error) {
	log := s.log.WithFields(logger.LogFields{"trip_id": tripID, "captain_id": captainID})

	pendingTrip, has := s.queue.PendingTrip(captainID)
	if !has || pendingTrip != tripID {
		t, err := s.trips.ByID(ctx, tripID)
		if err != nil {
			return nil, err
		}
		// Re-delivered accept of an already-resolved offer reads as the CAS
		// race it would have been; anything else is a never-notified captain.
		if t.Status != trip.StatusRequested {
			return nil, trip.ErrRideNotAvailable
		}
		return nil, trip.ErrNotNotified
	}

	t, err := s.trips.ByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	updated, debit, err := s.payment.AcceptWithVaultDeduction(ctx, tripID, captainID, t.Fare.Amount)
	switch {
	case errors.Is(err, payment.ErrInsufficientFunds):
		// The transport layer reports rideError(insufficient_balance); here
		// the refused offer just clears so the queue can advance.
		log.Info("accept_refused_insufficient_balance", "vault debit refused, advancing queue")
		_ = s.queue.OnReject(captainID, tripID, "insufficient_balance")
		return nil, trip.ErrInsufficientFunds
	case errors.Is(err, trip.ErrRideNotAvailable):
		// Lost the CAS race to another captain; clear the offer and move on.
		_ = s.queue.OnReject(captainID, tripID, "ride_taken")
		return nil, trip.ErrRideNotAvailable
	case err != nil:
		return nil, err
	}

	s.queue.OnAccept(captainID, tripID)

	s.notifier.ToCaptain(captainID, wire.EventRideAcceptedConfirm, wire.RideAcceptedConfirmationPayload{
		RideID: tripID,
		Status: string(updated.Status),
		Ride:   dispatcher.NewRidePayload(updated),
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventRideAccepted, wire.RideAcceptedPayload{
		RideID:     tripID,
		DriverInfo: s.driverInfo(ctx, captainID),
	})

	log.WithFields(logger.LogFields{"vault_deduction": debit}).Info("ride_accepted", "captain accepted trip")
	return updated, nil
}

// Reject handles rejectRide: clears the pending offer iff it matches and
// lets the queue advance after the processing delay. A reject for a ride
// the captain no longer holds returns trip.ErrNotNotified and advances
// nothing.
func (s *Service) Reject(captainID, tripID, reason string) error {
	if err := s.queue.OnReject(captainID, tripID, reason); err != nil {
		return trip.ErrNotNotified
	}
	return nil
}

// CancelByDriver resets an accepted/arrived trip back to requested, confirms
// to the captain, tells the passenger, and restarts dispatch immediately.
func (s *Service) CancelByDriver(ctx context.Context, captainID, tripID, reason string) (*trip.Trip, error) {
	updated, err := s.trips.DriverCancel(ctx, tripID, captainID, reason)
	if err != nil {
		return nil, err
	}

	s.notifier.ToCaptain(captainID, wire.EventRideCancelledConfirm, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventRideCanceled, wire.RideErrorPayload{
		RideID: tripID, Code: "captain_canceled", Message: "your driver cancelled; searching for a new one",
	})

	// DriverCancel's CAS already set dispatching=true, so resume rather than
	// re-claim.
	s.supervisor.Resume(tripID)
	s.events.Publish(ctx, eventbus.RoutingRideRequested, eventbus.RideRequested{
		TripID: tripID, PassengerID: updated.PassengerID,
	})

	s.log.WithFields(logger.LogFields{"trip_id": tripID, "captain_id": captainID}).
		Info("ride_driver_cancelled", "trip reset to requested, dispatch restarted")
	return updated, nil
}

// CancelByPassenger cancels a trip at any active stage, aborting an
// in-flight dispatch and notifying an assigned driver if there is one.
func (s *Service) CancelByPassenger(ctx context.Context, passengerID, tripID, reason string) (*trip.Trip, error) {
	updated, err := s.trips.PassengerCancel(ctx, tripID, passengerID, reason)
	if err != nil {
		return nil, err
	}

	s.supervisor.CancelDispatch(tripID)
	if updated.DriverID != nil {
		s.notifier.HideRide(*updated.DriverID, tripID, wire.ReasonCancelled, "the passenger cancelled this ride")
	}
	s.notifier.ToPassenger(passengerID, wire.EventRideCanceled, wire.RideErrorPayload{
		RideID: tripID, Code: "passenger_canceled", Message: "your ride was cancelled",
	})
	s.events.Publish(ctx, eventbus.RoutingRideCancelled, eventbus.RideCancelled{TripID: tripID})

	return updated, nil
}

// Arrived handles the captain's arrived event.
func (s *Service) Arrived(ctx context.Context, captainID, tripID string) (*trip.Trip, error) {
	updated, err := s.trips.MarkArrived(ctx, tripID, captainID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToCaptain(captainID, wire.EventRideStatusUpdate, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventDriverArrived, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	return updated, nil
}

// Start handles startRide.
func (s *Service) Start(ctx context.Context, captainID, tripID string) (*trip.Trip, error) {
	updated, err := s.trips.StartRide(ctx, tripID, captainID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToCaptain(captainID, wire.EventRideStatusUpdate, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventRideStarted, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	return updated, nil
}

// End moves an onRide trip to awaiting_payment and tells the captain what
// is owed.
func (s *Service) End(ctx context.Context, captainID, tripID string) (*trip.Trip, error) {
	updated, err := s.trips.EndRide(ctx, tripID, captainID)
	if err != nil {
		return nil, err
	}
	s.notifier.ToCaptain(captainID, wire.EventPaymentRequired, wire.PaymentRequiredPayload{
		RideID:         tripID,
		ExpectedAmount: updated.Fare.Amount,
		Currency:       updated.Fare.Currency,
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventRideAwaitingPay, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	return updated, nil
}

// SubmitPayment settles the ledger split and completes the trip. A captain
// balance too low for the overage never blocks completion; the transfer is
// deferred as pending and retried periodically.
func (s *Service) SubmitPayment(ctx context.Context, captainID, tripID string, receivedAmount int64) (*trip.Trip, payment.Settlement, error) {
	if receivedAmount < 0 {
		return nil, payment.Settlement{}, fmt.Errorf("received amount must be >= 0")
	}

	t, err := s.trips.ByID(ctx, tripID)
	if err != nil {
		return nil, payment.Settlement{}, err
	}
	if t.Status != trip.StatusAwaitingPayment || t.DriverID == nil || *t.DriverID != captainID {
		return nil, payment.Settlement{}, trip.ErrRideNotAvailable
	}

	settlement, err := s.payment.SettleCompletion(ctx, tripID, captainID, t.PassengerID, t.Fare.Amount, receivedAmount)
	if err != nil {
		return nil, settlement, err
	}

	updated, err := s.trips.CompletePayment(ctx, tripID, captainID, receivedAmount)
	if err != nil {
		return nil, settlement, err
	}

	s.notifier.ToCaptain(captainID, wire.EventRideStatusUpdate, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	s.notifier.ToPassenger(updated.PassengerID, wire.EventRideCompleted, wire.RideStatusUpdatePayload{
		RideID: tripID, Status: string(updated.Status),
	})
	s.events.Publish(ctx, eventbus.RoutingSettlement, eventbus.Settlement{
		TripID:     tripID,
		Commission: settlement.Commission,
		Overage:    settlement.Overage,
		Pending:    settlement.CommissionPending || settlement.OveragePending,
	})

	s.log.WithFields(logger.LogFields{
		"trip_id": tripID, "captain_id": captainID,
		"received": receivedAmount, "commission": settlement.Commission,
	}).Info("ride_completed", "payment settled, trip completed")
	return updated, settlement, nil
}

// UpdateLocation records a captain position ping: index upsert, admin
// fan-out, audit publish, and a live update to the passenger of the
// captain's active trip if they have one.
func (s *Service) UpdateLocation(ctx context.Context, captainID string, lat, lon float64) error {
	if err := s.locations.Upsert(captainID, lat, lon); err != nil {
		return err
	}
	if err := s.captains.TouchActive(ctx, captainID); err != nil {
		s.log.WithFields(logger.LogFields{"captain_id": captainID}).Error("touch_active_failed", err)
	}

	s.adminHub.OnLocationUpdate(captainID, lat, lon)
	s.events.PublishLocation(ctx, captainID, lat, lon)

	t, err := s.trips.ActiveByDriver(ctx, captainID)
	if err == nil {
		s.notifier.ToPassenger(t.PassengerID, wire.EventDriverLocationUpdt, wire.DriverLocationUpdatePayload{
			Lat: lat, Lon: lon, Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	} else if !errors.Is(err, trip.ErrTripNotFound) {
		s.log.WithFields(logger.LogFields{"captain_id": captainID}).Error("active_trip_lookup_failed", err)
	}
	return nil
}

// TripForPrincipal reads a trip iff the caller is its passenger or driver —
// the reconnection-recovery read.
func (s *Service) TripForPrincipal(ctx context.Context, userID, tripID string) (*trip.Trip, error) {
	t, err := s.trips.ByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.PassengerID != userID && (t.DriverID == nil || *t.DriverID != userID) {
		return nil, trip.ErrTripNotFound
	}
	return t, nil
}

func (s *Service) driverInfo(ctx context.Context, captainID string) wire.DriverInfo {
	info := wire.DriverInfo{ID: captainID}
	if c, err := s.captains.ByID(ctx, captainID); err == nil {
		info.Rating = c.Rating
	}
	return info
}
