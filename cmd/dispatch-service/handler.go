package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dispatch-core/internal/dispatchcore/ride"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/pkg/auth"
)

type createTripRequest struct {
	PickupLat   float64 `json:"pickup_lat"`
	PickupLon   float64 `json:"pickup_lon"`
	PickupName  string  `json:"pickup_name"`
	DropoffLat  float64 `json:"dropoff_lat"`
	DropoffLon  float64 `json:"dropoff_lon"`
	DropoffName string  `json:"dropoff_name"`
	Currency    string  `json:"currency"`
}

type cancelTripRequest struct {
	Reason string `json:"reason"`
}

type submitPaymentRequest struct {
	ReceivedAmount int64  `json:"received_amount"`
	Notes          string `json:"notes"`
}

type tripResponse struct {
	ID          string  `json:"id"`
	RideNumber  string  `json:"ride_number"`
	PassengerID string  `json:"passenger_id"`
	DriverID    string  `json:"driver_id,omitempty"`
	Status      string  `json:"status"`
	PickupName  string  `json:"pickup_name"`
	DropoffName string  `json:"dropoff_name"`
	FareAmount  int64   `json:"fare_amount"`
	Currency    string  `json:"currency"`
	DistanceKm  float64 `json:"distance_km"`
	DurationSec int     `json:"duration_sec"`
	CreatedAt   string  `json:"created_at"`
}

func toTripResponse(t *trip.Trip) tripResponse {
	resp := tripResponse{
		ID:          t.ID,
		RideNumber:  t.RideNumber,
		PassengerID: t.PassengerID,
		Status:      string(t.Status),
		PickupName:  t.Pickup.Name,
		DropoffName: t.Dropoff.Name,
		FareAmount:  t.Fare.Amount,
		Currency:    t.Fare.Currency,
		DistanceKm:  t.DistanceKm,
		DurationSec: t.DurationSec,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.DriverID != nil {
		resp.DriverID = *t.DriverID
	}
	return resp
}

// Health serves the liveness probe.
func (a *app) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateTrip serves POST /trips (passenger only).
func (a *app) CreateTrip(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok || claims.Role != auth.RolePassenger {
		writeError(w, http.StatusForbidden, "only passengers can request rides")
		return
	}

	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	t, err := a.svc.RequestRide(ctx, claims.UserID, ride.RequestRideCommand{
		PickupLat: req.PickupLat, PickupLon: req.PickupLon, PickupName: req.PickupName,
		DropoffLat: req.DropoffLat, DropoffLon: req.DropoffLon, DropoffName: req.DropoffName,
		Currency: req.Currency,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripResponse(t))
}

// CancelTrip serves POST /trips/{trip_id}/cancel (passenger only).
func (a *app) CancelTrip(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok || claims.Role != auth.RolePassenger {
		writeError(w, http.StatusForbidden, "only passengers can cancel their rides here")
		return
	}

	var req cancelTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Reason = "passenger_canceled"
	}
	if req.Reason == "" {
		req.Reason = "passenger_canceled"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	t, err := a.svc.CancelByPassenger(ctx, claims.UserID, r.PathValue("trip_id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripResponse(t))
}

// GetTrip serves GET /trips/{trip_id}: the reconnection-recovery read for
// both the passenger and the assigned driver.
func (a *app) GetTrip(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	t, err := a.svc.TripForPrincipal(ctx, claims.UserID, r.PathValue("trip_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripResponse(t))
}

// SubmitPayment serves POST /trips/{trip_id}/payment (driver only) — the
// REST twin of the submitPayment WS event.
func (a *app) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok || claims.Role != auth.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers can submit payments")
		return
	}

	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	t, settlement, err := a.svc.SubmitPayment(ctx, claims.UserID, r.PathValue("trip_id"), req.ReceivedAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trip":               toTripResponse(t),
		"commission":         settlement.Commission,
		"commission_pending": settlement.CommissionPending,
		"overage":            settlement.Overage,
		"overage_pending":    settlement.OveragePending,
		"full_payment":       settlement.Full,
	})
}

// GetSettings serves GET /admin/settings.
func (a *app) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.settings.Get())
}

// UpdateSettings serves PUT /admin/settings: validates, swaps the live
// config (broadcasting to connected captains), and persists the singleton
// row.
func (a *app) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.DispatchConfig
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	if err := a.settings.Update(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := a.settingsRepo.Save(ctx, next); err != nil {
		a.log.Error("settings_persist_failed", err)
		writeError(w, http.StatusInternalServerError, "settings applied live but not persisted")
		return
	}

	a.log.Info("settings_updated", "dispatch settings updated and broadcast")
	writeJSON(w, http.StatusOK, next)
}

// writeDomainError maps the core's sentinel errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trip.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, "invalid coordinates")
	case errors.Is(err, trip.ErrTripNotFound):
		writeError(w, http.StatusNotFound, "trip not found")
	case errors.Is(err, trip.ErrRideNotAvailable):
		writeError(w, http.StatusConflict, "ride not available")
	case errors.Is(err, trip.ErrNotNotified):
		writeError(w, http.StatusForbidden, "not notified for this ride")
	case errors.Is(err, trip.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
