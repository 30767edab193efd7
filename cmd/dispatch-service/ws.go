package main

import (
	"encoding/json"
	"errors"
	"time"

	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/uuid"
)

// wsEvent is the outbound envelope every namespace speaks:
// {"type": ..., "payload": ...}.
type wsEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// inboundFrame is the inbound envelope; payload stays raw until the type is
// known.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// locationFrame is the updateLocation payload.
type locationFrame struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// rideFrame covers every ride-scoped client event; unused fields stay zero.
type rideFrame struct {
	RideID         string `json:"rideId"`
	Reason         string `json:"reason"`
	ReceivedAmount int64  `json:"receivedAmount"`
	Notes          string `json:"notes"`
}

// focusFrame is the admin focus_captain payload.
type focusFrame struct {
	CaptainID string `json:"captainId"`
}

func connectionEstablished() wsEvent {
	return wsEvent{
		Type: wire.EventConnectionEstablished,
		Payload: wire.ConnectionEstablishedPayload{
			SessionID:  uuid.MustNewV4().String(),
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// errorCode maps the core's sentinel errors to the wire error codes the
// clients switch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, trip.ErrInvalidCoordinates):
		return "invalid_coordinates"
	case errors.Is(err, trip.ErrRideNotAvailable):
		return "ride_not_available"
	case errors.Is(err, trip.ErrNotNotified):
		return "not_notified"
	case errors.Is(err, trip.ErrInsufficientFunds):
		return "insufficient_balance"
	case errors.Is(err, trip.ErrTripNotFound):
		return "ride_not_found"
	default:
		return "internal_error"
	}
}
