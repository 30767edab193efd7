// Package notify sends typed outbound events to the captain, passenger,
// and admin namespaces through presence.Registry. Delivery is once and
// unreliable: no store-and-forward, and a failed send is logged, never
// retried — the timeout paths handle unresponsive peers.
package notify

import (
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
)

// envelope is the wire shape every event is wrapped in: {"type": ..., "payload": ...}.
type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Notifier is a thin, stateless wrapper around presence.Registry that
// names its sends by role.
type Notifier struct {
	presence *presence.Registry
	log      logger.Logger
}

// New creates a Notifier backed by reg.
func New(reg *presence.Registry, log logger.Logger) *Notifier {
	return &Notifier{presence: reg, log: log}
}

// ToCaptain sends event/payload to captainID's captain-namespace
// connection. Returns false if the captain is offline or delivery failed.
func (n *Notifier) ToCaptain(captainID, event string, payload interface{}) bool {
	ok := n.presence.Send(presence.RoleCaptain, captainID, envelope{Type: event, Payload: payload})
	if !ok {
		n.log.WithFields(logger.LogFields{"captain_id": captainID, "event": event}).
			Debug("notify_delivery_failed", "captain delivery failed or offline")
	}
	return ok
}

// ToPassenger sends event/payload to passengerID's passenger-namespace
// connection.
func (n *Notifier) ToPassenger(passengerID, event string, payload interface{}) bool {
	ok := n.presence.Send(presence.RolePassenger, passengerID, envelope{Type: event, Payload: payload})
	if !ok {
		n.log.WithFields(logger.LogFields{"passenger_id": passengerID, "event": event}).
			Debug("notify_delivery_failed", "passenger delivery failed or offline")
	}
	return ok
}

// ToAdmin sends event/payload to adminID's admin-namespace connection.
func (n *Notifier) ToAdmin(adminID, event string, payload interface{}) bool {
	return n.presence.Send(presence.RoleAdmin, adminID, envelope{Type: event, Payload: payload})
}

// HideRide is a convenience wrapper for the most common captain-facing
// event shape, since every Dispatcher phase emits it slightly differently
// but always with the same three fields.
func (n *Notifier) HideRide(captainID, rideID, reason, message string) bool {
	return n.ToCaptain(captainID, wire.EventHideRide, wire.HideRidePayload{
		RideID:  rideID,
		Reason:  reason,
		Message: message,
	})
}

// RideError is sent on both captain and passenger namespaces when a
// request fails for a reason the caller should react to.
func (n *Notifier) RideError(role presence.Role, id, rideID, code, message string) bool {
	return n.presence.Send(role, id, envelope{
		Type: wire.EventRideError,
		Payload: wire.RideErrorPayload{
			RideID:  rideID,
			Code:    code,
			Message: message,
		},
	})
}
