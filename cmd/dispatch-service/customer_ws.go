package main

import (
	"context"
	"encoding/json"

	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/websocket"
)

// onPassengerConnect binds an authenticated passenger connection. Passengers
// mostly receive; cancelRide is the one inbound event honored here.
func (a *app) onPassengerConnect(conn *websocket.Connection) {
	passengerID := conn.Claims.UserID
	log := a.log.WithFields(logger.LogFields{"passenger_id": passengerID})

	a.presence.BindPassenger(passengerID, conn)
	if err := conn.WriteJSON(connectionEstablished()); err != nil {
		log.Error("passenger_greeting_failed", err)
	}
	log.Info("passenger_connected", "passenger WebSocket session started")

	conn.ReadPump(
		func(_ int, msg []byte) {
			a.handlePassengerMessage(conn, passengerID, msg)
		},
		func() {
			a.presence.UnbindIfCurrent(presence.RolePassenger, passengerID, conn)
			log.Info("passenger_disconnected", "passenger WebSocket session ended")
		},
	)
}

func (a *app) handlePassengerMessage(conn *websocket.Connection, passengerID string, msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}

	switch frame.Type {
	case wire.EventCancelRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "passenger_canceled"
		}
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if _, err := a.svc.CancelByPassenger(ctx, passengerID, req.RideID, reason); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	default:
		a.log.WithFields(logger.LogFields{"passenger_id": passengerID, "type": frame.Type}).
			Debug("passenger_frame_unknown", "unknown event type")
	}
}
