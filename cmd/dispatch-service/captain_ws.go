package main

import (
	"context"
	"encoding/json"
	"time"

	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/websocket"
)

const messageTimeout = 10 * time.Second

// onCaptainConnect wires an authenticated driver connection into the core:
// presence bind, greeting, live config subscription, then the read loop
// that turns client frames into ride-service calls.
func (a *app) onCaptainConnect(conn *websocket.Connection) {
	captainID := conn.Claims.UserID
	log := a.log.WithFields(logger.LogFields{"captain_id": captainID})

	a.presence.BindCaptain(captainID, conn)
	if err := conn.WriteJSON(connectionEstablished()); err != nil {
		log.Error("captain_greeting_failed", err)
	}

	// Live dispatch-config changes are pushed to every connected captain.
	subKey := "captain:" + captainID
	cfgCh := a.settings.Subscribe(subKey)
	go func() {
		for cfg := range cfgCh {
			if err := conn.WriteJSON(wsEvent{Type: wire.EventConfigUpdate, Payload: cfg}); err != nil {
				return
			}
		}
	}()

	log.Info("captain_connected", "captain WebSocket session started")

	conn.ReadPump(
		func(_ int, msg []byte) {
			a.handleCaptainMessage(conn, captainID, msg)
		},
		func() {
			// Only tear down shared state if this connection is still the
			// bound one; a replacing connect has its own subscription and
			// already closed ours.
			if a.presence.UnbindIfCurrent(presence.RoleCaptain, captainID, conn) {
				a.settings.Unsubscribe(subKey)
			}
			log.Info("captain_disconnected", "captain WebSocket session ended")
		},
	)
}

func (a *app) handleCaptainMessage(conn *websocket.Connection, captainID string, msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		a.log.WithFields(logger.LogFields{"captain_id": captainID}).Error("captain_frame_invalid", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	switch frame.Type {
	case wire.EventUpdateLocation:
		var loc locationFrame
		if err := json.Unmarshal(frame.Payload, &loc); err != nil {
			return
		}
		if err := a.svc.UpdateLocation(ctx, captainID, loc.Lat, loc.Lon); err != nil {
			a.sendRideError(conn, "", err)
		}

	case wire.EventAcceptRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if _, err := a.svc.Accept(ctx, captainID, req.RideID); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventRejectRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if err := a.svc.Reject(captainID, req.RideID, req.Reason); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventCancelRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "captain_canceled"
		}
		if _, err := a.svc.CancelByDriver(ctx, captainID, req.RideID, reason); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventArrived:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if _, err := a.svc.Arrived(ctx, captainID, req.RideID); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventStartRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if _, err := a.svc.Start(ctx, captainID, req.RideID); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventEndRide:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if _, err := a.svc.End(ctx, captainID, req.RideID); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	case wire.EventSubmitPayment:
		var req rideFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if _, _, err := a.svc.SubmitPayment(ctx, captainID, req.RideID, req.ReceivedAmount); err != nil {
			a.sendRideError(conn, req.RideID, err)
		}

	default:
		a.log.WithFields(logger.LogFields{"captain_id": captainID, "type": frame.Type}).
			Debug("captain_frame_unknown", "unknown event type")
	}
}

func (a *app) sendRideError(conn *websocket.Connection, rideID string, err error) {
	_ = conn.WriteJSON(wsEvent{
		Type: wire.EventRideError,
		Payload: wire.RideErrorPayload{
			RideID:  rideID,
			Code:    errorCode(err),
			Message: err.Error(),
		},
	})
}
