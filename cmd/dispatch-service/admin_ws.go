package main

import (
	"encoding/json"
	"errors"

	"dispatch-core/internal/dispatchcore/admin"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/auth"
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/websocket"
)

// onAdminConnect binds an authenticated admin connection and serves the
// live-tracking command surface.
func (a *app) onAdminConnect(conn *websocket.Connection) {
	adminID := conn.Claims.UserID
	log := a.log.WithFields(logger.LogFields{"admin_id": adminID})

	a.presence.BindAdmin(adminID, conn)
	greeting := wsEvent{
		Type: wire.EventAdminConnected,
		Payload: wire.AdminConnectedPayload{
			UserInfo: map[string]string{
				"userId": adminID,
				"role":   string(conn.Claims.Role),
			},
			Stats: a.hub.Stats(),
		},
	}
	if err := conn.WriteJSON(greeting); err != nil {
		log.Error("admin_greeting_failed", err)
	}
	log.Info("admin_connected", "admin WebSocket session started")

	conn.ReadPump(
		func(_ int, msg []byte) {
			a.handleAdminMessage(conn, conn.Claims, msg)
		},
		func() {
			// A replacing connect owns the tracking session now; only end it
			// when this connection is still the bound one.
			if a.presence.UnbindIfCurrent(presence.RoleAdmin, adminID, conn) {
				a.hub.Unsubscribe(adminID)
			}
			log.Info("admin_disconnected", "admin WebSocket session ended")
		},
	)
}

func (a *app) handleAdminMessage(conn *websocket.Connection, claims *auth.AppClaims, msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}

	switch frame.Type {
	case wire.EventStartLocationTracking:
		if _, err := a.hub.Subscribe(claims); err != nil {
			code := "tracking_error"
			if errors.Is(err, admin.ErrNotPermitted) {
				code = "not_permitted"
			} else if errors.Is(err, admin.ErrTooManySessions) {
				code = "too_many_sessions"
			}
			_ = conn.WriteJSON(wsEvent{Type: "error", Payload: wire.RideErrorPayload{
				Code: code, Message: err.Error(),
			}})
		}

	case wire.EventStopLocationTracking:
		a.hub.Unsubscribe(claims.UserID)

	case wire.EventGetCurrentLocations:
		_ = conn.WriteJSON(wsEvent{
			Type:    wire.EventCaptainLocationsInitial,
			Payload: a.hub.CurrentLocations(),
		})

	case wire.EventGetTrackingStats:
		_ = conn.WriteJSON(wsEvent{
			Type:    wire.EventTrackingStats,
			Payload: a.hub.Stats(),
		})

	case wire.EventFocusCaptain:
		var req focusFrame
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		a.hub.FocusCaptain(claims.UserID, req.CaptainID)

	default:
		a.log.WithFields(logger.LogFields{"admin_id": claims.UserID, "type": frame.Type}).
			Debug("admin_frame_unknown", "unknown event type")
	}
}
