// Package presence holds the in-process captain/passenger/admin connection
// maps: three role-scoped pkg/websocket.Manager instances behind one type,
// with replace-and-notify on duplicate bind, read-mostly lookups, and a
// disconnect hook so the queue manager can clear a captain's state when
// their connection goes away.
package presence

import (
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/websocket"
)

// Role identifies which of the three connection maps an id belongs to.
type Role string

const (
	RoleCaptain   Role = "captain"
	RolePassenger Role = "passenger"
	RoleAdmin     Role = "admin"
)

// DisconnectFunc is invoked after a captain connection is removed, giving
// the queue manager a chance to clear pending/queue state.
type DisconnectFunc func(captainID string)

// Registry is the process-wide presence map.
type Registry struct {
	captains   *websocket.Manager
	passengers *websocket.Manager
	admins     *websocket.Manager
	log        logger.Logger

	onCaptainDisconnect DisconnectFunc
}

// New creates an empty Registry.
func New(log logger.Logger) *Registry {
	return &Registry{
		captains:   websocket.NewManager(log),
		passengers: websocket.NewManager(log),
		admins:     websocket.NewManager(log),
		log:        log,
	}
}

// OnCaptainDisconnect registers the hook fired when a captain connection is
// removed, by UnbindCaptain or by UnbindIfCurrent while that connection is
// still the bound one. A replacing reconnect does not fire it.
func (r *Registry) OnCaptainDisconnect(fn DisconnectFunc) {
	r.onCaptainDisconnect = fn
}

func (r *Registry) managerFor(role Role) *websocket.Manager {
	switch role {
	case RoleCaptain:
		return r.captains
	case RolePassenger:
		return r.passengers
	case RoleAdmin:
		return r.admins
	default:
		return nil
	}
}

// BindCaptain registers conn as captainID's connection. Any previous
// connection for the same captain is sent connectionReplaced and closed
// first (Manager.AddConnection's own behaviour).
func (r *Registry) BindCaptain(captainID string, conn *websocket.Connection) {
	r.captains.AddConnection(captainID, conn)
}

// BindPassenger registers conn as passengerID's connection.
func (r *Registry) BindPassenger(passengerID string, conn *websocket.Connection) {
	r.passengers.AddConnection(passengerID, conn)
}

// BindAdmin registers conn as adminID's connection.
func (r *Registry) BindAdmin(adminID string, conn *websocket.Connection) {
	r.admins.AddConnection(adminID, conn)
}

// UnbindCaptain removes captainID's connection and fires the disconnect
// hook so the queue manager can clear pending/queue state.
func (r *Registry) UnbindCaptain(captainID string) {
	r.captains.RemoveConnection(captainID)
	if r.onCaptainDisconnect != nil {
		r.onCaptainDisconnect(captainID)
	}
}

// UnbindPassenger removes passengerID's connection.
func (r *Registry) UnbindPassenger(passengerID string) {
	r.passengers.RemoveConnection(passengerID)
}

// UnbindAdmin removes adminID's connection.
func (r *Registry) UnbindAdmin(adminID string) {
	r.admins.RemoveConnection(adminID)
}

// UnbindIfCurrent removes id's binding for role only if conn is still the
// bound connection — the teardown path for a read loop that may have been
// replaced by a newer connect. The captain disconnect hook fires only when
// a removal actually happened.
func (r *Registry) UnbindIfCurrent(role Role, id string, conn *websocket.Connection) bool {
	m := r.managerFor(role)
	if m == nil {
		return false
	}
	removed := m.RemoveIfCurrent(id, conn)
	if removed && role == RoleCaptain && r.onCaptainDisconnect != nil {
		r.onCaptainDisconnect(id)
	}
	return removed
}

// IsOnline reports whether id currently has a bound connection for role.
func (r *Registry) IsOnline(role Role, id string) bool {
	m := r.managerFor(role)
	if m == nil {
		return false
	}
	return m.IsUserConnected(id)
}

// Send delivers message to id's connection for role, returning false if
// nobody is bound or delivery failed — the deliver-once, unreliable
// contract the Notifier relies on.
func (r *Registry) Send(role Role, id string, message interface{}) bool {
	m := r.managerFor(role)
	if m == nil || !m.IsUserConnected(id) {
		return false
	}
	return m.SendToUser(id, message) == nil
}

// CaptainCount returns the number of currently connected captains, used by
// the admin hub's tracking_stats response.
func (r *Registry) CaptainCount() int {
	return r.captains.GetConnectionCount()
}
