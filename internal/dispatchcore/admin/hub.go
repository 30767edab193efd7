// Package admin serves the operations surface: live captain-location
// fan-out to subscribed admin connections with session lifecycle and a
// staleness sweep, plus the REST endpoints behind the dashboard (overview
// metrics and the active-trips listing).
package admin

import (
	"errors"
	"sync"
	"time"

	"dispatch-core/internal/dispatchcore/location"
	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/auth"
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/uuid"
)

// ErrNotPermitted is returned when a principal lacks both an operations
// role and the explicit location_tracking permission.
var ErrNotPermitted = errors.New("location tracking not permitted")

// ErrTooManySessions is returned when the tracking-session cap is reached.
var ErrTooManySessions = errors.New("maximum tracking sessions reached")

const (
	maxTrackingSessions = 10
	locationExpiry      = 60 * time.Second
	sweepInterval       = 15 * time.Second
)

type session struct {
	id           string
	adminID      string
	startedAt    time.Time
	focusCaptain string
}

// Hub fans captain location changes out to subscribed admins.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session // adminID -> session
	stale    map[string]bool     // captains already reported removed

	index    *location.Index
	presence *presence.Registry
	notifier *notify.Notifier
	log      logger.Logger
}

// New creates a Hub with no subscriptions.
func New(idx *location.Index, reg *presence.Registry, n *notify.Notifier, log logger.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		stale:    make(map[string]bool),
		index:    idx,
		presence: reg,
		notifier: n,
		log:      log,
	}
}

// Subscribe starts a tracking session for the authenticated principal and
// sends the current position snapshot. Permissioned: any operations role
// (admin, dispatcher, manager, support), or the explicit location_tracking
// grant. A resubscribe by the same principal replaces their previous
// session rather than counting against the cap twice.
func (h *Hub) Subscribe(claims *auth.AppClaims) (string, error) {
	if !claims.CanTrackLocations() {
		return "", ErrNotPermitted
	}

	h.mu.Lock()
	if _, resub := h.sessions[claims.UserID]; !resub && len(h.sessions) >= maxTrackingSessions {
		h.mu.Unlock()
		return "", ErrTooManySessions
	}
	s := &session{
		id:        uuid.MustNewV4().String(),
		adminID:   claims.UserID,
		startedAt: time.Now(),
	}
	h.sessions[claims.UserID] = s
	h.mu.Unlock()

	h.notifier.ToAdmin(claims.UserID, wire.EventCaptainLocationsInitial, h.snapshotPayload())
	h.log.WithFields(logger.LogFields{"admin_id": claims.UserID, "session_id": s.id}).
		Info("tracking_subscribed", "admin tracking session started")
	return s.id, nil
}

// Unsubscribe ends adminID's tracking session, if any.
func (h *Hub) Unsubscribe(adminID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, adminID)
}

// FocusCaptain narrows adminID's session to a single captain's updates; an
// empty captainID restores the full feed.
func (h *Hub) FocusCaptain(adminID, captainID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[adminID]; ok {
		s.focusCaptain = captainID
	}
}

// OnLocationUpdate fans a captain position change out to every active
// session (honoring focus). Called on every authenticated updateLocation.
func (h *Hub) OnLocationUpdate(captainID string, lat, lon float64) {
	h.mu.Lock()
	delete(h.stale, captainID)
	admins := h.recipientsLocked(captainID)
	h.mu.Unlock()

	payload := wire.CaptainLocationUpdatePayload{
		Type: "location_update",
		Data: &wire.CaptainLocationDTO{
			CaptainID: captainID,
			Lat:       lat,
			Lon:       lon,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	for _, adminID := range admins {
		h.notifier.ToAdmin(adminID, wire.EventCaptainLocationUpdate, payload)
	}
}

// Run drives the staleness sweep until ctx is done: captains silent for
// longer than the expiry window are reported once as location_removed.
func (h *Hub) Run(done <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.expireOnce(time.Now())
		}
	}
}

// expireOnce reports every newly stale captain, returning how many were
// reported this pass.
func (h *Hub) expireOnce(now time.Time) int {
	positions := h.index.Snapshot()

	h.mu.Lock()
	var expired []string
	for captainID, p := range positions {
		if now.Sub(p.UpdatedAt) > locationExpiry && !h.stale[captainID] {
			h.stale[captainID] = true
			expired = append(expired, captainID)
		}
	}
	admins := h.adminIDsLocked()
	h.mu.Unlock()

	for _, captainID := range expired {
		payload := wire.CaptainLocationUpdatePayload{Type: "location_removed", CaptainID: captainID}
		for _, adminID := range admins {
			h.notifier.ToAdmin(adminID, wire.EventCaptainLocationUpdate, payload)
		}
	}
	return len(expired)
}

// Stats answers get_tracking_stats.
func (h *Hub) Stats() wire.TrackingStatsPayload {
	h.mu.RLock()
	active := len(h.sessions)
	staleCount := len(h.stale)
	h.mu.RUnlock()

	tracked := len(h.index.Snapshot()) - staleCount
	if tracked < 0 {
		tracked = 0
	}
	return wire.TrackingStatsPayload{
		ActiveSessions:    active,
		TrackedCaptains:   tracked,
		ConnectedCaptains: h.presence.CaptainCount(),
	}
}

// CurrentLocations answers get_current_locations with the fresh snapshot.
func (h *Hub) CurrentLocations() wire.CaptainLocationsInitialPayload {
	return h.snapshotPayload()
}

// SessionCount reports active subscriptions, used by tests and stats.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshotPayload() wire.CaptainLocationsInitialPayload {
	positions := h.index.Snapshot()

	h.mu.RLock()
	data := make([]wire.CaptainLocationDTO, 0, len(positions))
	for captainID, p := range positions {
		if h.stale[captainID] {
			continue
		}
		data = append(data, wire.CaptainLocationDTO{
			CaptainID: captainID,
			Lat:       p.Lat,
			Lon:       p.Lon,
			UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	h.mu.RUnlock()

	return wire.CaptainLocationsInitialPayload{Data: data, Count: len(data)}
}

// recipientsLocked returns the admin IDs whose sessions want captainID's
// updates. Caller must hold h.mu.
func (h *Hub) recipientsLocked(captainID string) []string {
	out := make([]string, 0, len(h.sessions))
	for adminID, s := range h.sessions {
		if s.focusCaptain != "" && s.focusCaptain != captainID {
			continue
		}
		out = append(out, adminID)
	}
	return out
}

func (h *Hub) adminIDsLocked() []string {
	out := make([]string, 0, len(h.sessions))
	for adminID := range h.sessions {
		out = append(out, adminID)
	}
	return out
}
