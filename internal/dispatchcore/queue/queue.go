// Package queue implements the per-captain single-flight offer state: at
// most one "pending" ride offer per captain plus a bounded, priority-aware
// FIFO of further offers. State for one captain lives behind that captain's
// own sync.Mutex inside a coarser sync.RWMutex-guarded map, so captains
// never serialize against each other. Each captain has a single *time.Timer
// slot, Stop-and-replaced on every send, with cancellation symmetrical to
// creation.
package queue

import (
	"errors"
	"sync"
	"time"

	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/wire"
	"dispatch-core/pkg/logger"
)

// ErrNotNotified is returned by OnReject when the captain has no matching
// pending ride — either they were never notified, or it already resolved.
var ErrNotNotified = errors.New("captain was not notified for this ride")

// Result is the outcome of Send.
type Result int

const (
	ResultSent Result = iota
	ResultQueued
	ResultDropped
)

// Ride is the snapshot handed to a captain via newRide, plus the bookkeeping
// Send/processNext need to re-rank and re-check it later without touching
// the trip store on every tick.
type Ride struct {
	TripID     string
	FareAmount int64
	DistanceKm float64
	Snapshot   wire.NewRidePayload
	QueuedAt   time.Time
}

// TripChecker reports whether a trip is still in status=requested, used
// before resending a popped queue item.
type TripChecker func(tripID string) bool

// EligibilityChecker reports whether a captain is still online and
// eligible, used the same way.
type EligibilityChecker func(captainID string) bool

type pendingRide struct {
	tripID  string
	sentAt  time.Time
	timeout time.Duration
	attempt int
}

type captainState struct {
	mu      sync.Mutex
	pending *pendingRide
	queue   []Ride
	timer   *time.Timer
}

// Manager owns every captain's pending/queue state.
type Manager struct {
	mapMu    sync.RWMutex
	captains map[string]*captainState

	settings   *settings.Store
	notifier   *notify.Notifier
	tripOK     TripChecker
	captainOK  EligibilityChecker
	log        logger.Logger
}

// New creates a Manager. tripOK and captainOK are narrow predicates
// injected at construction; the Manager never holds a direct handle to the
// trip store or captain repository.
func New(st *settings.Store, notifier *notify.Notifier, tripOK TripChecker, captainOK EligibilityChecker, log logger.Logger) *Manager {
	return &Manager{
		captains:  make(map[string]*captainState),
		settings:  st,
		notifier:  notifier,
		tripOK:    tripOK,
		captainOK: captainOK,
		log:       log,
	}
}

func (m *Manager) stateFor(captainID string) *captainState {
	m.mapMu.RLock()
	st, ok := m.captains[captainID]
	m.mapMu.RUnlock()
	if ok {
		return st
	}

	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	if st, ok = m.captains[captainID]; ok {
		return st
	}
	st = &captainState{}
	m.captains[captainID] = st
	return st
}

// HasPending reports whether captainID currently has an outstanding offer.
func (m *Manager) HasPending(captainID string) bool {
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending != nil
}

// PendingTrip returns the tripID of captainID's outstanding offer, if any.
// The ride service consults this before honoring an acceptRide so a captain
// can only take a trip they were actually notified for.
func (m *Manager) PendingTrip(captainID string) (string, bool) {
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil {
		return "", false
	}
	return st.pending.tripID, true
}

// Send offers ride to captainID: sent immediately if the captain is idle,
// otherwise queued (dropping the oldest queued item if already at
// maxQueueLength). Returns the outcome and, for ResultQueued, the new
// queue length as position.
func (m *Manager) Send(captainID string, ride Ride) (Result, int) {
	cfg := m.settings.Get()
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending == nil {
		m.dispatchLocked(captainID, st, ride, time.Duration(cfg.NotificationTimeoutSec)*time.Second, 1)
		return ResultSent, 0
	}

	if ride.QueuedAt.IsZero() {
		ride.QueuedAt = time.Now()
	}
	st.queue = append(st.queue, ride)
	dropped := false
	if len(st.queue) > cfg.MaxQueueLength {
		st.queue = st.queue[1:]
		dropped = true
	}
	if dropped {
		m.log.WithFields(logger.LogFields{"captain_id": captainID}).
			Debug("queue_drop_oldest", "queue full, dropped oldest entry")
	}
	return ResultQueued, len(st.queue)
}

// dispatchLocked marks ride pending and emits newRide. Caller must hold st.mu.
func (m *Manager) dispatchLocked(captainID string, st *captainState, ride Ride, timeout time.Duration, attempt int) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.pending = &pendingRide{tripID: ride.TripID, sentAt: time.Now(), timeout: timeout, attempt: attempt}
	tripID := ride.TripID
	st.timer = time.AfterFunc(timeout, func() {
		m.OnTimeout(captainID, tripID)
	})
	m.notifier.ToCaptain(captainID, wire.EventNewRide, ride.Snapshot)
}

// OnAccept clears captainID's pending ride iff it matches tripID and
// discards the entire queue — the captain is now busy.
func (m *Manager) OnAccept(captainID, tripID string) {
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending != nil && st.pending.tripID == tripID {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.pending = nil
	}
	st.queue = nil
}

// OnReject clears the pending ride iff it matches tripID and schedules
// ProcessNext after queueProcessingDelayMs. Returns ErrNotNotified if the
// captain had no matching pending ride; a second reject of an
// already-resolved ride is a no-op and does not advance the queue again.
func (m *Manager) OnReject(captainID, tripID, reason string) error {
	return m.clearPendingAndAdvance(captainID, tripID)
}

// OnTimeout is OnReject with an implicit reason of "timeout".
func (m *Manager) OnTimeout(captainID, tripID string) {
	_ = m.clearPendingAndAdvance(captainID, tripID)
}

func (m *Manager) clearPendingAndAdvance(captainID, tripID string) error {
	st := m.stateFor(captainID)
	st.mu.Lock()
	matched := st.pending != nil && st.pending.tripID == tripID
	if matched {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.pending = nil
	}
	st.mu.Unlock()

	if !matched {
		return ErrNotNotified
	}

	delay := time.Duration(m.settings.Get().QueueProcessingDelayMs) * time.Millisecond
	time.AfterFunc(delay, func() { m.ProcessNext(captainID) })
	return nil
}

// OnDisconnect clears pending and the entire queue, cancelling the
// captain's outstanding timer in one sweep.
func (m *Manager) OnDisconnect(captainID string) {
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pending = nil
	st.queue = nil
}

// ProcessNext pops the highest-priority queued item (priority is
// recomputed only at pop time, bounding per-enqueue work) and sends it if
// the trip is still requested and the captain still eligible; otherwise it
// keeps popping until the queue is dry or a send succeeds.
func (m *Manager) ProcessNext(captainID string) {
	cfg := m.settings.Get()
	st := m.stateFor(captainID)

	for {
		st.mu.Lock()
		if st.pending != nil || len(st.queue) == 0 {
			st.mu.Unlock()
			return
		}

		idx := bestIndex(st.queue)
		ride := st.queue[idx]
		st.queue = append(st.queue[:idx], st.queue[idx+1:]...)

		if !m.tripOK(ride.TripID) || !m.captainOK(captainID) {
			st.mu.Unlock()
			continue
		}

		timeout := time.Duration(cfg.NotificationTimeoutSec) * time.Second
		if time.Since(ride.QueuedAt) > 30*time.Second {
			mult := cfg.QueueTimeoutMultiplier
			if mult > 2 {
				mult = 2
			}
			timeout = time.Duration(float64(timeout) * mult)
		}
		m.dispatchLocked(captainID, st, ride, timeout, 1)
		st.mu.Unlock()
		return
	}
}

// QueueLen reports how many rides are currently queued behind captainID's
// pending ride, used by tests and admin diagnostics.
func (m *Manager) QueueLen(captainID string) int {
	st := m.stateFor(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// priority ranks queued offers: higher fare and nearer captains rank
// higher, with age as a tie-breaker that guarantees eventual promotion.
func priority(r Ride) float64 {
	age := time.Since(r.QueuedAt).Seconds()
	return float64(r.FareAmount)/1000 - r.DistanceKm*2 + age/30
}

func bestIndex(queue []Ride) int {
	best := 0
	bestP := priority(queue[0])
	for i := 1; i < len(queue); i++ {
		if p := priority(queue[i]); p > bestP {
			best, bestP = i, p
		}
	}
	return best
}
