package dispatcher

import (
	"context"
	"sync"
	"time"

	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/pkg/logger"
)

const (
	minSweepInterval = 30 * time.Second
	maxSweepInterval = 120 * time.Second
)

// Supervisor is the background sweep that picks up orphaned requested
// trips and starts Dispatchers, enforcing one Dispatcher per trip via a
// process-local in-flight set on top of the store's persisted dispatching
// flag.
type Supervisor struct {
	trips    *trip.Store
	settings *settings.Store
	factory  func() *Dispatcher
	log      logger.Logger

	breaker  breaker
	inFlight sync.Map // tripID -> context.CancelFunc
}

// NewSupervisor creates a Supervisor. factory must return a fresh
// Dispatcher sharing the process's collaborators (Dispatcher itself holds
// no per-run mutable state, so a single shared instance is fine too, but a
// factory keeps the door open for per-run instrumentation).
func NewSupervisor(trips *trip.Store, st *settings.Store, factory func() *Dispatcher, log logger.Logger) *Supervisor {
	return &Supervisor{trips: trips, settings: st, factory: factory, log: log}
}

// Run drives the adaptive sweep loop until ctx is cancelled. A sweep that
// finds work reruns sooner; a dry sweep backs off toward the 120s ceiling.
func (s *Supervisor) Run(ctx context.Context) {
	interval := minSweepInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		found := s.sweepOnce(ctx)
		if found > 0 {
			interval = minSweepInterval
		} else {
			interval = time.Duration(float64(interval) * 1.5)
			if interval > maxSweepInterval {
				interval = maxSweepInterval
			}
		}
	}
}

// sweepOnce claims every orphaned requested trip it can and spawns a
// Dispatcher for each, returning how many it claimed. Trips older than
// maxDispatchTimeSec+graceAfterMaxRadiusSec are rejected outright.
func (s *Supervisor) sweepOnce(ctx context.Context) int {
	if s.breaker.open() {
		s.log.Debug("supervisor_sweep_skipped", "circuit breaker open")
		return 0
	}

	trips, err := s.trips.ListRequested(ctx, s.inFlightIDs())
	if err != nil {
		s.breaker.recordFailure()
		s.log.Error("supervisor_sweep_failed", err)
		return 0
	}

	cfg := s.settings.Get()
	maxAge := time.Duration(cfg.MaxDispatchTimeSec+cfg.GraceAfterMaxRadiusSec) * time.Second

	claimed := 0
	for _, t := range trips {
		if time.Since(t.CreatedAt) > maxAge {
			if _, err := s.trips.MarkNotApproved(ctx, t.ID, "dispatch_timeout"); err != nil {
				s.log.Error("supervisor_expire_failed", err)
			}
			continue
		}
		if s.Claim(ctx, t.ID) {
			claimed++
		}
	}
	s.breaker.recordSuccess()
	return claimed
}

// Claim sets dispatching=true persisted and adds tripID to the in-flight
// set, then spawns a Dispatcher goroutine for it. Returns false if the
// trip was already claimed by this process or another.
func (s *Supervisor) Claim(ctx context.Context, tripID string) bool {
	if _, already := s.inFlight.Load(tripID); already {
		return false
	}

	ok, err := s.trips.ClaimDispatch(ctx, tripID)
	if err != nil {
		s.log.Error("supervisor_claim_failed", err)
		return false
	}
	if !ok {
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if _, loaded := s.inFlight.LoadOrStore(tripID, cancel); loaded {
		cancel()
		return false
	}

	go s.runDispatcher(runCtx, tripID)
	return true
}

// Resume starts a Dispatcher for a trip whose dispatching flag the caller's
// own CAS already set — a driver cancel resets a trip straight back to
// requested with dispatching=true, so the persisted claim is taken and only
// the process-local registration plus the goroutine are missing.
func (s *Supervisor) Resume(tripID string) bool {
	runCtx, cancel := context.WithCancel(context.Background())
	if _, loaded := s.inFlight.LoadOrStore(tripID, cancel); loaded {
		cancel()
		return false
	}
	go s.runDispatcher(runCtx, tripID)
	return true
}

// CancelDispatch aborts an in-flight Dispatcher's waits immediately, used
// when a passenger cancels a trip that is still being dispatched.
func (s *Supervisor) CancelDispatch(tripID string) {
	if v, ok := s.inFlight.Load(tripID); ok {
		v.(context.CancelFunc)()
	}
}

func (s *Supervisor) runDispatcher(ctx context.Context, tripID string) {
	defer s.inFlight.Delete(tripID)

	d := s.factory()
	if err := d.Run(ctx, tripID); err != nil {
		s.breaker.recordFailure()
		s.log.WithFields(logger.LogFields{"trip_id": tripID}).Error("dispatch_run_failed", err)
		return
	}
	s.breaker.recordSuccess()
}

func (s *Supervisor) inFlightIDs() []string {
	// Non-nil even when empty: a nil slice reaches the store as a NULL
	// array and `NOT (id = ANY(NULL))` filters every row out.
	ids := make([]string, 0)
	s.inFlight.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
