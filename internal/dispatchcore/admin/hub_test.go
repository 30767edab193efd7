package admin

import (
	"fmt"
	"testing"
	"time"

	"dispatch-core/internal/dispatchcore/location"
	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/pkg/auth"
	"dispatch-core/pkg/logger"
)

func testHub(t *testing.T) (*Hub, *location.Index) {
	t.Helper()
	log := logger.NewLogger("admin-hub-test")
	idx := location.New()
	reg := presence.New(log)
	n := notify.New(reg, log)
	return New(idx, reg, n, log), idx
}

func adminClaims(id string) *auth.AppClaims {
	return &auth.AppClaims{UserID: id, Role: auth.RoleAdmin}
}

func TestSubscribeRequiresPermission(t *testing.T) {
	h, _ := testHub(t)

	_, err := h.Subscribe(&auth.AppClaims{UserID: "u1", Role: auth.RolePassenger})
	if err != ErrNotPermitted {
		t.Fatalf("expected ErrNotPermitted for passenger, got %v", err)
	}
	_, err = h.Subscribe(&auth.AppClaims{UserID: "d0", Role: auth.RoleDriver})
	if err != ErrNotPermitted {
		t.Fatalf("expected ErrNotPermitted for unpermissioned driver, got %v", err)
	}

	driver := &auth.AppClaims{
		UserID: "d1", Role: auth.RoleDriver,
		Permissions: []auth.Permission{auth.PermissionLocationTracking},
	}
	if _, err := h.Subscribe(driver); err != nil {
		t.Fatalf("expected location_tracking grant to permit subscription, got %v", err)
	}

	for i, role := range []auth.Role{auth.RoleAdmin, auth.RoleDispatcher, auth.RoleManager, auth.RoleSupport} {
		claims := &auth.AppClaims{UserID: fmt.Sprintf("ops-%d", i), Role: role}
		if _, err := h.Subscribe(claims); err != nil {
			t.Fatalf("expected %s role to permit subscription, got %v", role, err)
		}
	}
}

func TestSubscribeEnforcesSessionCap(t *testing.T) {
	h, _ := testHub(t)

	for i := 0; i < maxTrackingSessions; i++ {
		if _, err := h.Subscribe(adminClaims(fmt.Sprintf("admin-%d", i))); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}

	if _, err := h.Subscribe(adminClaims("one-too-many")); err != ErrTooManySessions {
		t.Fatalf("expected ErrTooManySessions at cap, got %v", err)
	}

	// A resubscribe by an existing admin replaces their session and must not
	// count against the cap.
	if _, err := h.Subscribe(adminClaims("admin-0")); err != nil {
		t.Fatalf("expected resubscribe to succeed at cap, got %v", err)
	}
	if got := h.SessionCount(); got != maxTrackingSessions {
		t.Fatalf("expected %d sessions after resubscribe, got %d", maxTrackingSessions, got)
	}
}

func TestUnsubscribeEndsSession(t *testing.T) {
	h, _ := testHub(t)
	if _, err := h.Subscribe(adminClaims("a1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.Unsubscribe("a1")
	if got := h.SessionCount(); got != 0 {
		t.Fatalf("expected 0 sessions, got %d", got)
	}
}

func TestExpireOnceReportsStaleCaptainsExactlyOnce(t *testing.T) {
	h, idx := testHub(t)
	if err := idx.Upsert("captain-1", 33.3, 44.4); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if got := h.expireOnce(time.Now()); got != 0 {
		t.Fatalf("fresh position must not expire, got %d", got)
	}

	later := time.Now().Add(2 * locationExpiry)
	if got := h.expireOnce(later); got != 1 {
		t.Fatalf("expected 1 expiry, got %d", got)
	}
	if got := h.expireOnce(later); got != 0 {
		t.Fatalf("expected stale captain reported only once, got %d", got)
	}

	// A fresh update clears staleness so a later silence is reported again.
	h.OnLocationUpdate("captain-1", 33.3, 44.4)
	if err := idx.Upsert("captain-1", 33.3, 44.4); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := h.expireOnce(time.Now().Add(2 * locationExpiry)); got != 1 {
		t.Fatalf("expected re-expiry after fresh update, got %d", got)
	}
}

func TestSnapshotExcludesStaleCaptains(t *testing.T) {
	h, idx := testHub(t)
	if err := idx.Upsert("fresh", 33.3, 44.4); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert("gone", 33.4, 44.5); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	h.mu.Lock()
	h.stale["gone"] = true
	h.mu.Unlock()

	snap := h.CurrentLocations()
	if snap.Count != 1 {
		t.Fatalf("expected stale captain excluded from snapshot, got count %d", snap.Count)
	}
	if snap.Data[0].CaptainID != "fresh" {
		t.Fatalf("expected fresh captain in snapshot, got %s", snap.Data[0].CaptainID)
	}
}

func TestStatsCountsSessionsAndTrackedCaptains(t *testing.T) {
	h, idx := testHub(t)
	if _, err := h.Subscribe(adminClaims("a1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := idx.Upsert("c1", 33.3, 44.4); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stats := h.Stats()
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected 1 active session, got %d", stats.ActiveSessions)
	}
	if stats.TrackedCaptains != 1 {
		t.Fatalf("expected 1 tracked captain, got %d", stats.TrackedCaptains)
	}
}
