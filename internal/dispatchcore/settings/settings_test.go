package settings

import (
	"testing"
	"time"
)

func validConfig() DispatchConfig {
	return DispatchConfig{
		InitialRadiusKm: 2, MaxRadiusKm: 10, RadiusIncrementKm: 1,
		NotificationTimeoutSec: 15, MaxDispatchTimeSec: 300,
		GraceAfterMaxRadiusSec: 30, MaxQueueLength: 10,
		QueueProcessingDelayMs: 2000, QueueTimeoutMultiplier: 1.5,
		MinRating: 3.5, MaxActiveRides: 1,
		MainVaultDeductionRate: 0.20, CommissionRate: 0.15,
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DispatchConfig)
	}{
		{"initial radius too small", func(c *DispatchConfig) { c.InitialRadiusKm = 0.1 }},
		{"initial radius too large", func(c *DispatchConfig) { c.InitialRadiusKm = 6 }},
		{"max radius below initial", func(c *DispatchConfig) { c.MaxRadiusKm = 1 }},
		{"max radius above ceiling", func(c *DispatchConfig) { c.MaxRadiusKm = 51 }},
		{"zero increment", func(c *DispatchConfig) { c.RadiusIncrementKm = 0 }},
		{"notification timeout too short", func(c *DispatchConfig) { c.NotificationTimeoutSec = 4 }},
		{"notification timeout too long", func(c *DispatchConfig) { c.NotificationTimeoutSec = 61 }},
		{"dispatch time too short", func(c *DispatchConfig) { c.MaxDispatchTimeSec = 59 }},
		{"dispatch time too long", func(c *DispatchConfig) { c.MaxDispatchTimeSec = 1801 }},
		{"negative grace", func(c *DispatchConfig) { c.GraceAfterMaxRadiusSec = -1 }},
		{"queue length zero", func(c *DispatchConfig) { c.MaxQueueLength = 0 }},
		{"queue length too large", func(c *DispatchConfig) { c.MaxQueueLength = 21 }},
		{"processing delay too short", func(c *DispatchConfig) { c.QueueProcessingDelayMs = 999 }},
		{"processing delay too long", func(c *DispatchConfig) { c.QueueProcessingDelayMs = 10001 }},
		{"zero max active rides", func(c *DispatchConfig) { c.MaxActiveRides = 0 }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestNewStoreFailsClosedOnInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.MaxRadiusKm = 0
	if _, err := NewStore(cfg); err == nil {
		t.Fatal("expected NewStore to refuse invalid config")
	}
}

func TestUpdateSwapsAndBroadcasts(t *testing.T) {
	st, err := NewStore(validConfig())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ch := st.Subscribe("captain-1")
	next := validConfig()
	next.MaxRadiusKm = 20

	if err := st.Update(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := st.Get().MaxRadiusKm; got != 20 {
		t.Fatalf("expected live config swapped, got maxRadiusKm=%v", got)
	}

	select {
	case got := <-ch:
		if got.MaxRadiusKm != 20 {
			t.Fatalf("expected broadcast of new config, got maxRadiusKm=%v", got.MaxRadiusKm)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive config change")
	}

	st.Unsubscribe("captain-1")
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestUpdateRejectsInvalidAndKeepsCurrent(t *testing.T) {
	st, err := NewStore(validConfig())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	bad := validConfig()
	bad.NotificationTimeoutSec = 0
	if err := st.Update(bad); err == nil {
		t.Fatal("expected invalid update to be rejected")
	}
	if got := st.Get().NotificationTimeoutSec; got != 15 {
		t.Fatalf("expected current config untouched, got %d", got)
	}
}
