package ride

import (
	"testing"

	"dispatch-core/internal/dispatchcore/settings"
)

func fareConfig() settings.DispatchConfig {
	return settings.DispatchConfig{
		BaseFare:     1000,
		PricePerKm:   250,
		MinRidePrice: 1500,
		MaxRidePrice: 10000,
	}
}

func TestEstimateFareBasePlusDistance(t *testing.T) {
	// 1000 + 10*250 = 3500, inside the clamps.
	if got := EstimateFare(fareConfig(), 10); got != 3500 {
		t.Fatalf("expected 3500, got %d", got)
	}
}

func TestEstimateFareClampsToMinimum(t *testing.T) {
	// 1000 + 1*250 = 1250, clamped up to 1500.
	if got := EstimateFare(fareConfig(), 1); got != 1500 {
		t.Fatalf("expected min clamp 1500, got %d", got)
	}
}

func TestEstimateFareClampsToMaximum(t *testing.T) {
	// 1000 + 100*250 = 26000, clamped down to 10000.
	if got := EstimateFare(fareConfig(), 100); got != 10000 {
		t.Fatalf("expected max clamp 10000, got %d", got)
	}
}

func TestEstimateFareNoClampsWhenUnset(t *testing.T) {
	cfg := fareConfig()
	cfg.MinRidePrice = 0
	cfg.MaxRidePrice = 0
	if got := EstimateFare(cfg, 100); got != 26000 {
		t.Fatalf("expected unclamped 26000, got %d", got)
	}
}

func TestEstimateDurationAtCitySpeed(t *testing.T) {
	// 40 km at 40 km/h is an hour.
	if got := EstimateDurationSec(40); got != 3600 {
		t.Fatalf("expected 3600s, got %d", got)
	}
}
