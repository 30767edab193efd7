package ride

import "dispatch-core/internal/dispatchcore/settings"

const averageCitySpeedKmh = 40.0

// EstimateFare prices a trip as baseFare + pricePerKm * distance, clamped
// to the configured min/max ride price. Amounts are integer minor units.
func EstimateFare(cfg settings.DispatchConfig, distanceKm float64) int64 {
	fare := cfg.BaseFare + int64(distanceKm*float64(cfg.PricePerKm))
	if cfg.MinRidePrice > 0 && fare < cfg.MinRidePrice {
		fare = cfg.MinRidePrice
	}
	if cfg.MaxRidePrice > 0 && fare > cfg.MaxRidePrice {
		fare = cfg.MaxRidePrice
	}
	return fare
}

// EstimateDurationSec converts a trip distance into an expected duration at
// city average speed.
func EstimateDurationSec(distanceKm float64) int {
	return int(distanceKm / averageCitySpeedKmh * 3600)
}
