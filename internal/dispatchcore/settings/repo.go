package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const settingsName = "default"

// Repo persists the DispatchConfig as the singleton ride_settings row named
// "default", so a restart comes back with the last live values instead of
// the env defaults.
type Repo struct {
	db *pgxpool.Pool
}

// NewRepo creates a Repo backed by pool.
func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// Load reads the persisted config. found is false when no row exists yet, in
// which case the caller seeds from the process env defaults instead.
func (r *Repo) Load(ctx context.Context) (cfg DispatchConfig, found bool, err error) {
	row := r.db.QueryRow(ctx, `
		SELECT initial_radius_km, max_radius_km, radius_increment_km,
			notification_timeout_sec, max_dispatch_time_sec, grace_after_max_radius_sec,
			max_queue_length, queue_processing_delay_ms, queue_timeout_multiplier,
			min_rating, min_wallet_balance, max_active_rides,
			main_vault_deduction_rate, commission_rate,
			base_fare, price_per_km, min_ride_price, max_ride_price
		FROM ride_settings WHERE name = $1
	`, settingsName)
	err = row.Scan(
		&cfg.InitialRadiusKm, &cfg.MaxRadiusKm, &cfg.RadiusIncrementKm,
		&cfg.NotificationTimeoutSec, &cfg.MaxDispatchTimeSec, &cfg.GraceAfterMaxRadiusSec,
		&cfg.MaxQueueLength, &cfg.QueueProcessingDelayMs, &cfg.QueueTimeoutMultiplier,
		&cfg.MinRating, &cfg.MinWalletBalance, &cfg.MaxActiveRides,
		&cfg.MainVaultDeductionRate, &cfg.CommissionRate,
		&cfg.BaseFare, &cfg.PricePerKm, &cfg.MinRidePrice, &cfg.MaxRidePrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DispatchConfig{}, false, nil
	}
	if err != nil {
		return DispatchConfig{}, false, fmt.Errorf("load ride settings: %w", err)
	}
	return cfg, true, nil
}

// Save upserts the singleton row with cfg's values.
func (r *Repo) Save(ctx context.Context, cfg DispatchConfig) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ride_settings (
			name, initial_radius_km, max_radius_km, radius_increment_km,
			notification_timeout_sec, max_dispatch_time_sec, grace_after_max_radius_sec,
			max_queue_length, queue_processing_delay_ms, queue_timeout_multiplier,
			min_rating, min_wallet_balance, max_active_rides,
			main_vault_deduction_rate, commission_rate,
			base_fare, price_per_km, min_ride_price, max_ride_price
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (name) DO UPDATE SET
			initial_radius_km = $2, max_radius_km = $3, radius_increment_km = $4,
			notification_timeout_sec = $5, max_dispatch_time_sec = $6, grace_after_max_radius_sec = $7,
			max_queue_length = $8, queue_processing_delay_ms = $9, queue_timeout_multiplier = $10,
			min_rating = $11, min_wallet_balance = $12, max_active_rides = $13,
			main_vault_deduction_rate = $14, commission_rate = $15,
			base_fare = $16, price_per_km = $17, min_ride_price = $18, max_ride_price = $19
	`,
		settingsName, cfg.InitialRadiusKm, cfg.MaxRadiusKm, cfg.RadiusIncrementKm,
		cfg.NotificationTimeoutSec, cfg.MaxDispatchTimeSec, cfg.GraceAfterMaxRadiusSec,
		cfg.MaxQueueLength, cfg.QueueProcessingDelayMs, cfg.QueueTimeoutMultiplier,
		cfg.MinRating, cfg.MinWalletBalance, cfg.MaxActiveRides,
		cfg.MainVaultDeductionRate, cfg.CommissionRate,
		cfg.BaseFare, cfg.PricePerKm, cfg.MinRidePrice, cfg.MaxRidePrice,
	)
	if err != nil {
		return fmt.Errorf("save ride settings: %w", err)
	}
	return nil
}
