// Package settings holds the single process-wide dispatch configuration as
// a typed, validated, runtime-mutable value object, range-checked at load
// and on every subsequent update. pkg/config supplies only the starting
// values; the live copy lives in Store and is persisted as the singleton
// ride_settings row.
package settings

import (
	"fmt"
	"sync"

	"dispatch-core/pkg/config"
)

// DispatchConfig is the runtime-tunable dispatch configuration.
type DispatchConfig struct {
	InitialRadiusKm        float64
	MaxRadiusKm            float64
	RadiusIncrementKm      float64
	NotificationTimeoutSec int
	MaxDispatchTimeSec     int
	GraceAfterMaxRadiusSec int
	MaxQueueLength         int
	QueueProcessingDelayMs int
	QueueTimeoutMultiplier float64
	MinRating              float64
	MinWalletBalance       int64
	MaxActiveRides         int
	MainVaultDeductionRate float64
	CommissionRate         float64
	BaseFare               int64
	PricePerKm             int64
	MinRidePrice           int64
	MaxRidePrice           int64
}

// FromConfig builds the initial DispatchConfig from the process's static
// config (pkg/config's Dispatch.* fields, loaded from env/.env).
func FromConfig(cfg *config.Config) DispatchConfig {
	d := cfg.Dispatch
	return DispatchConfig{
		InitialRadiusKm:        d.InitialRadiusKm,
		MaxRadiusKm:            d.MaxRadiusKm,
		RadiusIncrementKm:      d.RadiusIncrementKm,
		NotificationTimeoutSec: d.NotificationTimeoutSec,
		MaxDispatchTimeSec:     d.MaxDispatchTimeSec,
		GraceAfterMaxRadiusSec: d.GraceAfterMaxRadiusSec,
		MaxQueueLength:         d.MaxQueueLength,
		QueueProcessingDelayMs: d.QueueProcessingDelayMs,
		QueueTimeoutMultiplier: d.QueueTimeoutMultiplier,
		MinRating:              d.MinRating,
		MinWalletBalance:       d.MinWalletBalance,
		MaxActiveRides:         d.MaxActiveRides,
		MainVaultDeductionRate: d.MainVaultDeductionRate,
		CommissionRate:         d.CommissionRate,
		BaseFare:               d.BaseFare,
		PricePerKm:             d.PricePerKm,
		MinRidePrice:           d.MinRidePrice,
		MaxRidePrice:           d.MaxRidePrice,
	}
}

// Validate fails closed if any field is outside its legal range; the
// service refuses to start on an invalid config.
func (c DispatchConfig) Validate() error {
	switch {
	case c.InitialRadiusKm < 0.5 || c.InitialRadiusKm > 5:
		return fmt.Errorf("initialRadiusKm %.2f out of range [0.5,5]", c.InitialRadiusKm)
	case c.MaxRadiusKm < c.InitialRadiusKm || c.MaxRadiusKm > 50:
		return fmt.Errorf("maxRadiusKm %.2f out of range [initialRadiusKm,50]", c.MaxRadiusKm)
	case c.RadiusIncrementKm <= 0:
		return fmt.Errorf("radiusIncrementKm must be > 0")
	case c.NotificationTimeoutSec < 5 || c.NotificationTimeoutSec > 60:
		return fmt.Errorf("notificationTimeoutSec %d out of range [5,60]", c.NotificationTimeoutSec)
	case c.MaxDispatchTimeSec < 60 || c.MaxDispatchTimeSec > 1800:
		return fmt.Errorf("maxDispatchTimeSec %d out of range [60,1800]", c.MaxDispatchTimeSec)
	case c.GraceAfterMaxRadiusSec < 0:
		return fmt.Errorf("graceAfterMaxRadiusSec must be >= 0")
	case c.MaxQueueLength < 1 || c.MaxQueueLength > 20:
		return fmt.Errorf("maxQueueLength %d out of range [1,20]", c.MaxQueueLength)
	case c.QueueProcessingDelayMs < 1000 || c.QueueProcessingDelayMs > 10000:
		return fmt.Errorf("queueProcessingDelayMs %d out of range [1000,10000]", c.QueueProcessingDelayMs)
	case c.MinRating < 0:
		return fmt.Errorf("minRating must be >= 0")
	case c.MaxActiveRides < 1:
		return fmt.Errorf("maxActiveRides must be >= 1")
	}
	return nil
}

// Store holds the live, validated DispatchConfig plus the set of
// subscribers (connected captains) to notify on change.
type Store struct {
	mu   sync.RWMutex
	cur  DispatchConfig
	subs map[string]chan DispatchConfig
}

// NewStore creates a Store seeded with initial, which must already validate.
func NewStore(initial DispatchConfig) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial dispatch config: %w", err)
	}
	return &Store{cur: initial, subs: make(map[string]chan DispatchConfig)}, nil
}

// Get returns the current config by value.
func (s *Store) Get() DispatchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update validates next and, if legal, swaps it in and fans it out to
// every subscribed connection.
func (s *Store) Update(next DispatchConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = next
	subs := make([]chan DispatchConfig, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
			// Subscriber's buffer is full; it will pick up the latest
			// value on its next Get() instead of this particular push.
		}
	}
	return nil
}

// Subscribe registers id for config-change notifications, returning a
// buffered channel of future values. Call Unsubscribe on disconnect. A
// resubscribe under the same id closes the previous channel, ending its
// consumer.
func (s *Store) Subscribe(id string) <-chan DispatchConfig {
	ch := make(chan DispatchConfig, 1)
	s.mu.Lock()
	if prev, ok := s.subs[id]; ok {
		close(prev)
	}
	s.subs[id] = ch
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes id's config-change channel.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}
