package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch-core/internal/dispatchcore/admin"
	"dispatch-core/internal/dispatchcore/captain"
	"dispatch-core/internal/dispatchcore/dispatcher"
	"dispatch-core/internal/dispatchcore/eventbus"
	"dispatch-core/internal/dispatchcore/location"
	"dispatch-core/internal/dispatchcore/notify"
	"dispatch-core/internal/dispatchcore/payment"
	"dispatch-core/internal/dispatchcore/presence"
	"dispatch-core/internal/dispatchcore/queue"
	"dispatch-core/internal/dispatchcore/ride"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/pkg/auth"
	"dispatch-core/pkg/config"
	"dispatch-core/pkg/db"
	"dispatch-core/pkg/logger"
	"dispatch-core/pkg/rabbitmq"
	"dispatch-core/pkg/websocket"
)

const pendingTransferRetryInterval = 5 * time.Minute

// app bundles everything the REST and WebSocket handlers share.
type app struct {
	log          logger.Logger
	cfg          *config.Config
	jwtManager   *auth.JWTManager
	presence     *presence.Registry
	settings     *settings.Store
	settingsRepo *settings.Repo
	svc          *ride.Service
	hub          *admin.Hub
}

func main() {
	log := logger.NewLogger("dispatch-service")
	log.Info("startup", "Starting dispatch service")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Error("startup", fmt.Errorf("failed to load config: %w", err))
		os.Exit(1)
	}

	pool, err := db.NewConnection(cfg, log)
	if err != nil {
		log.Error("startup", fmt.Errorf("failed to connect to database: %w", err))
		os.Exit(1)
	}
	defer pool.Close()

	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("startup", fmt.Errorf("failed to connect to RabbitMQ: %w", err))
		os.Exit(1)
	}
	defer rabbit.Close()

	// Dispatch settings: persisted singleton wins over env defaults, and a
	// fresh install seeds the row from env. Fail closed on invalid config.
	settingsRepo := settings.NewRepo(pool)
	initial, found, err := settingsRepo.Load(context.Background())
	if err != nil {
		log.Error("startup", fmt.Errorf("failed to load ride settings: %w", err))
		os.Exit(1)
	}
	if !found {
		initial = settings.FromConfig(cfg)
	}
	settingsStore, err := settings.NewStore(initial)
	if err != nil {
		log.Error("startup", fmt.Errorf("refusing to start: %w", err))
		os.Exit(1)
	}
	if !found {
		if err := settingsRepo.Save(context.Background(), initial); err != nil {
			log.Error("startup_settings_seed_failed", err)
		}
	}

	locationIndex := location.New()
	presenceReg := presence.New(log)
	notifier := notify.New(presenceReg, log)

	trips := trip.New(pool, log)
	captains := captain.NewRepository(pool)
	events := eventbus.New(rabbit, log)

	tripStillRequested := func(tripID string) bool {
		t, err := trips.ByID(context.Background(), tripID)
		return err == nil && t.Status == trip.StatusRequested
	}
	captainStillEligible := func(captainID string) bool {
		if !presenceReg.IsOnline(presence.RoleCaptain, captainID) {
			return false
		}
		c, err := captains.ByID(context.Background(), captainID)
		if err != nil {
			return false
		}
		dc := settingsStore.Get()
		return c.Eligible(dc.MinRating, dc.MinWalletBalance, dc.MaxActiveRides)
	}
	queueManager := queue.New(settingsStore, notifier, tripStillRequested, captainStillEligible, log)

	ledger := payment.New(pool, trips, captains, settingsStore, log)

	deps := dispatcher.Deps{
		Trips: trips, Locations: locationIndex, Captains: captains,
		Presence: presenceReg, Queue: queueManager, Notifier: notifier,
		Settings: settingsStore, Payment: ledger, Events: events, Log: log,
	}
	supervisor := dispatcher.NewSupervisor(trips, settingsStore, func() *dispatcher.Dispatcher {
		return dispatcher.New(deps)
	}, log)

	hub := admin.New(locationIndex, presenceReg, notifier, log)

	svc := ride.NewService(ride.Deps{
		Trips: trips, Captains: captains, Queue: queueManager,
		Notifier: notifier, Payment: ledger, Locations: locationIndex,
		Settings: settingsStore, Supervisor: supervisor, Events: events,
		AdminHub: hub, Log: log,
	})

	presenceReg.OnCaptainDisconnect(func(captainID string) {
		queueManager.OnDisconnect(captainID)
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenDuration)*time.Hour)

	a := &app{
		log:          log,
		cfg:          cfg,
		jwtManager:   jwtManager,
		presence:     presenceReg,
		settings:     settingsStore,
		settingsRepo: settingsRepo,
		svc:          svc,
		hub:          hub,
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	go supervisor.Run(runCtx)
	go hub.Run(runCtx.Done())
	go retryPendingTransfers(runCtx, ledger, log)

	adminRest := admin.NewRestHandler(log, pool)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.Health)

	mux.Handle("POST /trips", jwtManager.AuthMiddleware(http.HandlerFunc(a.CreateTrip)))
	mux.Handle("POST /trips/{trip_id}/cancel", jwtManager.AuthMiddleware(http.HandlerFunc(a.CancelTrip)))
	mux.Handle("GET /trips/{trip_id}", jwtManager.AuthMiddleware(http.HandlerFunc(a.GetTrip)))
	mux.Handle("POST /trips/{trip_id}/payment", jwtManager.AuthMiddleware(http.HandlerFunc(a.SubmitPayment)))

	mux.Handle("GET /admin/overview", jwtManager.AuthMiddleware(operationsOnly(log, http.HandlerFunc(adminRest.Overview))))
	mux.Handle("GET /admin/trips/active", jwtManager.AuthMiddleware(operationsOnly(log, http.HandlerFunc(adminRest.ActiveTrips))))
	mux.Handle("GET /admin/settings", jwtManager.AuthMiddleware(operationsOnly(log, http.HandlerFunc(a.GetSettings))))
	mux.Handle("PUT /admin/settings", jwtManager.AuthMiddleware(operationsOnly(log, http.HandlerFunc(a.UpdateSettings))))

	mux.Handle("GET /ws/captain", websocket.NewHandler(log, jwtManager, a.onCaptainConnect, auth.RoleDriver))
	mux.Handle("GET /ws/customer", websocket.NewHandler(log, jwtManager, a.onPassengerConnect, auth.RolePassenger))
	// The admin namespace admits every operations role plus principals
	// carrying the explicit location_tracking grant, so a plain role check
	// cannot gate the handshake.
	mux.Handle("GET /ws/admin", websocket.NewAuthorizedHandler(log, jwtManager, a.onAdminConnect, func(claims *auth.AppClaims) bool {
		return claims.CanTrackLocations()
	}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Services.DispatchService),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("startup", fmt.Sprintf("dispatch service listening on port %d", cfg.Services.DispatchService))
		serverErrors <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("shutdown", fmt.Errorf("server error: %w", err))
		}
	case <-stop:
		log.Info("shutdown", "Shutdown signal received. Starting graceful shutdown...")
	}

	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown", fmt.Errorf("graceful shutdown failed: %w", err))
	}
	log.Info("shutdown", "Dispatch service stopped gracefully")
}

// retryPendingTransfers drains deferred overage/commission transfers every
// five minutes as captain balances permit.
func retryPendingTransfers(ctx context.Context, ledger *payment.Ledger, log logger.Logger) {
	ticker := time.NewTicker(pendingTransferRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := ledger.RetryPendingTransfers(ctx)
			if err != nil {
				log.Error("pending_transfer_retry_failed", err)
				continue
			}
			if settled > 0 {
				log.WithFields(logger.LogFields{"settled": settled}).
					Info("pending_transfers_settled", "deferred transfers completed")
			}
		}
	}
}
