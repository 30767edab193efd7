package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Websocket struct {
		Port int
	}
	Services struct {
		DispatchService int
		AuthService     int
	}
	Auth struct {
		JWTSecret     string
		TokenDuration int // hours
	}
	// Dispatch holds the *initial* values for the runtime-mutable
	// DispatchConfig (see internal/dispatchcore/settings). Changing these
	// env vars only takes effect on restart; live changes go through the
	// settings.Store instead.
	Dispatch struct {
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
}

func LoadConfig(filename string) (*Config, error) {
	if err := loadEnvFile(filename); err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "dispatch_user")
	cfg.DB.Password = getEnv("DB_PASS", "dispatch_pass")
	cfg.DB.Database = getEnv("DB_NAME", "dispatch_db")
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.Websocket.Port = getEnvAsInt("WEBSOCKET_PORT", 8080)
	cfg.Services.DispatchService = getEnvAsInt("DISPATCH_SERVICE_PORT", 3000)
	cfg.Services.AuthService = getEnvAsInt("AUTH_SERVICE_PORT", 3005)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	cfg.Auth.TokenDuration = getEnvAsInt("TOKEN_DURATION_HOURS", 24)

	cfg.Dispatch.InitialRadiusKm = getEnvAsFloat("INITIAL_RADIUS_KM", 2)
	cfg.Dispatch.MaxRadiusKm = getEnvAsFloat("MAX_RADIUS_KM", 10)
	cfg.Dispatch.RadiusIncrementKm = getEnvAsFloat("RADIUS_INCREMENT_KM", 1)
	cfg.Dispatch.NotificationTimeoutSec = getEnvAsInt("NOTIFICATION_TIMEOUT_SEC", 15)
	cfg.Dispatch.MaxDispatchTimeSec = getEnvAsInt("MAX_DISPATCH_TIME_SEC", 300)
	cfg.Dispatch.GraceAfterMaxRadiusSec = getEnvAsInt("GRACE_AFTER_MAX_RADIUS_SEC", 30)
	cfg.Dispatch.MaxQueueLength = getEnvAsInt("MAX_QUEUE_LENGTH", 10)
	cfg.Dispatch.QueueProcessingDelayMs = getEnvAsInt("QUEUE_PROCESSING_DELAY_MS", 2000)
	cfg.Dispatch.QueueTimeoutMultiplier = getEnvAsFloat("QUEUE_TIMEOUT_MULTIPLIER", 1.5)
	cfg.Dispatch.MinRating = getEnvAsFloat("MIN_RATING", 3.5)
	cfg.Dispatch.MinWalletBalance = getEnvAsInt64("MIN_WALLET_BALANCE", 0)
	cfg.Dispatch.MaxActiveRides = getEnvAsInt("MAX_ACTIVE_RIDES", 1)
	cfg.Dispatch.MainVaultDeductionRate = getEnvAsFloat("MAIN_VAULT_DEDUCTION_RATE", 0.20)
	cfg.Dispatch.CommissionRate = getEnvAsFloat("COMMISSION_RATE", 0.15)
	cfg.Dispatch.BaseFare = getEnvAsInt64("BASE_FARE", 1000)
	cfg.Dispatch.PricePerKm = getEnvAsInt64("PRICE_PER_KM", 250)
	cfg.Dispatch.MinRidePrice = getEnvAsInt64("MIN_RIDE_PRICE", 1000)
	cfg.Dispatch.MaxRidePrice = getEnvAsInt64("MAX_RIDE_PRICE", 500000)

	return cfg, nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// No .env file is not fatal; env vars / defaults carry the day.
			return nil
		}
		return fmt.Errorf("could not open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set env var %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}
