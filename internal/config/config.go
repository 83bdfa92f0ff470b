package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Pending store backends.
const (
	PendingBackendMemory = "memory"
	PendingBackendRedis  = "redis"
)

// AppConfig aggregates runtime configuration. Everything is injected through
// environment variables (optionally from a .env file) with safe defaults.
type AppConfig struct {
	HTTPAddr string
	AppEnv   string

	// DBDriver selects sqlite (development) or postgres (DatabaseURL).
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// RedisAddr empty disables Redis entirely (memory pending store, no rate limit, no events).
	RedisAddr string
	RedisDB   int

	PendingBackend   string
	PendingTTL       time.Duration
	SettledMarkerTTL time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration

	BalanceUpdateRetries int

	QRSigningSecret string
	QRIssuer        string

	// Reconciler endpoints are guarded by a static admin token.
	AdminToken string

	SettleRateLimit  int
	SettleRateWindow time.Duration

	CatalogLocation *time.Location

	// Settlement events: Redis stream outbox, relayed to Kafka, consumed into notifications.
	EventsEnabled         bool
	KafkaBrokers          []string
	KafkaTopic            string
	KafkaGroupID          string
	SettlementEventStream string
	SettlementEventGroup  string
	SettlementConsumer    string

	LogLevel string
	LogFile  string
}

// Load reads and validates configuration, falling back to defaults.
func Load() (AppConfig, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg := AppConfig{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		AppEnv:                getEnv("APP_ENV", "development"),
		DBDriver:              getEnv("DB_DRIVER", "sqlite"),
		DBPath:                getEnv("DB_PATH", "points_engine.db"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		PendingBackend:        getEnv("PENDING_BACKEND", PendingBackendMemory),
		PendingTTL:            10 * time.Minute,
		SettledMarkerTTL:      24 * time.Hour,
		LockTTL:               10 * time.Second,
		LockWait:              3 * time.Second,
		BalanceUpdateRetries:  5,
		QRSigningSecret:       getEnv("QR_SIGNING_SECRET", "dev-qr-secret"),
		QRIssuer:              getEnv("QR_ISSUER", "points-engine"),
		AdminToken:            getEnv("ADMIN_TOKEN", "dev-admin-token"),
		SettleRateLimit:       30,
		SettleRateWindow:      time.Minute,
		KafkaBrokers:          splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "points-settlements"),
		KafkaGroupID:          getEnv("KAFKA_GROUP_ID", "points-notification-consumer"),
		SettlementEventStream: getEnv("SETTLEMENT_EVENT_STREAM", "points:settlement_events"),
		SettlementEventGroup:  getEnv("SETTLEMENT_EVENT_GROUP", "points-relay-group"),
		SettlementConsumer:    getEnv("SETTLEMENT_EVENT_CONSUMER", "points-relay-1"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFile:               getEnv("LOG_FILE", ""),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	if cfg.PendingTTL, err = getEnvSeconds("PENDING_TTL_SECONDS", cfg.PendingTTL); err != nil {
		return AppConfig{}, err
	}
	if cfg.SettledMarkerTTL, err = getEnvSeconds("SETTLED_MARKER_TTL_SECONDS", cfg.SettledMarkerTTL); err != nil {
		return AppConfig{}, err
	}
	if cfg.LockTTL, err = getEnvMillis("LOCK_TTL_MS", cfg.LockTTL); err != nil {
		return AppConfig{}, err
	}
	if cfg.LockWait, err = getEnvMillis("LOCK_WAIT_MS", cfg.LockWait); err != nil {
		return AppConfig{}, err
	}

	retries, err := getEnvInt("BALANCE_UPDATE_RETRIES", cfg.BalanceUpdateRetries)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BALANCE_UPDATE_RETRIES: %w", err)
	}
	if retries <= 0 {
		return AppConfig{}, fmt.Errorf("BALANCE_UPDATE_RETRIES must be > 0")
	}
	cfg.BalanceUpdateRetries = retries

	rateLimit, err := getEnvInt("SETTLE_RATE_LIMIT", cfg.SettleRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SETTLE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("SETTLE_RATE_LIMIT must be > 0")
	}
	cfg.SettleRateLimit = rateLimit

	if cfg.SettleRateWindow, err = getEnvSeconds("SETTLE_RATE_WINDOW_SEC", cfg.SettleRateWindow); err != nil {
		return AppConfig{}, err
	}

	loc, err := time.LoadLocation(getEnv("CATALOG_TZ", "UTC"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CATALOG_TZ: %w", err)
	}
	cfg.CatalogLocation = loc

	events, err := strconv.ParseBool(getEnv("EVENTS_ENABLED", "false"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid EVENTS_ENABLED: %w", err)
	}
	cfg.EventsEnabled = events

	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			return AppConfig{}, fmt.Errorf("DB_PATH must not be empty for sqlite")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return AppConfig{}, fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return AppConfig{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	switch cfg.PendingBackend {
	case PendingBackendMemory:
	case PendingBackendRedis:
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("PENDING_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return AppConfig{}, fmt.Errorf("unsupported PENDING_BACKEND %q", cfg.PendingBackend)
	}

	if cfg.QRSigningSecret == "" {
		return AppConfig{}, fmt.Errorf("QR_SIGNING_SECRET must not be empty")
	}

	if cfg.EventsEnabled {
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("EVENTS_ENABLED requires REDIS_ADDR")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		if cfg.SettlementEventStream == "" || cfg.SettlementEventGroup == "" || cfg.SettlementConsumer == "" {
			return AppConfig{}, fmt.Errorf("SETTLEMENT_EVENT_STREAM, SETTLEMENT_EVENT_GROUP and SETTLEMENT_EVENT_CONSUMER must not be empty")
		}
	}

	return cfg, nil
}

// getEnv returns the trimmed value of key, or fallback when unset.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt returns the integer value of key, or fallback when unset.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback/time.Second))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Second, nil
}

func getEnvMillis(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// splitCSV parses a comma separated list, dropping empty entries.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
