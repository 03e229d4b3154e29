package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Stripe      StripeConfig
	Reservation ReservationConfig
	Workers     WorkersConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	TxRetries    int
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	OpTimeout time.Duration
}

type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	MockMode     bool
	PaymentTopic string
}

type StripeConfig struct {
	SecretKey string
	Currency  string
}

type ReservationConfig struct {
	TTL                 time.Duration
	HoldMarkerTTL       time.Duration
	MaxQuantity         int
	UserRateLimit       int
	UserRateWindow      time.Duration
	UserHouseRateLimit  int
	UserHouseRateWindow time.Duration
	RequireVerification bool
}

type WorkersConfig struct {
	ReconcileInterval   time.Duration
	ReconcileLockTTL    time.Duration
	SweepInterval       time.Duration
	SweepBatchSize      int
	FinalizerQueue      string
	FinalizerWait       time.Duration
	FinalizerVisibility time.Duration
	FinalizerBatchSize  int
	FinalizerMaxRetries int
	FinalizerRetryTTL   time.Duration
	CountdownInterval   time.Duration
}

// Load reads the configuration from the environment. Call godotenv.Load first
// to pick up a local .env file.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", ":8086"),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RateLimitRPS:   getFloat("SERVER_RATE_LIMIT_RPS", 200),
			RateLimitBurst: getInt("SERVER_RATE_LIMIT_BURST", 400),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "3306"),
			Username:     getEnv("DB_USER", "root"),
			Password:     getEnv("DB_PASS", "password"),
			Database:     getEnv("DB_NAME", "lottery"),
			MaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
			MaxLifetime:  getDuration("DB_MAX_LIFETIME", 5*time.Minute),
			TxRetries:    getInt("DB_TX_RETRIES", 3),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        getInt("REDIS_DB", 0),
			PoolSize:  getInt("REDIS_POOL_SIZE", 50),
			OpTimeout: getDuration("REDIS_OP_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:      getList("KAFKA_BROKERS", []string{"localhost:29092"}),
			GroupID:      getEnv("KAFKA_GROUP_ID", "lottery-reservation"),
			MockMode:     getBool("KAFKA_MOCK_MODE", false),
			PaymentTopic: getEnv("KAFKA_PAYMENT_TOPIC", "payment-success"),
		},
		Stripe: StripeConfig{
			SecretKey: os.Getenv("STRIPE_SECRET_KEY"),
			Currency:  getEnv("STRIPE_CURRENCY", "usd"),
		},
		Reservation: ReservationConfig{
			TTL:                 getDuration("RESERVATION_TTL", 15*time.Minute),
			HoldMarkerTTL:       getDuration("RESERVATION_HOLD_MARKER_TTL", 24*time.Hour),
			MaxQuantity:         getInt("RESERVATION_MAX_QUANTITY", 50),
			UserRateLimit:       getInt("RESERVATION_USER_RATE_LIMIT", 10),
			UserRateWindow:      getDuration("RESERVATION_USER_RATE_WINDOW", time.Minute),
			UserHouseRateLimit:  getInt("RESERVATION_USER_HOUSE_RATE_LIMIT", 5),
			UserHouseRateWindow: getDuration("RESERVATION_USER_HOUSE_RATE_WINDOW", 10*time.Minute),
			RequireVerification: getBool("RESERVATION_REQUIRE_VERIFICATION", true),
		},
		Workers: WorkersConfig{
			ReconcileInterval:   getDuration("RECONCILE_INTERVAL", 30*time.Second),
			ReconcileLockTTL:    getDuration("RECONCILE_LOCK_TTL", 10*time.Second),
			SweepInterval:       getDuration("SWEEP_INTERVAL", 10*time.Second),
			SweepBatchSize:      getInt("SWEEP_BATCH_SIZE", 200),
			FinalizerQueue:      getEnv("FINALIZER_QUEUE", "reservation-finalize"),
			FinalizerWait:       getDuration("FINALIZER_WAIT", 20*time.Second),
			FinalizerVisibility: getDuration("FINALIZER_VISIBILITY_TIMEOUT", 60*time.Second),
			FinalizerBatchSize:  getInt("FINALIZER_BATCH_SIZE", 10),
			FinalizerMaxRetries: getInt("FINALIZER_MAX_RETRIES", 3),
			FinalizerRetryTTL:   getDuration("FINALIZER_RETRY_TTL", 24*time.Hour),
			CountdownInterval:   getDuration("COUNTDOWN_INTERVAL", 5*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
