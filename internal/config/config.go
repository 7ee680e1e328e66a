package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Gateway  GatewayConfig
	Sweep    SweepConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	// Driver is "sqlite" (default, single-file DB like the original
	// deployment) or "postgres".
	Driver       string
	SQLitePath   string
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated     string
	PaymentConfirmed string
}

// GatewayConfig holds the payment-gateway credentials. The signature scheme
// is HMAC-SHA256 over the request payload's sorted key=value pairs.
type GatewayConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	Timeout     time.Duration
	LinkExpiry  time.Duration
}

type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

type AdminConfig struct {
	JWTSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "lunch.db"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "lunch_user"),
			Password:     getEnv("DB_PASSWORD", "lunch_pass"),
			Database:     getEnv("DB_NAME", "lunch_orders"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				OrderCreated:     getEnv("KAFKA_TOPIC_ORDER_CREATED", "lunch.orders.created"),
				PaymentConfirmed: getEnv("KAFKA_TOPIC_PAYMENT_CONFIRMED", "lunch.payments.confirmed"),
			},
		},
		Gateway: GatewayConfig{
			BaseURL:     getEnv("PAYOS_BASE_URL", "https://api-merchant.payos.vn"),
			ClientID:    getEnv("PAYOS_CLIENT_ID", ""),
			APIKey:      getEnv("PAYOS_API_KEY", ""),
			ChecksumKey: getEnv("PAYOS_CHECKSUM_KEY", ""),
			ReturnURL:   getEnv("PAYOS_RETURN_URL", "http://localhost:8080/payment/return"),
			CancelURL:   getEnv("PAYOS_CANCEL_URL", "http://localhost:8080/payment/cancel"),
			Timeout:     time.Duration(getEnvInt("PAYOS_TIMEOUT_SECONDS", 10)) * time.Second,
			LinkExpiry:  time.Duration(getEnvInt("PAYOS_LINK_EXPIRY_MINUTES", 30)) * time.Minute,
		},
		Sweep: SweepConfig{
			Interval:  time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize: getEnvInt("SWEEP_BATCH_SIZE", 50),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
