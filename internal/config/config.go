/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultRateLimitPrefix        = "zaryo:rate_limit"
	defaultPurchaseRateLimit      = 30
	defaultStalePurchaseMinutes   = 15
	defaultPurchaseExpirySchedule = "*/5 * * * *"
	defaultBalanceAuditSchedule   = "0 3 * * *"
	defaultDBMaxConns             = 100
	defaultDBMinConns             = 20
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	StoreDriver                string `mapstructure:"STORE_DRIVER"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	AutoMigrate                bool   `mapstructure:"AUTO_MIGRATE"`
	DBMaxConns                 int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                 int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PurchaseRateLimitPerMinute int    `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	FundsEventQueue            string `mapstructure:"FUNDS_EVENT_QUEUE"`
	ClerkJWKSURL               string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience              string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer                string `mapstructure:"CLERK_ISSUER"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	AdminUserIDsRaw            string `mapstructure:"ADMIN_USER_IDS"`
	CORSAllowedOriginsRaw      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	StalePurchaseMinutes       int    `mapstructure:"STALE_PURCHASE_MINUTES"`
	PurchaseExpirySchedule     string `mapstructure:"PURCHASE_EXPIRY_SCHEDULE"`
	BalanceAuditSchedule       string `mapstructure:"BALANCE_AUDIT_SCHEDULE"`

	AdminUserIDs       []string `mapstructure:"-"`
	CORSAllowedOrigins []string `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("DB_MAX_CONNS", defaultDBMaxConns)
	viper.SetDefault("DB_MIN_CONNS", defaultDBMinConns)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", defaultPurchaseRateLimit)
	viper.SetDefault("EVENTS_EXCHANGE", "zaryo_events")
	viper.SetDefault("FUNDS_EVENT_QUEUE", "ledger_service.funds_received")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("STALE_PURCHASE_MINUTES", defaultStalePurchaseMinutes)
	viper.SetDefault("PURCHASE_EXPIRY_SCHEDULE", defaultPurchaseExpirySchedule)
	viper.SetDefault("BALANCE_AUDIT_SCHEDULE", defaultBalanceAuditSchedule)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("PURCHASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("FUNDS_EVENT_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_USER_IDS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("STALE_PURCHASE_MINUTES")
	_ = viper.BindEnv("PURCHASE_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("BALANCE_AUDIT_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverPostgres && config.StoreDriver != StoreDriverMemory {
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; falling back to postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = defaultDBMaxConns
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		log.Printf("level=warn component=config msg=\"invalid DB_MIN_CONNS; coercing\" min=%d max=%d", config.DBMinConns, config.DBMaxConns)
		config.DBMinConns = min(defaultDBMinConns, config.DBMaxConns)
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if config.PurchaseRateLimitPerMinute <= 0 {
		config.PurchaseRateLimitPerMinute = defaultPurchaseRateLimit
	}
	if config.StalePurchaseMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive STALE_PURCHASE_MINUTES; using default\" value=%d", config.StalePurchaseMinutes)
		config.StalePurchaseMinutes = defaultStalePurchaseMinutes
	}

	config.PurchaseExpirySchedule = validSchedule("PURCHASE_EXPIRY_SCHEDULE", config.PurchaseExpirySchedule, defaultPurchaseExpirySchedule)
	config.BalanceAuditSchedule = validSchedule("BALANCE_AUDIT_SCHEDULE", config.BalanceAuditSchedule, defaultBalanceAuditSchedule)

	config.AdminUserIDs = splitList(config.AdminUserIDsRaw)
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsRaw)
	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = []string{"*"}
	}

	return
}

func validSchedule(key, spec, fallback string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fallback
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		log.Printf("level=warn component=config msg=\"invalid cron schedule; using default\" key=%s value=%q err=%v", key, spec, err)
		return fallback
	}
	return spec
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
