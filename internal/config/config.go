package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	DefaultOrganizationID   string
	ProgramCacheTTLSeconds  int
	EventsChannel           string
	AuthSecret              string
	SeedAdminPassword       string
	SeedCashierPassword     string
	AccessTokenTTLMinutes   int
	LogLevel                string
	LogFormat               string
	SerializationRetryLimit int
}

// Load reads configuration from the environment. Unset or invalid numeric
// values fall back to their defaults.
func Load() Config {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_ORGANIZATION_ID", "org-main")
	v.SetDefault("PROGRAM_CACHE_TTL_SECONDS", 60)
	v.SetDefault("EVENTS_CHANNEL", "stationpos:sales")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SERIALIZATION_RETRY_LIMIT", 3)
	v.AutomaticEnv()

	cfg := Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		DefaultOrganizationID:   v.GetString("DEFAULT_ORGANIZATION_ID"),
		ProgramCacheTTLSeconds:  v.GetInt("PROGRAM_CACHE_TTL_SECONDS"),
		EventsChannel:           v.GetString("EVENTS_CHANNEL"),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		SeedAdminPassword:       v.GetString("SEED_ADMIN_PASSWORD"),
		SeedCashierPassword:     v.GetString("SEED_CASHIER_PASSWORD"),
		AccessTokenTTLMinutes:   v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
		SerializationRetryLimit: v.GetInt("SERIALIZATION_RETRY_LIMIT"),
	}

	if cfg.ProgramCacheTTLSeconds < 1 {
		cfg.ProgramCacheTTLSeconds = 60
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.SerializationRetryLimit < 1 {
		cfg.SerializationRetryLimit = 3
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
