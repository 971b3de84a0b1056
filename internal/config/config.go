// Package config loads the server settings from the environment through viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings for the Sugar Connect server.
type Config struct {
	AppPort string
	AppEnv  string
	BaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	StoreBackend string
	DatabaseDSN  string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	RabbitMQURL string
	NotifyQueue string

	AppendMaxAttempts int
	MeteredRoles      []string
	SignupCredits     int

	AdminEmail    string
	AdminPassword string

	LogLevel string
}

// Production reports whether the platform flag selects production credentials.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("JWT_SECRET", "change_me")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("DATABASE_DSN", "file::memory:?cache=shared")
	v.SetDefault("S3_BUCKET", "sugarconnect")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "http://127.0.0.1:9000/")
	v.SetDefault("S3_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_SECRET_KEY", "minioadmin")
	v.SetDefault("S3_PROD_ACCESS_KEY", "")
	v.SetDefault("S3_PROD_SECRET_KEY", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("NOTIFY_QUEUE", "message_notifications")
	v.SetDefault("APPEND_MAX_ATTEMPTS", 3)
	v.SetDefault("METERED_ROLES", "patron")
	v.SetDefault("SIGNUP_CREDITS", 0)
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads the configuration from environment variables, falling back to defaults.
func Load() *Config {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		AppPort:           v.GetString("APP_PORT"),
		AppEnv:            v.GetString("APP_ENV"),
		BaseURL:           strings.TrimRight(v.GetString("BASE_URL"), "/"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		TokenTTL:          v.GetDuration("TOKEN_TTL"),
		StoreBackend:      strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseDSN:       v.GetString("DATABASE_DSN"),
		S3Bucket:          v.GetString("S3_BUCKET"),
		S3Region:          v.GetString("S3_REGION"),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3AccessKey:       v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:       v.GetString("S3_SECRET_KEY"),
		RabbitMQURL:       v.GetString("RABBITMQ_URL"),
		NotifyQueue:       v.GetString("NOTIFY_QUEUE"),
		AppendMaxAttempts: v.GetInt("APPEND_MAX_ATTEMPTS"),
		MeteredRoles:      splitList(v.GetString("METERED_ROLES")),
		SignupCredits:     v.GetInt("SIGNUP_CREDITS"),
		AdminEmail:        v.GetString("ADMIN_EMAIL"),
		AdminPassword:     v.GetString("ADMIN_PASSWORD"),
		LogLevel:          v.GetString("LOG_LEVEL"),
	}

	// The platform flag swaps the store credentials for the production pair.
	if cfg.Production() && v.GetString("S3_PROD_ACCESS_KEY") != "" {
		cfg.S3AccessKey = v.GetString("S3_PROD_ACCESS_KEY")
		cfg.S3SecretKey = v.GetString("S3_PROD_SECRET_KEY")
	}
	if cfg.AppendMaxAttempts < 1 {
		cfg.AppendMaxAttempts = 1
	}
	if cfg.SignupCredits < 0 {
		cfg.SignupCredits = 0
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
