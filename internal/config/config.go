package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "PhoneGate"
	defaultAppEnv        = "development"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultShutdownDelay = 10 * time.Second

	defaultBanThreshold = 3
	defaultBanWindow    = 60 * time.Minute
	defaultOTPTTL       = 5 * time.Minute
	defaultSessionTTL   = 30 * time.Minute
	defaultPhoneRegion  = "IR"

	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	Env      string
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	// Lockout tuning: an identifier is banned for BanWindow after
	// BanThreshold consecutive failures.
	BanThreshold int
	BanWindow    time.Duration

	OTPTTL      time.Duration
	SessionTTL  time.Duration
	PhoneRegion string

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	ShutdownPeriod time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		Env:             getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		BanThreshold:    defaultBanThreshold,
		BanWindow:       defaultBanWindow,
		OTPTTL:          defaultOTPTTL,
		SessionTTL:      defaultSessionTTL,
		PhoneRegion:     getEnv("PHONE_REGION", defaultPhoneRegion),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_SECRET"),
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		ShutdownPeriod:  defaultShutdownDelay,
	}

	if v := os.Getenv("BAN_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid BAN_THRESHOLD: %q", v)
		}
		cfg.BanThreshold = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"BAN_WINDOW", &cfg.BanWindow},
		{"OTP_TTL", &cfg.OTPTTL},
		{"SESSION_TTL", &cfg.SessionTTL},
		{"ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", d.env, v)
		}
		*d.dst = parsed
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
