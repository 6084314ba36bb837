// Package config loads the bridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreDriver string

const (
	StoreMemory StoreDriver = "memory"
	StoreRedis  StoreDriver = "redis"
)

type Config struct {
	Addr string

	// Webhook verification.
	WebhookSecret    string
	WebhookTolerance time.Duration

	// AI provider.
	ProviderBaseURL string
	ProviderWSURL   string
	ProviderAPIKey  string
	Model           string
	Voice           string

	// Session behavior.
	SettleDelay     time.Duration
	ReconnectMax    int
	ReconnectBase   time.Duration
	ReconnectCap    time.Duration
	ProviderTimeout time.Duration

	// CRM gateway.
	CRMBaseURL string
	CRMAPIKey  string
	CRMTimeout time.Duration

	// Call state store.
	StoreDriver StoreDriver
	RedisAddr   string
	RedisDB     int
	StoreTTL    time.Duration

	MaxBodyBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("BRIDGE_ADDR", ":8080"),
		WebhookSecret:       envOr("BRIDGE_WEBHOOK_SECRET", ""),
		WebhookTolerance:    envDurationOr("BRIDGE_WEBHOOK_TOLERANCE", 5*time.Minute),
		ProviderBaseURL:     envOr("BRIDGE_PROVIDER_BASE_URL", ""),
		ProviderWSURL:       envOr("BRIDGE_PROVIDER_WS_URL", ""),
		ProviderAPIKey:      envOr("BRIDGE_PROVIDER_API_KEY", ""),
		Model:               envOr("BRIDGE_MODEL", "realtime-voice-1"),
		Voice:               envOr("BRIDGE_VOICE", "verse"),
		SettleDelay:         envDurationOr("BRIDGE_SETTLE_DELAY", 250*time.Millisecond),
		ReconnectMax:        envIntOr("BRIDGE_RECONNECT_MAX_ATTEMPTS", 8),
		ReconnectBase:       envDurationOr("BRIDGE_RECONNECT_BASE_DELAY", 800*time.Millisecond),
		ReconnectCap:        envDurationOr("BRIDGE_RECONNECT_CAP_DELAY", 2*time.Second),
		ProviderTimeout:     envDurationOr("BRIDGE_PROVIDER_TIMEOUT", 5*time.Second),
		CRMBaseURL:          envOr("BRIDGE_CRM_BASE_URL", ""),
		CRMAPIKey:           envOr("BRIDGE_CRM_API_KEY", ""),
		CRMTimeout:          envDurationOr("BRIDGE_CRM_TIMEOUT", 5*time.Second),
		StoreDriver:         StoreDriver(envOr("BRIDGE_STORE_DRIVER", string(StoreMemory))),
		RedisAddr:           envOr("BRIDGE_REDIS_ADDR", "localhost:6379"),
		RedisDB:             envIntOr("BRIDGE_REDIS_DB", 0),
		StoreTTL:            envDurationOr("BRIDGE_STORE_TTL", 6*time.Hour),
		MaxBodyBytes:        envInt64Or("BRIDGE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:   envDurationOr("BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("BRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return Config{}, fmt.Errorf("BRIDGE_WEBHOOK_SECRET must be set")
	}
	if strings.TrimSpace(cfg.ProviderBaseURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_PROVIDER_BASE_URL must be set")
	}
	if strings.TrimSpace(cfg.ProviderWSURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_PROVIDER_WS_URL must be set")
	}
	if strings.TrimSpace(cfg.CRMBaseURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_CRM_BASE_URL must be set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("BRIDGE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return Config{}, fmt.Errorf("BRIDGE_VOICE must not be empty")
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreRedis:
	default:
		return Config{}, fmt.Errorf("BRIDGE_STORE_DRIVER must be one of memory|redis")
	}
	if cfg.StoreDriver == StoreRedis && strings.TrimSpace(cfg.RedisAddr) == "" {
		return Config{}, fmt.Errorf("BRIDGE_REDIS_ADDR must be set when BRIDGE_STORE_DRIVER=redis")
	}

	if cfg.WebhookTolerance <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WEBHOOK_TOLERANCE must be > 0")
	}
	if cfg.SettleDelay < 0 {
		return Config{}, fmt.Errorf("BRIDGE_SETTLE_DELAY must be >= 0")
	}
	if cfg.ReconnectMax <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.ReconnectBase <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_RECONNECT_BASE_DELAY must be > 0")
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return Config{}, fmt.Errorf("BRIDGE_RECONNECT_CAP_DELAY must be >= BRIDGE_RECONNECT_BASE_DELAY")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.CRMTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_CRM_TIMEOUT must be > 0")
	}
	if cfg.StoreTTL <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_STORE_TTL must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
