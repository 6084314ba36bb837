package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BRIDGE_WEBHOOK_SECRET", "wh_secret")
	t.Setenv("BRIDGE_PROVIDER_BASE_URL", "https://provider.example")
	t.Setenv("BRIDGE_PROVIDER_WS_URL", "wss://provider.example/realtime")
	t.Setenv("BRIDGE_CRM_BASE_URL", "https://crm.example")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.ReconnectMax != 8 {
		t.Errorf("ReconnectMax = %d, want 8", cfg.ReconnectMax)
	}
	if cfg.ReconnectBase != 800*time.Millisecond {
		t.Errorf("ReconnectBase = %v", cfg.ReconnectBase)
	}
	if cfg.ReconnectCap != 2*time.Second {
		t.Errorf("ReconnectCap = %v", cfg.ReconnectCap)
	}
}

func TestLoadFromEnvRequiresSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("BRIDGE_WEBHOOK_SECRET", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for missing webhook secret")
	}
}

func TestLoadFromEnvRejectsUnknownStoreDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("BRIDGE_STORE_DRIVER", "etcd")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestLoadFromEnvRedisDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("BRIDGE_STORE_DRIVER", "redis")
	t.Setenv("BRIDGE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.StoreDriver != StoreRedis || cfg.RedisAddr != "redis.internal:6379" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadFromEnvRejectsCapBelowBase(t *testing.T) {
	setRequired(t)
	t.Setenv("BRIDGE_RECONNECT_BASE_DELAY", "3s")
	t.Setenv("BRIDGE_RECONNECT_CAP_DELAY", "1s")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for cap below base")
	}
}

func TestLoadFromEnvIgnoresMalformedDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("BRIDGE_SETTLE_DELAY", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SettleDelay != 250*time.Millisecond {
		t.Fatalf("SettleDelay = %v, want default", cfg.SettleDelay)
	}
}
