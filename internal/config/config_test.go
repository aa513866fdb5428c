package config

import (
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "REDIS_LOCK_PREFIX")
	unsetEnvWithCleanup(t, "REDIS_LOCK_TTL_SECONDS")
	unsetEnvWithCleanup(t, "ACTIVATION_EVENT_QUEUE")
	unsetEnvWithCleanup(t, "INTEGRATION_SETTINGS_JSON")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.RedisLockPrefix != "openradius:activation_lock" {
		t.Fatalf("expected default lock prefix, got %q", cfg.RedisLockPrefix)
	}
	if cfg.RedisLockTTLSeconds != 120 {
		t.Fatalf("expected default lock ttl 120, got %d", cfg.RedisLockTTLSeconds)
	}
	if cfg.ActivationEventQueue != "activation_engine.radius_activations" {
		t.Fatalf("expected default event queue, got %q", cfg.ActivationEventQueue)
	}
	if cfg.DueSweepSchedule != "@every 1m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.DueSweepSchedule)
	}
	if len(cfg.Integrations) != 0 {
		t.Fatalf("expected no integrations by default, got %d", len(cfg.Integrations))
	}
}

func TestLoadConfig_UsesActivationEngineInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "ACTIVATION_ENGINE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_DecodesIntegrationSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTEGRATION_SETTINGS_JSON", `[
		{"id":"6a1f9f58-4b4e-4d0e-9a64-0f6d2ddad001","name":"main-sas","kind":"sas","sas":{"base_url":"https://sas.example.com","api_key":"k"},"activation":{"max_retries":5}},
		{"id":"6a1f9f58-4b4e-4d0e-9a64-0f6d2ddad002","name":"local","kind":"freeradius"}
	]`)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.Integrations) != 2 {
		t.Fatalf("expected 2 integrations, got %d", len(cfg.Integrations))
	}
	if cfg.Integrations[0].Kind != domain.IntegrationKindSAS || cfg.Integrations[0].Activation.MaxRetries != 5 {
		t.Fatalf("unexpected first integration: %+v", cfg.Integrations[0])
	}
	if cfg.Integrations[1].Kind != domain.IntegrationKindFreeRadius {
		t.Fatalf("unexpected second integration: %+v", cfg.Integrations[1])
	}
}

func TestLoadConfig_RejectsDuplicateIntegrationIDs(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTEGRATION_SETTINGS_JSON", `[
		{"id":"6a1f9f58-4b4e-4d0e-9a64-0f6d2ddad001","name":"a","kind":"freeradius"},
		{"id":"6a1f9f58-4b4e-4d0e-9a64-0f6d2ddad001","name":"b","kind":"freeradius"}
	]`)

	_, err := LoadConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "duplicate integration id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
			return
		}
		os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if !hadPrev {
		return
	}
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		os.Setenv(key, prev)
	})
}
