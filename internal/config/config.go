/**
 * @description
 * This package handles the configuration management for the activation
 * engine. It uses the Viper library to read configuration from environment
 * variables, providing a centralized and straightforward way to manage
 * application settings. Integration settings arrive as a JSON array in
 * INTEGRATION_SETTINGS_JSON and are decoded and validated here.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

// Config holds all the configuration variables for the activation engine.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisLockPrefix         string `mapstructure:"REDIS_LOCK_PREFIX"`
	RedisLockTTLSeconds     int    `mapstructure:"REDIS_LOCK_TTL_SECONDS"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	ActivationEventQueue    string `mapstructure:"ACTIVATION_EVENT_QUEUE"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	IntegrationSettingsJSON string `mapstructure:"INTEGRATION_SETTINGS_JSON"`
	DueSweepSchedule        string `mapstructure:"DUE_SWEEP_SCHEDULE"`
	ProfileChangeSchedule   string `mapstructure:"PROFILE_CHANGE_SCHEDULE"`
	StaleSyncSchedule       string `mapstructure:"STALE_SYNC_SCHEDULE"`

	// Decoded from IntegrationSettingsJSON after Unmarshal.
	Integrations []domain.IntegrationSettings `mapstructure:"-"`
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
	viper.SetDefault("REDIS_LOCK_PREFIX", "openradius:activation_lock")
	viper.SetDefault("REDIS_LOCK_TTL_SECONDS", 120)
	viper.SetDefault("ACTIVATION_EVENT_QUEUE", "activation_engine.radius_activations")
	viper.SetDefault("DUE_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("PROFILE_CHANGE_SCHEDULE", "@every 5m")
	viper.SetDefault("STALE_SYNC_SCHEDULE", "@every 5m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("REDIS_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ACTIVATION_EVENT_QUEUE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ACTIVATION_ENGINE_INTERNAL_API_KEY")
	_ = viper.BindEnv("INTEGRATION_SETTINGS_JSON")
	_ = viper.BindEnv("DUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PROFILE_CHANGE_SCHEDULE")
	_ = viper.BindEnv("STALE_SYNC_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ACTIVATION_ENGINE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "openradius:activation_lock"
	}
	if config.RedisLockTTLSeconds <= 0 {
		config.RedisLockTTLSeconds = 120
	}

	config.Integrations, err = decodeIntegrationSettings(config.IntegrationSettingsJSON)
	if err != nil {
		return
	}

	return
}

// decodeIntegrationSettings parses the INTEGRATION_SETTINGS_JSON array. The
// per-integration validation lives in domain.IntegrationSettings.
func decodeIntegrationSettings(raw string) ([]domain.IntegrationSettings, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		log.Printf("level=warn component=config msg=\"no integrations configured\"")
		return nil, nil
	}

	var settings []domain.IntegrationSettings
	if err := json.Unmarshal([]byte(trimmed), &settings); err != nil {
		return nil, fmt.Errorf("invalid INTEGRATION_SETTINGS_JSON: %w", err)
	}

	seen := make(map[string]bool, len(settings))
	for _, s := range settings {
		if seen[s.ID.String()] {
			return nil, fmt.Errorf("duplicate integration id %s in INTEGRATION_SETTINGS_JSON", s.ID)
		}
		seen[s.ID.String()] = true
	}
	return settings, nil
}
