/**
 * @description
 * This file defines the per-integration configuration object. Activation and
 * sync settings are grouped into a discriminated structure per integration
 * kind rather than a flat set of nullable fields, so unsupported
 * combinations are rejected when the configuration is decoded.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntegrationKind discriminates the external system an integration talks to.
type IntegrationKind string

const (
	// IntegrationKindSAS is a SAS subscriber-management API.
	IntegrationKindSAS IntegrationKind = "sas"
	// IntegrationKindFreeRadius writes the FreeRADIUS schema only, with no
	// external activation API.
	IntegrationKindFreeRadius IntegrationKind = "freeradius"
)

// ActivationSettings bound the propagation worker for one integration.
type ActivationSettings struct {
	MaxRetries            int  `json:"max_retries"`
	RetryDelayMinutes     int  `json:"retry_delay_minutes"`
	UseExponentialBackoff bool `json:"use_exponential_backoff"`
	TimeoutSeconds        int  `json:"timeout_seconds"`
	MaxConcurrency        int  `json:"max_concurrency"`
	CheckCardAvailability bool `json:"check_card_availability_before_activate"`
}

// RetryDelay returns the wait before the given retry (1-based). Exponential
// backoff doubles the base delay per retry, capped at 24h.
func (s ActivationSettings) RetryDelay(retry int) time.Duration {
	base := time.Duration(s.RetryDelayMinutes) * time.Minute
	if base <= 0 {
		base = time.Minute
	}
	if !s.UseExponentialBackoff {
		return base
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= 24*time.Hour {
			return 24 * time.Hour
		}
	}
	return d
}

// Timeout returns the per-attempt deadline for external calls.
func (s ActivationSettings) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SyncSettings bound the bulk sync coordinator for one integration.
type SyncSettings struct {
	MaxItemsPerPage int `json:"max_item_in_page_per_request"`
}

// SASAPISettings carry the connection details of a SAS integration.
type SASAPISettings struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// IntegrationSettings is the full configuration of one integration. The SAS
// field is present exactly when Kind == IntegrationKindSAS.
type IntegrationSettings struct {
	ID         uuid.UUID          `json:"id"`
	Name       string             `json:"name"`
	Kind       IntegrationKind    `json:"kind"`
	SAS        *SASAPISettings    `json:"sas,omitempty"`
	Activation ActivationSettings `json:"activation"`
	Sync       SyncSettings       `json:"sync"`
}

// UnmarshalJSON decodes and validates the discriminated settings object.
func (c *IntegrationSettings) UnmarshalJSON(data []byte) error {
	type plain IntegrationSettings
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Kind {
	case IntegrationKindSAS:
		if p.SAS == nil || p.SAS.BaseURL == "" {
			return fmt.Errorf("integration %q: sas settings with base_url required for kind %q", p.Name, p.Kind)
		}
	case IntegrationKindFreeRadius:
		if p.SAS != nil {
			return fmt.Errorf("integration %q: sas settings not allowed for kind %q", p.Name, p.Kind)
		}
	default:
		return fmt.Errorf("integration %q: unknown kind %q", p.Name, p.Kind)
	}
	*c = IntegrationSettings(p)
	c.applyDefaults()
	return nil
}

func (c *IntegrationSettings) applyDefaults() {
	if c.Activation.MaxRetries <= 0 {
		c.Activation.MaxRetries = 3
	}
	if c.Activation.RetryDelayMinutes <= 0 {
		c.Activation.RetryDelayMinutes = 5
	}
	if c.Activation.TimeoutSeconds <= 0 {
		c.Activation.TimeoutSeconds = 30
	}
	if c.Activation.MaxConcurrency <= 0 {
		c.Activation.MaxConcurrency = 4
	}
	if c.Sync.MaxItemsPerPage <= 0 {
		c.Sync.MaxItemsPerPage = 100
	}
}
