/**
 * @description
 * In-memory registry of configured integrations and their SAS API clients,
 * built once at startup from configuration. It backs the registry and
 * client-factory lookups used by the orchestrator, the propagation worker,
 * and the sync coordinator.
 */

package app

import (
	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/sasclient"
)

// Integrations holds the configured integrations keyed by id.
type Integrations struct {
	settings map[uuid.UUID]domain.IntegrationSettings
	clients  map[uuid.UUID]*sasclient.Client
}

// NewIntegrations builds the registry and one SAS client per SAS-kind
// integration.
func NewIntegrations(configured []domain.IntegrationSettings) *Integrations {
	reg := &Integrations{
		settings: make(map[uuid.UUID]domain.IntegrationSettings, len(configured)),
		clients:  make(map[uuid.UUID]*sasclient.Client),
	}
	for _, s := range configured {
		reg.settings[s.ID] = s
		if s.Kind == domain.IntegrationKindSAS && s.SAS != nil {
			reg.clients[s.ID] = sasclient.NewClient(s.SAS.BaseURL, s.SAS.APIKey)
		}
	}
	return reg
}

// Settings implements IntegrationRegistry.
func (r *Integrations) Settings(integrationID uuid.UUID) (domain.IntegrationSettings, bool) {
	s, ok := r.settings[integrationID]
	return s, ok
}

// ClientFor implements SASClientFactory.
func (r *Integrations) ClientFor(integrationID uuid.UUID) (SASActivator, bool) {
	c, ok := r.clients[integrationID]
	if !ok {
		return nil, false
	}
	return c, true
}

// SyncClientFor implements SyncClientFactory.
func (r *Integrations) SyncClientFor(integrationID uuid.UUID) (SASSyncClient, bool) {
	c, ok := r.clients[integrationID]
	if !ok {
		return nil, false
	}
	return c, true
}

// All returns every configured integration.
func (r *Integrations) All() []domain.IntegrationSettings {
	out := make([]domain.IntegrationSettings, 0, len(r.settings))
	for _, s := range r.settings {
		out = append(out, s)
	}
	return out
}
