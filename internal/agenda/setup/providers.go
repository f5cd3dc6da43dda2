// Package setup wires the calendar provider registry from configuration.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/agenda/infrastructure/caldav"
	"github.com/npjlab/pauta/internal/agenda/infrastructure/google"
	"github.com/npjlab/pauta/internal/identity/oauth"
	"github.com/npjlab/pauta/pkg/config"
)

// BuildProviderRegistry registers every calendar provider the configuration
// enables. Google needs a completed OAuth flow per owner; CalDAV uses one
// shared service account.
func BuildProviderRegistry(cfg *config.Config, oauthService *oauth.Service, logger *slog.Logger) *application.ProviderRegistry {
	registry := application.NewProviderRegistry()

	if oauthService != nil {
		registry.Register(domain.ProviderGoogle, func(_ context.Context, ownerID uuid.UUID) (application.RemoteCalendar, error) {
			if ownerID == uuid.Nil {
				return nil, fmt.Errorf("owner id is required")
			}
			client := google.NewClient(oauthService, ownerID, logger)
			if cfg.CalendarID != "" {
				client = client.WithCalendarID(cfg.CalendarID)
			}
			return client, nil
		})
	}

	if cfg.CalDAVEndpoint != "" {
		registry.Register(domain.ProviderCalDAV, func(_ context.Context, ownerID uuid.UUID) (application.RemoteCalendar, error) {
			if ownerID == uuid.Nil {
				return nil, fmt.Errorf("owner id is required")
			}
			return caldav.NewClient(cfg.CalDAVEndpoint, cfg.CalDAVUsername, cfg.CalDAVPassword, logger), nil
		})
	}

	return registry
}
