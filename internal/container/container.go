// Package container wires all services together with dig.
package container

import (
	"time"

	"pt-watch/internal/app"
	"pt-watch/internal/config"
	"pt-watch/internal/db"
	"pt-watch/internal/encryption"
	"pt-watch/internal/handler"
	"pt-watch/internal/httpclient"
	"pt-watch/internal/notify"
	"pt-watch/internal/providers"
	"pt-watch/internal/router"
	"pt-watch/internal/store"
	"pt-watch/internal/types"
	"pt-watch/internal/watcher"

	"go.uber.org/dig"
)

// stealthClientTimeout bounds a single request through the TLS-spoofing
// client. Cloudflare challenge pages can stall for a while before resolving.
const stealthClientTimeout = 60 * time.Second

// BuildContainer creates and configures the dependency injection container.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providerFuncs := []any{
		// Configuration
		config.NewSystemSettingsManager,
		config.NewManager,

		// Infrastructure
		db.NewDB,
		store.NewStore,
		newEncryptionService,
		httpclient.NewHTTPClientManager,
		newStealthClientManager,

		// External dependencies
		providers.NewMoviePilotClient,
		providers.NewCookieManager,
		providers.NewSitesCache,
		providers.NewDepsStatusManager,
		notify.NewManager,

		// Scanner
		watcher.NewScanner,
		watcher.NewService,

		// HTTP layer
		handler.NewServer,
		router.NewRouter,

		// Application
		app.NewApp,
	}

	for _, provider := range providerFuncs {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

func newEncryptionService(configManager types.ConfigManager) (encryption.Service, error) {
	return encryption.NewService(configManager.GetEncryptionKey())
}

func newStealthClientManager() *httpclient.StealthClientManager {
	return httpclient.NewStealthClientManager(stealthClientTimeout)
}
