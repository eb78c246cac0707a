// Package handler implements the dashboard API endpoints.
package handler

import (
	"pt-watch/internal/config"
	"pt-watch/internal/encryption"
	"pt-watch/internal/notify"
	"pt-watch/internal/providers"
	"pt-watch/internal/store"
	"pt-watch/internal/types"
	"pt-watch/internal/watcher"

	"gorm.io/gorm"
)

// Server holds the handler dependencies.
type Server struct {
	DB              *gorm.DB
	Store           store.Store
	SettingsManager *config.SystemSettingsManager
	EncryptionSvc   encryption.Service
	Scanner         *watcher.Scanner
	ScanService     *watcher.Service
	NotifyManager   *notify.Manager
	DepsStatus      *providers.DepsStatusManager

	config     types.ConfigManager
	stateStore *watcher.StateStore
}

// NewServer creates the API server.
func NewServer(
	db *gorm.DB,
	s store.Store,
	configManager types.ConfigManager,
	settingsManager *config.SystemSettingsManager,
	encryptionSvc encryption.Service,
	scanner *watcher.Scanner,
	scanService *watcher.Service,
	notifyManager *notify.Manager,
	depsStatus *providers.DepsStatusManager,
) *Server {
	return &Server{
		DB:              db,
		Store:           s,
		SettingsManager: settingsManager,
		EncryptionSvc:   encryptionSvc,
		Scanner:         scanner,
		ScanService:     scanService,
		NotifyManager:   notifyManager,
		DepsStatus:      depsStatus,
		config:          configManager,
		stateStore:      watcher.NewStateStore(db),
	}
}
