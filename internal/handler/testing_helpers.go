package handler

import (
	"testing"
	"time"

	"pt-watch/internal/config"
	"pt-watch/internal/encryption"
	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"
	"pt-watch/internal/notify"
	"pt-watch/internal/providers"
	"pt-watch/internal/store"
	"pt-watch/internal/watcher"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database (pure Go, no CGO).
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Setting{},
		&models.SiteState{},
		&models.SiteOverride{},
	)
	require.NoError(t, err)

	return db
}

// setupTestServer wires a server against in-memory backends.
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	db := setupTestDB(t)
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	settingsManager := config.NewSystemSettingsManager()
	require.NoError(t, settingsManager.Initialize(db, s))

	encSvc, err := encryption.NewService("")
	require.NoError(t, err)

	stealth := httpclient.NewStealthClientManager(10 * time.Second)
	t.Cleanup(stealth.Cleanup)

	notifyManager := notify.NewManager(db)
	depsStatus := providers.NewDepsStatusManager(s)

	scanner := watcher.NewScanner(
		settingsManager,
		db,
		s,
		encSvc,
		httpclient.NewHTTPClientManager(),
		stealth,
		providers.NewMoviePilotClient(),
		providers.NewSitesCache(s, db),
		providers.NewCookieManager(),
		depsStatus,
		notifyManager,
	)
	scanService := watcher.NewService(scanner, settingsManager, s)

	mockConfig := &config.MockConfig{
		AuthKeyValue: "test-auth-key-12345678",
	}

	return NewServer(db, s, mockConfig, settingsManager, encSvc, scanner, scanService, notifyManager, depsStatus)
}
