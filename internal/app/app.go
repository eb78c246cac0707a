// Package app provides the main application logic and lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pt-watch/internal/config"
	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"
	"pt-watch/internal/store"
	"pt-watch/internal/types"
	"pt-watch/internal/version"
	"pt-watch/internal/watcher"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// App holds all services and manages the application lifecycle.
type App struct {
	engine            *gin.Engine
	configManager     types.ConfigManager
	settingsManager   *config.SystemSettingsManager
	scanService       *watcher.Service
	httpClientManager *httpclient.HTTPClientManager
	stealthManager    *httpclient.StealthClientManager
	storage           store.Store
	db                *gorm.DB
	httpServer        *http.Server
}

// AppParams defines the dependencies for the App.
type AppParams struct {
	dig.In
	Engine            *gin.Engine
	ConfigManager     types.ConfigManager
	SettingsManager   *config.SystemSettingsManager
	ScanService       *watcher.Service
	HTTPClientManager *httpclient.HTTPClientManager
	StealthManager    *httpclient.StealthClientManager
	Storage           store.Store
	DB                *gorm.DB
}

// NewApp is the constructor for App, with dependencies injected by dig.
func NewApp(params AppParams) *App {
	return &App{
		engine:            params.Engine,
		configManager:     params.ConfigManager,
		settingsManager:   params.SettingsManager,
		scanService:       params.ScanService,
		httpClientManager: params.HTTPClientManager,
		stealthManager:    params.StealthManager,
		storage:           params.Storage,
		db:                params.DB,
	}
}

// Start runs the application, it is a non-blocking call.
func (a *App) Start() error {
	if a.configManager.IsMaster() {
		logrus.Info("Starting as Master Node.")

		if err := a.db.AutoMigrate(
			&models.Setting{},
			&models.SiteOverride{},
			&models.SiteState{},
		); err != nil {
			return fmt.Errorf("database auto-migration failed: %w", err)
		}
		logrus.Info("Database auto-migration completed.")

		if err := a.settingsManager.EnsureSettingsInitialized(a.db); err != nil {
			return fmt.Errorf("failed to initialize system settings: %w", err)
		}
		logrus.Info("System settings initialized in DB.")
	} else {
		logrus.Info("Starting as Slave Node.")
	}

	if err := a.settingsManager.Initialize(a.db, a.storage); err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}

	a.configManager.DisplayServerConfig()
	a.settingsManager.DisplaySystemConfig(a.settingsManager.GetSettings())

	// The periodic scan loop only runs on the master node; slaves serve the
	// dashboard API against the shared database.
	if a.configManager.IsMaster() {
		a.scanService.Start()
	}

	serverConfig := a.configManager.GetEffectiveServerConfig()
	a.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:        a.engine,
		ReadTimeout:    time.Duration(serverConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(serverConfig.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(serverConfig.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Infof("PT invite watcher started successfully on Version: %s", version.Version)
		logrus.Infof("Server address: http://%s:%d", serverConfig.Host, serverConfig.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server startup failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down server...")

	serverConfig := a.configManager.GetEffectiveServerConfig()
	totalTimeout := time.Duration(serverConfig.GracefulShutdownTimeout) * time.Second

	// Reserve a slice of the budget for background services after the HTTP
	// server drain.
	httpShutdownTimeout := totalTimeout - 5*time.Second
	if httpShutdownTimeout < time.Second {
		httpShutdownTimeout = time.Second
	}
	httpShutdownCtx, cancelHTTPShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelHTTPShutdown()

	if a.httpServer != nil {
		httpShutdownStart := time.Now()
		if err := a.httpServer.Shutdown(httpShutdownCtx); err != nil {
			logrus.Debug("HTTP server graceful shutdown timed out, forcing remaining connections to close.")
			if closeErr := a.httpServer.Close(); closeErr != nil {
				logrus.Errorf("Error forcing HTTP server to close: %v", closeErr)
			}
		}
		logrus.Infof("HTTP server has been shut down. (took %v)", time.Since(httpShutdownStart))
	}

	stoppableServices := []func(context.Context){
		a.settingsManager.Stop,
	}
	if a.configManager.IsMaster() {
		stoppableServices = append(stoppableServices, a.scanService.Stop)
	}

	var wg sync.WaitGroup
	wg.Add(len(stoppableServices))
	for _, stopFunc := range stoppableServices {
		go func(stop func(context.Context)) {
			defer wg.Done()
			stop(ctx)
		}(stopFunc)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("All background services stopped.")
	case <-ctx.Done():
		logrus.Warn("Shutdown timed out, some services may not have stopped gracefully.")
	}

	if a.httpClientManager != nil {
		a.httpClientManager.CloseIdleConnections()
	}
	if a.stealthManager != nil {
		a.stealthManager.Cleanup()
	}

	if a.storage != nil {
		a.storage.Close()
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.SetMaxIdleConns(0)
			if closeErr := sqlDB.Close(); closeErr != nil {
				logrus.Errorf("Error closing database connection: %v", closeErr)
			}
		}
	}

	logrus.Info("Server exited gracefully")
}
