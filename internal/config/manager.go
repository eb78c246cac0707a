// Package config provides the two configuration layers: static environment
// configuration and dashboard-editable system settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"pt-watch/internal/types"
	"pt-watch/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Constants holds validation boundaries for the static configuration.
type Constants struct {
	MinPort    int
	MaxPort    int
	MinTimeout int
}

// DefaultConstants defines the boundaries used by Validate.
var DefaultConstants = Constants{
	MinPort:    1,
	MaxPort:    65535,
	MinTimeout: 1,
}

// Manager implements types.ConfigManager on top of environment variables.
type Manager struct {
	config          *types.Config
	settingsManager *SystemSettingsManager
}

// NewManager loads .env, parses the environment and validates the result.
func NewManager(settingsManager *SystemSettingsManager) (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	manager := &Manager{settingsManager: settingsManager}
	if err := manager.ReloadConfig(); err != nil {
		return nil, err
	}
	return manager, nil
}

// ReloadConfig re-reads the environment.
func (m *Manager) ReloadConfig() error {
	config := &types.Config{
		Server: types.ServerConfig{
			Port:                    parseInteger(os.Getenv("PORT"), 3001),
			Host:                    getEnvOrDefault("HOST", "0.0.0.0"),
			IsMaster:                !parseBoolean(os.Getenv("IS_SLAVE"), false),
			ReadTimeout:             parseInteger(os.Getenv("SERVER_READ_TIMEOUT"), 60),
			WriteTimeout:            parseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), 600),
			IdleTimeout:             parseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), 120),
			GracefulShutdownTimeout: parseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), 10),
		},
		Auth: types.AuthConfig{
			Key: os.Getenv("AUTH_KEY"),
		},
		CORS: types.CORSConfig{
			Enabled:          parseBoolean(os.Getenv("ENABLE_CORS"), false),
			AllowedOrigins:   parseList(os.Getenv("ALLOWED_ORIGINS"), nil),
			AllowedMethods:   parseList(os.Getenv("ALLOWED_METHODS"), []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   parseList(os.Getenv("ALLOWED_HEADERS"), []string{"*"}),
			AllowCredentials: parseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		Performance: types.PerformanceConfig{
			MaxConcurrentRequests: parseInteger(os.Getenv("MAX_CONCURRENT_REQUESTS"), 100),
		},
		Log: types.LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: parseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   getEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
		},
		Database: types.DatabaseConfig{
			DSN: getEnvOrDefault("DATABASE_DSN", "./data/pt-watch.db"),
		},
		RedisDSN:      os.Getenv("REDIS_DSN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		DebugMode:     parseBoolean(os.Getenv("DEBUG_MODE"), false),
	}

	m.config = config
	return m.Validate()
}

// Validate checks configuration validity, collecting all problems at once.
func (m *Manager) Validate() error {
	var errs []string

	if m.config.Server.Port < DefaultConstants.MinPort || m.config.Server.Port > DefaultConstants.MaxPort {
		errs = append(errs, fmt.Sprintf("port must be between %d and %d", DefaultConstants.MinPort, DefaultConstants.MaxPort))
	}
	if m.config.Auth.Key == "" {
		errs = append(errs, "AUTH_KEY is required")
	} else if len(m.config.Auth.Key) < 16 {
		logrus.Warn("AUTH_KEY is shorter than 16 characters; consider a stronger key")
	}
	if m.config.Performance.MaxConcurrentRequests < 1 {
		errs = append(errs, "max concurrent requests cannot be less than 1")
	}
	if m.config.CORS.Enabled && len(m.config.CORS.AllowedOrigins) == 0 {
		errs = append(errs, "ALLOWED_ORIGINS is required when CORS is enabled")
	}
	if m.config.CORS.Enabled && len(m.config.CORS.AllowedOrigins) == 1 && m.config.CORS.AllowedOrigins[0] == "*" {
		logrus.Warn("CORS is enabled with a wildcard origin; any site can call the dashboard API")
	}
	if m.config.Server.GracefulShutdownTimeout < 10 {
		m.config.Server.GracefulShutdownTimeout = 10
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsMaster returns whether this instance runs the scheduler and migrations.
func (m *Manager) IsMaster() bool {
	return m.config.Server.IsMaster
}

// GetAuthConfig returns authentication configuration.
func (m *Manager) GetAuthConfig() types.AuthConfig {
	return m.config.Auth
}

// GetCORSConfig returns CORS configuration.
func (m *Manager) GetCORSConfig() types.CORSConfig {
	return m.config.CORS
}

// GetPerformanceConfig returns performance configuration.
func (m *Manager) GetPerformanceConfig() types.PerformanceConfig {
	return m.config.Performance
}

// GetLogConfig returns logging configuration.
func (m *Manager) GetLogConfig() types.LogConfig {
	return m.config.Log
}

// GetDatabaseConfig returns database configuration.
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig {
	return m.config.Database
}

// GetEffectiveServerConfig returns the server configuration.
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.config.Server
}

// GetRedisDSN returns the Redis connection string, empty for memory store.
func (m *Manager) GetRedisDSN() string {
	return m.config.RedisDSN
}

// GetEncryptionKey returns the key for encrypting stored credentials.
func (m *Manager) GetEncryptionKey() string {
	return m.config.EncryptionKey
}

// IsDebugMode returns whether debug mode is active.
func (m *Manager) IsDebugMode() bool {
	return m.config.DebugMode || strings.ToLower(m.config.Log.Level) == "debug"
}

// DisplayServerConfig prints the effective startup configuration.
func (m *Manager) DisplayServerConfig() {
	server := m.config.Server

	logrus.Info("")
	logrus.Info("======= Server Configuration =======")
	logrus.Infof("  Listen: %s:%d (master=%v)", server.Host, server.Port, server.IsMaster)
	logrus.Infof("  Timeouts: read=%ds write=%ds idle=%ds shutdown=%ds",
		server.ReadTimeout, server.WriteTimeout, server.IdleTimeout, server.GracefulShutdownTimeout)
	logrus.Infof("  Database: %s", m.config.Database.DSN)
	if m.config.RedisDSN != "" {
		logrus.Infof("  Store: redis (%s)", utils.SanitizeProxyString(m.config.RedisDSN))
	} else {
		logrus.Info("  Store: memory")
	}
	if m.config.EncryptionKey != "" {
		logrus.Info("  Credential encryption: enabled")
	} else {
		logrus.Info("  Credential encryption: disabled (plaintext at rest)")
	}
	if m.config.CORS.Enabled {
		logrus.Infof("  CORS: enabled for %s", strings.Join(m.config.CORS.AllowedOrigins, ", "))
	}
	logrus.Infof("  Log: level=%s format=%s file=%v", m.config.Log.Level, m.config.Log.Format, m.config.Log.EnableFile)
	logrus.Info("====================================")
	logrus.Info("")
}

func getEnvOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseInteger(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func parseBoolean(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func parseList(value string, fallback []string) []string {
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
