package config

import (
	"pt-watch/internal/types"
)

// MockConfig implements types.ConfigManager for testing.
type MockConfig struct {
	AuthKeyValue       string
	EncryptionKeyValue string
	DatabaseDSN        string
	RedisDSN           string
}

// GetAuthConfig returns mock auth configuration.
func (m *MockConfig) GetAuthConfig() types.AuthConfig {
	return types.AuthConfig{Key: m.AuthKeyValue}
}

// GetCORSConfig returns mock CORS configuration.
func (m *MockConfig) GetCORSConfig() types.CORSConfig {
	return types.CORSConfig{
		Enabled:        false,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}
}

// GetPerformanceConfig returns mock performance configuration.
func (m *MockConfig) GetPerformanceConfig() types.PerformanceConfig {
	return types.PerformanceConfig{MaxConcurrentRequests: 100}
}

// GetLogConfig returns mock log configuration.
func (m *MockConfig) GetLogConfig() types.LogConfig {
	return types.LogConfig{
		Level:    "info",
		Format:   "text",
		FilePath: "./data/logs/app.log",
	}
}

// GetDatabaseConfig returns mock database configuration.
func (m *MockConfig) GetDatabaseConfig() types.DatabaseConfig {
	dsn := m.DatabaseDSN
	if dsn == "" {
		dsn = ":memory:"
	}
	return types.DatabaseConfig{DSN: dsn}
}

// GetEffectiveServerConfig returns mock server configuration.
func (m *MockConfig) GetEffectiveServerConfig() types.ServerConfig {
	return types.ServerConfig{
		IsMaster:                true,
		Port:                    3001,
		Host:                    "0.0.0.0",
		ReadTimeout:             60,
		WriteTimeout:            600,
		IdleTimeout:             120,
		GracefulShutdownTimeout: 10,
	}
}

// GetRedisDSN returns the mock Redis DSN.
func (m *MockConfig) GetRedisDSN() string {
	return m.RedisDSN
}

// GetEncryptionKey returns the mock encryption key.
func (m *MockConfig) GetEncryptionKey() string {
	return m.EncryptionKeyValue
}

// IsMaster reports master mode, always true for the mock.
func (m *MockConfig) IsMaster() bool {
	return true
}

// IsDebugMode reports debug mode, always false for the mock.
func (m *MockConfig) IsDebugMode() bool {
	return false
}

// Validate always succeeds for the mock.
func (m *MockConfig) Validate() error {
	return nil
}

// ReloadConfig is a no-op for the mock.
func (m *MockConfig) ReloadConfig() error {
	return nil
}

// DisplayServerConfig is a no-op for the mock.
func (m *MockConfig) DisplayServerConfig() {}
