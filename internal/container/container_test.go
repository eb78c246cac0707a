package container

import (
	"testing"

	"pt-watch/internal/config"
	"pt-watch/internal/types"
	"pt-watch/internal/watcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEnv sets up test environment variables
func setupTestEnv(t testing.TB) {
	t.Helper()
	t.Setenv("AUTH_KEY", "test-auth-key-minimum-16-chars")
	t.Setenv("DATABASE_DSN", ":memory:")
	t.Setenv("PORT", "3001")
}

func TestBuildContainer(t *testing.T) {
	setupTestEnv(t)

	container, err := BuildContainer()
	require.NoError(t, err)
	require.NotNil(t, container)
}

func TestBuildContainer_ConfigManagerResolution(t *testing.T) {
	setupTestEnv(t)

	container, err := BuildContainer()
	require.NoError(t, err)

	var configManager types.ConfigManager
	err = container.Invoke(func(cm types.ConfigManager) {
		configManager = cm
	})
	require.NoError(t, err)
	assert.NotNil(t, configManager)
}

func TestBuildContainer_SystemSettingsManager(t *testing.T) {
	setupTestEnv(t)

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(sm *config.SystemSettingsManager) {
		assert.NotNil(t, sm)
	})
	require.NoError(t, err)
}

func TestBuildContainer_ScannerResolution(t *testing.T) {
	setupTestEnv(t)

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(scanner *watcher.Scanner, service *watcher.Service) {
		assert.NotNil(t, scanner)
		assert.NotNil(t, service)
	})
	require.NoError(t, err)
}

func TestBuildContainer_WithEncryptionKey(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("ENCRYPTION_KEY", "test-encryption-key-32-bytes!!")

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(cm types.ConfigManager) {
		assert.Equal(t, "test-encryption-key-32-bytes!!", cm.GetEncryptionKey())
	})
	require.NoError(t, err)
}

func TestBuildContainer_WithCustomPort(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("PORT", "8080")

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(cm types.ConfigManager) {
		assert.Equal(t, 8080, cm.GetEffectiveServerConfig().Port)
	})
	require.NoError(t, err)
}

func TestBuildContainer_WithSlaveMode(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("IS_SLAVE", "true")

	container, err := BuildContainer()
	require.NoError(t, err)

	err = container.Invoke(func(cm types.ConfigManager) {
		assert.False(t, cm.IsMaster())
	})
	require.NoError(t, err)
}

// Services resolved twice must be the same instance.
func TestBuildContainer_ServiceSingleton(t *testing.T) {
	setupTestEnv(t)

	container, err := BuildContainer()
	require.NoError(t, err)

	var cm1, cm2 types.ConfigManager
	require.NoError(t, container.Invoke(func(cm types.ConfigManager) { cm1 = cm }))
	require.NoError(t, container.Invoke(func(cm types.ConfigManager) { cm2 = cm }))
	assert.Same(t, cm1, cm2)
}
