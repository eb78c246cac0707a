package utils

import (
	"testing"

	"pt-watch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSystemSettings(t *testing.T) {
	settings := DefaultSystemSettings()

	assert.Equal(t, 600, settings.ScanIntervalSeconds)
	assert.Equal(t, 20, settings.ScanTimeoutSeconds)
	assert.Equal(t, 8, settings.ScanConcurrency)
	assert.True(t, settings.NotifyOnChange)
	assert.Equal(t, "auto", settings.CookieSource)
	assert.Equal(t, 86400, settings.SitesCacheTTLSeconds)
	assert.Contains(t, settings.UserAgent, "Chrome")
}

func TestGenerateSettingsMetadata(t *testing.T) {
	settings := DefaultSystemSettings()
	settings.ScanIntervalSeconds = 900

	infos := GenerateSettingsMetadata(&settings)
	require.NotEmpty(t, infos)

	byKey := make(map[string]types.SystemSettingInfo, len(infos))
	for _, info := range infos {
		byKey[info.Key] = info
	}

	interval, ok := byKey["scan_interval_seconds"]
	require.True(t, ok)
	assert.Equal(t, 900, interval.Value)
	assert.Equal(t, 600, interval.DefaultValue)
	assert.Equal(t, "scan", interval.Category)
	assert.NotEmpty(t, interval.Name)
}

func TestValidateSettingValue(t *testing.T) {
	settings := DefaultSystemSettings()

	_, field, ok := SettingFieldByKey(&settings, "scan_timeout_seconds")
	require.True(t, ok)

	assert.NoError(t, ValidateSettingValue(field, float64(60)))
	assert.ErrorContains(t, ValidateSettingValue(field, "sixty"), "expected a number")
	assert.ErrorContains(t, ValidateSettingValue(field, float64(30.5)), "must be an integer")
	assert.ErrorContains(t, ValidateSettingValue(field, float64(1)), "below minimum")
	assert.ErrorContains(t, ValidateSettingValue(field, float64(1000)), "above maximum")

	_, boolField, ok := SettingFieldByKey(&settings, "notify_on_change")
	require.True(t, ok)
	assert.NoError(t, ValidateSettingValue(boolField, true))
	assert.ErrorContains(t, ValidateSettingValue(boolField, "yes"), "expected a boolean")

	_, _, ok = SettingFieldByKey(&settings, "no_such_key")
	assert.False(t, ok)
}

func TestClampSettings(t *testing.T) {
	settings := DefaultSystemSettings()
	settings.ScanTimeoutSeconds = 1
	settings.ScanConcurrency = 500
	settings.ScanIntervalSeconds = 5

	ClampSettings(&settings)

	assert.Equal(t, 5, settings.ScanTimeoutSeconds)
	assert.Equal(t, 64, settings.ScanConcurrency)
	assert.Equal(t, 30, settings.ScanIntervalSeconds)
}
