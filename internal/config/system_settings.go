package config

import (
	"context"
	"encoding/json"
	"fmt"

	"pt-watch/internal/models"
	"pt-watch/internal/store"
	"pt-watch/internal/syncer"
	"pt-watch/internal/types"
	"pt-watch/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsUpdateChannel is the pub/sub channel announcing settings changes.
const SettingsUpdateChannel = "system_settings_changed"

// SystemSettingsManager serves the dashboard-editable settings. Values live
// as JSON-encoded rows in the settings table; every instance keeps a cached
// merged copy refreshed through the store's pub/sub channel.
type SystemSettingsManager struct {
	db     *gorm.DB
	store  store.Store
	syncer *syncer.CacheSyncer[types.SystemSettings]
}

// NewSystemSettingsManager creates an uninitialized manager. Initialize must
// run before the cached settings are available; until then defaults apply.
func NewSystemSettingsManager() *SystemSettingsManager {
	return &SystemSettingsManager{}
}

// Initialize wires the database and store and starts the settings syncer.
func (sm *SystemSettingsManager) Initialize(db *gorm.DB, s store.Store) error {
	sm.db = db
	sm.store = s

	cs, err := syncer.NewCacheSyncer(
		sm.loadFromDB,
		s,
		SettingsUpdateChannel,
		logrus.WithField("component", "system_settings"),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start settings syncer: %w", err)
	}
	sm.syncer = cs
	return nil
}

// Stop terminates the settings syncer.
func (sm *SystemSettingsManager) Stop(ctx context.Context) {
	if sm.syncer != nil {
		sm.syncer.Stop()
	}
}

// GetSettings returns the cached settings, or pure defaults before
// initialization (some unit tests and early startup paths hit this).
func (sm *SystemSettingsManager) GetSettings() types.SystemSettings {
	if sm.syncer == nil {
		return utils.DefaultSystemSettings()
	}
	return sm.syncer.Get()
}

// GetEffectiveConfig returns the settings with every integer clamped back
// into its allowed range.
func (sm *SystemSettingsManager) GetEffectiveConfig() types.SystemSettings {
	settings := sm.GetSettings()
	utils.ClampSettings(&settings)
	return settings
}

// EnsureSettingsInitialized inserts a row for every known setting that has no
// row yet, so the dashboard always sees the full list.
func (sm *SystemSettingsManager) EnsureSettingsInitialized(db *gorm.DB) error {
	sm.db = db

	defaults := utils.DefaultSystemSettings()
	for _, info := range utils.GenerateSettingsMetadata(&defaults) {
		encoded, err := json.Marshal(info.DefaultValue)
		if err != nil {
			return fmt.Errorf("failed to encode default for %s: %w", info.Key, err)
		}
		row := models.Setting{
			SettingKey:  info.Key,
			Value:       string(encoded),
			Description: info.Description,
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", info.Key, err)
		}
	}
	return nil
}

// ValidateSettings checks a settings patch without persisting anything.
func (sm *SystemSettingsManager) ValidateSettings(updates map[string]any) error {
	defaults := utils.DefaultSystemSettings()
	for key, value := range updates {
		if value == nil {
			continue
		}
		_, field, ok := utils.SettingFieldByKey(&defaults, key)
		if !ok {
			return fmt.Errorf("invalid setting key: %s", key)
		}
		if err := utils.ValidateSettingValue(field, value); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSettings validates and persists a settings patch, then broadcasts the
// change so every instance reloads.
func (sm *SystemSettingsManager) UpdateSettings(updates map[string]any) error {
	if err := sm.ValidateSettings(updates); err != nil {
		return err
	}

	err := sm.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range updates {
			if value == nil {
				continue
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to encode setting %s: %w", key, err)
			}
			row := models.Setting{SettingKey: key, Value: string(encoded)}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "setting_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if sm.syncer != nil {
		if err := sm.syncer.Invalidate(); err != nil {
			logrus.WithError(err).Warn("Failed to broadcast settings change, reloading locally")
			return sm.syncer.Reload()
		}
	}
	return nil
}

// DisplaySystemConfig logs the scanner-relevant settings at startup.
func (sm *SystemSettingsManager) DisplaySystemConfig(settings types.SystemSettings) {
	logrus.Info("======= System Settings =======")
	logrus.Infof("  Scan: every %ds, timeout %ds, concurrency %d, notify=%v",
		settings.ScanIntervalSeconds, settings.ScanTimeoutSeconds, settings.ScanConcurrency, settings.NotifyOnChange)
	logrus.Infof("  Cookie source: %s (refresh %ds)", settings.CookieSource, settings.CookieRefreshSeconds)
	if settings.MoviePilotBaseURL != "" {
		logrus.Infof("  MoviePilot inventory: %s (cache %ds)", settings.MoviePilotBaseURL, settings.SitesCacheTTLSeconds)
	} else {
		logrus.Info("  MoviePilot inventory: not configured")
	}
	if settings.ProxyURL != "" {
		logrus.Infof("  Proxy: %s", utils.SanitizeProxyString(settings.ProxyURL))
	}
	logrus.Info("===============================")
}

// loadFromDB merges the settings rows over the struct defaults and clamps the
// result. A row that fails to decode keeps its default.
func (sm *SystemSettingsManager) loadFromDB() (types.SystemSettings, error) {
	settings := utils.DefaultSystemSettings()

	var rows []models.Setting
	if err := sm.db.Find(&rows).Error; err != nil {
		return settings, fmt.Errorf("failed to load settings rows: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		raw := []byte(row.Value)
		if !json.Valid(raw) {
			// Legacy rows stored bare strings without quoting.
			quoted, err := json.Marshal(row.Value)
			if err != nil {
				continue
			}
			raw = quoted
		}
		merged[row.SettingKey] = raw
	}

	blob, err := json.Marshal(merged)
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(blob, &settings); err != nil {
		logrus.WithError(err).Warn("Some settings rows failed to decode, keeping defaults for them")
	}

	utils.ClampSettings(&settings)
	return settings, nil
}
