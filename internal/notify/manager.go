package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pt-watch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelsSettingKey is the settings-table row holding the channel doc.
const ChannelsSettingKey = "notify_channels"

// SecretMask is what the dashboard shows instead of stored secrets. A PUT
// carrying the mask keeps the stored value.
const SecretMask = "***"

// TelegramConfig is the telegram section of the channel doc.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// WeComConfig is the wecom section of the channel doc.
type WeComConfig struct {
	Enabled    bool   `json:"enabled"`
	CorpID     string `json:"corp_id"`
	CorpSecret string `json:"corp_secret"`
	AgentID    string `json:"agent_id"`
	ToUser     string `json:"to_user"`
	ToParty    string `json:"to_party,omitempty"`
	ToTag      string `json:"to_tag,omitempty"`
}

// Channels is the full channel doc.
type Channels struct {
	Telegram TelegramConfig `json:"telegram"`
	WeCom    WeComConfig    `json:"wecom"`
}

// secretPaths are merged from the stored doc when an update carries the mask.
var secretPaths = []string{"telegram.bot_token", "wecom.corp_secret"}

// Manager loads the channel doc from the settings table and sends messages
// best-effort to every enabled channel.
type Manager struct {
	db         *gorm.DB
	httpClient *http.Client

	// wecom keeps its token cache across sends as long as the credentials
	// stay the same.
	mu    sync.Mutex
	wecom *WeComNotifier
}

// NewManager creates a manager with its own outbound client. Notification
// endpoints are public APIs; the tracker proxy does not apply.
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:         db,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetChannels reads the channel doc, returning zero values when unset.
func (m *Manager) GetChannels() (Channels, error) {
	var channels Channels
	raw, err := m.rawDoc()
	if err != nil {
		return channels, err
	}
	if raw == "" {
		return channels, nil
	}
	if err := json.Unmarshal([]byte(raw), &channels); err != nil {
		return channels, fmt.Errorf("corrupt notify channel doc: %w", err)
	}
	return channels, nil
}

// UpdateChannels merges an update doc over the stored one. Masked secrets
// keep their stored values.
func (m *Manager) UpdateChannels(update []byte) (Channels, error) {
	if !gjson.ValidBytes(update) || !gjson.ParseBytes(update).IsObject() {
		return Channels{}, fmt.Errorf("channel doc must be a JSON object")
	}

	stored, err := m.rawDoc()
	if err != nil {
		return Channels{}, err
	}

	merged := string(update)
	for _, path := range secretPaths {
		if gjson.Get(merged, path).String() != SecretMask {
			continue
		}
		prev := gjson.Get(stored, path).String()
		merged, err = sjson.Set(merged, path, prev)
		if err != nil {
			return Channels{}, err
		}
	}

	var channels Channels
	if err := json.Unmarshal([]byte(merged), &channels); err != nil {
		return Channels{}, fmt.Errorf("invalid channel doc: %w", err)
	}

	normalized, err := json.Marshal(channels)
	if err != nil {
		return Channels{}, err
	}
	row := models.Setting{
		SettingKey:  ChannelsSettingKey,
		Value:       string(normalized),
		Description: "Notification channel configuration",
	}
	err = m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return Channels{}, err
	}
	return channels, nil
}

// MaskSecrets replaces stored secrets for dashboard reads.
func MaskSecrets(channels Channels) Channels {
	if channels.Telegram.BotToken != "" {
		channels.Telegram.BotToken = SecretMask
	}
	if channels.WeCom.CorpSecret != "" {
		channels.WeCom.CorpSecret = SecretMask
	}
	return channels
}

// Send delivers title+text to every enabled channel. Failures are logged,
// never propagated; a broken notifier must not fail a scan.
func (m *Manager) Send(ctx context.Context, title, text string) {
	channels, err := m.GetChannels()
	if err != nil {
		logrus.WithError(err).Warn("failed to load notify channels")
		return
	}
	message := title + "\n" + text

	if tg := channels.Telegram; tg.Enabled && tg.BotToken != "" && tg.ChatID != "" {
		notifier := &TelegramNotifier{BotToken: tg.BotToken, ChatID: tg.ChatID}
		if err := notifier.Send(ctx, m.httpClient, message); err != nil {
			logrus.WithError(err).Warn("telegram notify failed")
		}
	}

	if wc := channels.WeCom; wc.Enabled && wc.CorpID != "" && wc.CorpSecret != "" && wc.AgentID != "" {
		if err := m.wecomNotifier(wc).Send(ctx, m.httpClient, message); err != nil {
			logrus.WithError(err).Warn("wecom notify failed")
		}
	}
}

// Test sends a fixed message through one channel and reports the outcome.
func (m *Manager) Test(ctx context.Context, channel string) (bool, string) {
	channels, err := m.GetChannels()
	if err != nil {
		return false, err.Error()
	}
	const message = "pt-watch test message"

	switch channel {
	case "telegram":
		tg := channels.Telegram
		if !tg.Enabled {
			return false, "telegram disabled"
		}
		if tg.BotToken == "" || tg.ChatID == "" {
			return false, "telegram not configured"
		}
		notifier := &TelegramNotifier{BotToken: tg.BotToken, ChatID: tg.ChatID}
		if err := notifier.Send(ctx, m.httpClient, message); err != nil {
			return false, err.Error()
		}
		return true, "sent"
	case "wecom":
		wc := channels.WeCom
		if !wc.Enabled {
			return false, "wecom disabled"
		}
		if wc.CorpID == "" || wc.CorpSecret == "" || wc.AgentID == "" {
			return false, "wecom not configured"
		}
		if err := m.wecomNotifier(wc).Send(ctx, m.httpClient, message); err != nil {
			return false, err.Error()
		}
		return true, "sent"
	default:
		return false, "unknown channel"
	}
}

// wecomNotifier reuses the cached notifier while the credentials match.
func (m *Manager) wecomNotifier(cfg WeComConfig) *WeComNotifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wecom != nil &&
		m.wecom.CorpID == cfg.CorpID &&
		m.wecom.CorpSecret == cfg.CorpSecret &&
		m.wecom.AgentID == cfg.AgentID {
		m.wecom.ToUser = cfg.ToUser
		m.wecom.ToParty = cfg.ToParty
		m.wecom.ToTag = cfg.ToTag
		return m.wecom
	}
	m.wecom = &WeComNotifier{
		CorpID:     cfg.CorpID,
		CorpSecret: cfg.CorpSecret,
		AgentID:    cfg.AgentID,
		ToUser:     cfg.ToUser,
		ToParty:    cfg.ToParty,
		ToTag:      cfg.ToTag,
	}
	return m.wecom
}

func (m *Manager) rawDoc() (string, error) {
	var row models.Setting
	err := m.db.Where("setting_key = ?", ChannelsSettingKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return row.Value, nil
}
