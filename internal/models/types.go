// Package models defines the database entities and the runtime site model.
package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Site templates. Empty means "decide from the domain".
const (
	TemplateNexusPHP = "nexusphp"
	TemplateCustom   = "custom"
	TemplateMTeam    = "mteam"
)

// Override modes for SiteOverride rows.
const (
	OverrideModeOverride = "override"
	OverrideModeManual   = "manual"
)

// Bypass methods for tracker requests.
const (
	BypassMethodNone    = "none"
	BypassMethodStealth = "stealth"
)

// Site is the runtime model the scanner works on: an inventory entry merged
// with its override row. It is never persisted as-is.
type Site struct {
	ID               *int64 `json:"id,omitempty"`
	Name             string `json:"name"`
	Domain           string `json:"domain"`
	URL              string `json:"url"`
	UA               string `json:"ua,omitempty"`
	Cookie           string `json:"cookie,omitempty"`
	CookieOverride   string `json:"cookie_override,omitempty"`
	Authorization    string `json:"authorization,omitempty"`
	DID              string `json:"did,omitempty"`
	IsActive         bool   `json:"is_active"`
	Template         string `json:"template,omitempty"`
	RegistrationPath string `json:"registration_path,omitempty"`
	InvitePath       string `json:"invite_path,omitempty"`
	BypassMethod     string `json:"bypass_method,omitempty"`
}

// IsMTeam reports whether the site belongs to the m-team.cc family.
func (s *Site) IsMTeam() bool {
	if s.Template == TemplateMTeam {
		return true
	}
	d := strings.ToLower(strings.TrimSpace(s.Domain))
	return d == "m-team.cc" || strings.HasSuffix(d, ".m-team.cc") || strings.HasSuffix(d, "m-team.cc")
}

// EffectiveTemplate resolves the template, falling back on the domain rule.
func (s *Site) EffectiveTemplate() string {
	switch s.Template {
	case TemplateNexusPHP, TemplateCustom, TemplateMTeam:
		return s.Template
	}
	if s.IsMTeam() {
		return TemplateMTeam
	}
	return TemplateNexusPHP
}

// SiteState is the persisted per-domain check result.
type SiteState struct {
	Domain            string         `gorm:"primaryKey;size:255" json:"domain"`
	Name              string         `gorm:"size:255" json:"name"`
	URL               string         `gorm:"size:512" json:"url"`
	Engine            string         `gorm:"size:32" json:"engine"`
	RegistrationState string         `gorm:"size:16" json:"registration_state"`
	InvitesState      string         `gorm:"size:16" json:"invites_state"`
	InvitesAvailable  *int           `json:"invites_available"`
	LastCheckedAt     time.Time      `json:"last_checked_at"`
	LastChangedAt     *time.Time     `json:"last_changed_at"`
	LastEvidence      datatypes.JSON `json:"last_evidence"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName keeps the historical table name.
func (SiteState) TableName() string {
	return "site_states"
}

// SiteOverride is a dashboard-managed per-domain entry. Mode "override"
// enriches an inventory site; mode "manual" defines a standalone site that the
// inventory does not know about (URL required).
type SiteOverride struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Domain string `gorm:"uniqueIndex;size:255;not null" json:"domain"`
	Mode   string `gorm:"size:16;not null;default:'override'" json:"mode"`

	Name string `gorm:"size:255" json:"name"`
	URL  string `gorm:"size:512" json:"url"`
	UA   string `gorm:"size:512" json:"ua"`

	// Credentials are stored encrypted when an encryption key is configured.
	Cookie        string `gorm:"type:text" json:"-"`
	Authorization string `gorm:"type:text" json:"-"`
	DID           string `gorm:"type:text" json:"-"`

	Template         string `gorm:"size:16" json:"template"`
	RegistrationPath string `gorm:"size:255" json:"registration_path"`
	InvitePath       string `gorm:"size:255" json:"invite_path"`
	BypassMethod     string `gorm:"size:16;not null;default:'none'" json:"bypass_method"`

	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting is a key-value row holding system settings, the notification
// channel doc and the inventory snapshot.
type Setting struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SettingKey  string    `gorm:"uniqueIndex;size:255;not null" json:"setting_key"`
	Value       string    `gorm:"type:text" json:"value"`
	Description string    `gorm:"size:512" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
