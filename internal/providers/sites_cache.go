package providers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pt-watch/internal/models"
	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	sitesCacheKey      = "moviepilot_sites_cache"
	sitesCacheVersion  = 1
	snapshotSettingKey = "sites_snapshot"

	minSitesCacheTTL     = 60 * time.Second
	maxSitesCacheTTL     = 604800 * time.Second
	defaultSitesCacheTTL = 86400 * time.Second
)

type sitesCacheDoc struct {
	Version   int           `json:"version"`
	BaseURL   string        `json:"base_url"`
	FetchedAt time.Time     `json:"fetched_at"`
	Sites     []models.Site `json:"sites"`
}

// SitesCache keeps the fetched MoviePilot inventory in the store, with a
// settings-table snapshot as the second-level fallback surviving restarts.
type SitesCache struct {
	store store.Store
	db    *gorm.DB
}

// NewSitesCache creates a cache over the shared store and database.
func NewSitesCache(s store.Store, db *gorm.DB) *SitesCache {
	return &SitesCache{store: s, db: db}
}

// ClampSitesCacheTTL bounds the configured TTL.
func ClampSitesCacheTTL(seconds int) time.Duration {
	ttl := time.Duration(seconds) * time.Second
	if ttl <= 0 {
		return defaultSitesCacheTTL
	}
	if ttl < minSitesCacheTTL {
		return minSitesCacheTTL
	}
	if ttl > maxSitesCacheTTL {
		return maxSitesCacheTTL
	}
	return ttl
}

// Save writes the inventory to the store and persists the DB snapshot.
func (c *SitesCache) Save(baseURL string, sites []models.Site) {
	doc := sitesCacheDoc{
		Version:   sitesCacheVersion,
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		FetchedAt: time.Now().UTC(),
		Sites:     sites,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		logrus.WithError(err).Warn("failed to encode sites cache")
		return
	}
	if err := c.store.Set(sitesCacheKey, data, 0); err != nil {
		logrus.WithError(err).Warn("failed to persist sites cache")
	}

	if c.db == nil {
		return
	}
	row := models.Setting{
		SettingKey:  snapshotSettingKey,
		Value:       string(data),
		Description: "Last fetched MoviePilot site inventory",
	}
	err = c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		logrus.WithError(err).Warn("failed to persist sites snapshot")
	}
}

// FromStore returns the cached inventory when it is still usable.
func (c *SitesCache) FromStore(baseURL string, ttl time.Duration) ([]models.Site, bool) {
	data, err := c.store.Get(sitesCacheKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logrus.WithError(err).Warn("failed to read sites cache")
		}
		return nil, false
	}
	doc, ok := parseSitesCacheDoc(data)
	if !ok || cacheExpired(doc, baseURL, ttl) {
		return nil, false
	}
	return doc.Sites, true
}

// FromSnapshot reads the DB snapshot and, when usable, reseeds the store
// cache so subsequent lookups stay cheap.
func (c *SitesCache) FromSnapshot(baseURL string, ttl time.Duration) ([]models.Site, bool) {
	if c.db == nil {
		return nil, false
	}
	var row models.Setting
	err := c.db.Where("setting_key = ?", snapshotSettingKey).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithError(err).Warn("failed to read sites snapshot")
		}
		return nil, false
	}
	doc, ok := parseSitesCacheDoc([]byte(row.Value))
	if !ok || cacheExpired(doc, baseURL, ttl) {
		return nil, false
	}

	if err := c.store.Set(sitesCacheKey, []byte(row.Value), 0); err != nil {
		logrus.WithError(err).Warn("failed to reseed sites cache from snapshot")
	}
	return doc.Sites, true
}

// parseSitesCacheDoc decodes and sanitizes a cache document. Entries missing
// a domain or URL are dropped.
func parseSitesCacheDoc(data []byte) (sitesCacheDoc, bool) {
	var doc sitesCacheDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false
	}
	if doc.Version != sitesCacheVersion || doc.FetchedAt.IsZero() {
		return doc, false
	}

	sites := doc.Sites[:0]
	for _, site := range doc.Sites {
		site.Domain = strings.ToLower(strings.TrimSpace(site.Domain))
		site.URL = strings.TrimSpace(site.URL)
		if site.Domain == "" || site.URL == "" {
			continue
		}
		if site.Name == "" {
			site.Name = site.Domain
		}
		sites = append(sites, site)
	}
	doc.Sites = sites
	return doc, true
}

func cacheExpired(doc sitesCacheDoc, baseURL string, ttl time.Duration) bool {
	want := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if want != "" && doc.BaseURL != "" && want != doc.BaseURL {
		return true
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(doc.FetchedAt) > ttl
}
