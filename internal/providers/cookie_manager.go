package providers

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/utils"

	"github.com/sirupsen/logrus"
)

// Cookie sources. Auto prefers CookieCloud and falls back to the inventory
// cookie.
const (
	CookieSourceAuto        = "auto"
	CookieSourceCookieCloud = "cookiecloud"
	CookieSourceMoviePilot  = "moviepilot"
)

const (
	minCookieRefresh     = 30 * time.Second
	defaultCookieRefresh = 300 * time.Second
)

// CookieManager caches CookieCloud cookies and resolves the Cookie header for
// a site URL.
type CookieManager struct {
	httpClient *http.Client

	mu        sync.Mutex
	client    CookieCloudClient
	refresh   time.Duration
	cookies   map[string][]CookieItem
	fetchedAt time.Time
	lastErr   error
}

// NewCookieManager creates a manager. CookieCloud servers usually sit on the
// local network, so the client ignores proxy environment variables.
func NewCookieManager() *CookieManager {
	return &CookieManager{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: nil},
		},
		refresh: defaultCookieRefresh,
	}
}

// Configure updates the CookieCloud endpoint and refresh window. Changing the
// endpoint drops the cached cookies.
func (m *CookieManager) Configure(baseURL, uuid, password string, refreshSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := CookieCloudClient{BaseURL: baseURL, UUID: uuid, Password: password}
	if next.Fingerprint() != m.client.Fingerprint() {
		m.cookies = nil
		m.fetchedAt = time.Time{}
		m.lastErr = nil
	}
	m.client = next

	refresh := time.Duration(refreshSeconds) * time.Second
	if refresh < minCookieRefresh {
		refresh = minCookieRefresh
	}
	m.refresh = refresh
}

// Configured reports whether CookieCloud can be contacted at all.
func (m *CookieManager) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.Configured()
}

// Fingerprint exposes the current endpoint fingerprint for dependency backoff.
func (m *CookieManager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.Fingerprint()
}

// Prefetch refreshes the cookie cache when the refresh window has elapsed.
// A fresh cache short-circuits without touching the network.
func (m *CookieManager) Prefetch(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	stale := time.Since(m.fetchedAt) >= m.refresh || m.cookies == nil
	m.mu.Unlock()

	if !client.Configured() {
		return nil
	}
	if !stale {
		return nil
	}

	cookies, err := client.FetchCookies(ctx, m.httpClient)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if err != nil {
		logrus.WithError(err).Warn("cookiecloud fetch failed")
		return err
	}
	m.cookies = cookies
	m.fetchedAt = time.Now()
	logrus.Debugf("cookiecloud cache refreshed, %d domains", len(cookies))
	return nil
}

// CookieHeaderFor resolves the Cookie header for a site according to the
// configured source. fallback is the cookie the inventory supplied.
func (m *CookieManager) CookieHeaderFor(source, siteURL, fallback string) string {
	switch source {
	case CookieSourceMoviePilot:
		return fallback
	case CookieSourceCookieCloud:
		return m.headerFromCache(siteURL)
	default:
		if header := m.headerFromCache(siteURL); header != "" {
			return header
		}
		return fallback
	}
}

// headerFromCache joins the cached cookies matching the URL's host.
func (m *CookieManager) headerFromCache(siteURL string) string {
	host := hostOf(siteURL)
	if host == "" {
		return ""
	}

	m.mu.Lock()
	cookies := m.cookies
	m.mu.Unlock()
	if len(cookies) == 0 {
		return ""
	}

	now := float64(time.Now().Unix())

	// A cookie from a more specific domain wins over a parent-domain one of
	// the same name.
	type pick struct {
		value     string
		domainLen int
	}
	chosen := map[string]pick{}
	for key, items := range cookies {
		for _, item := range items {
			domain := item.Domain
			if domain == "" {
				domain = key
			}
			domain = strings.ToLower(strings.TrimLeft(strings.TrimSpace(domain), "."))
			if domain == "" || !domainMatches(host, domain) {
				continue
			}
			if exp := item.ExpiresAt(); exp > 0 && exp < now {
				continue
			}
			if item.Name == "" {
				continue
			}
			if prev, ok := chosen[item.Name]; ok && prev.domainLen >= len(domain) {
				continue
			}
			chosen[item.Name] = pick{value: item.Value, domainLen: len(domain)}
		}
	}
	if len(chosen) == 0 {
		return ""
	}

	names := make([]string, 0, len(chosen))
	for name := range chosen {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+chosen[name].value)
	}
	return strings.Join(parts, "; ")
}

// domainMatches reports whether host equals domain or is a subdomain of it.
func domainMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostOf(siteURL string) string {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || u.Host == "" {
		return strings.ToLower(utils.CollapseWhitespace(siteURL))
	}
	return strings.ToLower(u.Hostname())
}
