package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/httpclient"
	"pt-watch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// MoviePilotClient talks to a MoviePilot instance and pulls its site
// inventory. The access token is cached; a 401 on the site list triggers one
// re-login.
type MoviePilotClient struct {
	httpClient *http.Client

	mu       sync.Mutex
	baseURL  string
	username string
	password string
	otp      string
	token    string
}

// NewMoviePilotClient creates a client with its own plain HTTP client.
// MoviePilot runs on the local network; tracker proxies do not apply.
func NewMoviePilotClient() *MoviePilotClient {
	return &MoviePilotClient{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: nil},
		},
	}
}

// Configure updates the endpoint and credentials. A changed endpoint or user
// invalidates the cached token.
func (c *MoviePilotClient) Configure(baseURL, username, password, otp string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != c.baseURL || username != c.username || password != c.password {
		c.token = ""
	}
	c.baseURL = baseURL
	c.username = username
	c.password = password
	c.otp = otp
}

// Configured reports whether login is possible.
func (c *MoviePilotClient) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// Fingerprint identifies the endpoint for dependency backoff.
func (c *MoviePilotClient) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// login obtains a fresh access token.
func (c *MoviePilotClient) login(ctx context.Context) error {
	c.mu.Lock()
	base := c.baseURL
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	if c.otp != "" {
		form.Set("otp_password", c.otp)
	}
	c.mu.Unlock()

	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost,
			base+"/api/v1/login/access-token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, _, err := httpclient.DoWithRetry(ctx, c.httpClient, build, depRetryAttempts, depRetryDelay)
	if err != nil {
		return fmt.Errorf("moviepilot login request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 1<<20)
	if err != nil {
		return fmt.Errorf("moviepilot login read failed: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("moviepilot login endpoint not found (HTTP 404); check the base URL against %s/docs", base)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moviepilot login failed with HTTP %d", resp.StatusCode)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return fmt.Errorf("moviepilot login response carries no access_token")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// ListSites fetches the site inventory, logging in as needed.
func (c *MoviePilotClient) ListSites(ctx context.Context, onlyActive bool) ([]models.Site, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("moviepilot is not configured")
	}

	c.mu.Lock()
	haveToken := c.token != ""
	c.mu.Unlock()
	if !haveToken {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	body, status, err := c.fetchSiteList(ctx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Token expired; one re-login and retry.
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.fetchSiteList(ctx)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("moviepilot site list failed with HTTP %d", status)
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("moviepilot site list is not a JSON array")
	}

	var sites []models.Site
	parsed.ForEach(func(_, item gjson.Result) bool {
		site, ok := mapMoviePilotSite(item, onlyActive)
		if ok {
			sites = append(sites, site)
		}
		return true
	})
	logrus.Debugf("moviepilot inventory fetched, %d sites", len(sites))
	return sites, nil
}

func (c *MoviePilotClient) fetchSiteList(ctx context.Context) ([]byte, int, error) {
	c.mu.Lock()
	base := c.baseURL
	token := c.token
	c.mu.Unlock()

	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, base+"/api/v1/site/", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, _, err := httpclient.DoWithRetry(ctx, c.httpClient, build, depRetryAttempts, depRetryDelay)
	if err != nil {
		return nil, 0, fmt.Errorf("moviepilot site list request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 8<<20)
	if err != nil {
		return nil, 0, fmt.Errorf("moviepilot site list read failed: %w", err)
	}
	return body, resp.StatusCode, nil
}

// mapMoviePilotSite converts one inventory item. Sites without a URL are
// useless to the scanner and get dropped.
func mapMoviePilotSite(item gjson.Result, onlyActive bool) (models.Site, bool) {
	active := true
	if v := item.Get("is_active"); v.Exists() {
		active = v.Bool()
	}
	if onlyActive && !active {
		return models.Site{}, false
	}

	siteURL := strings.TrimSpace(item.Get("url").String())
	if siteURL == "" {
		return models.Site{}, false
	}

	domain := strings.ToLower(strings.TrimSpace(item.Get("domain").String()))
	if domain == "" {
		if u, err := url.Parse(siteURL); err == nil {
			domain = strings.ToLower(u.Hostname())
		}
	}
	if domain == "" {
		return models.Site{}, false
	}

	site := models.Site{
		Name:     strings.TrimSpace(item.Get("name").String()),
		Domain:   domain,
		URL:      siteURL,
		Cookie:   item.Get("cookie").String(),
		UA:       strings.TrimSpace(item.Get("ua").String()),
		IsActive: active,
	}
	if id := item.Get("id"); id.Exists() {
		v := id.Int()
		site.ID = &v
	}
	if site.Name == "" {
		site.Name = domain
	}
	return site, true
}
