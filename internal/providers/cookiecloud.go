// Package providers integrates the external dependencies supplying cookies
// and the site inventory: CookieCloud and MoviePilot.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pt-watch/internal/httpclient"
)

// Dependency calls share the retry shape of the tracker probes.
const (
	depRetryAttempts = 3
	depRetryDelay    = 300 * time.Millisecond
)

// CookieItem is one browser cookie as CookieCloud stores it. Expiry appears
// as "expires" or "expirationDate" depending on the exporting extension.
type CookieItem struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path,omitempty"`
	Expires        float64 `json:"expires,omitempty"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
}

// ExpiresAt returns the unix expiry timestamp, 0 for session cookies.
func (c *CookieItem) ExpiresAt() float64 {
	if c.Expires > 0 {
		return c.Expires
	}
	return c.ExpirationDate
}

// CookieCloudClient fetches decrypted cookies from a CookieCloud server. The
// server decrypts when the password is posted along with the get request.
type CookieCloudClient struct {
	BaseURL  string
	UUID     string
	Password string
}

// Fingerprint identifies the client configuration for dependency backoff.
func (c *CookieCloudClient) Fingerprint() string {
	return strings.TrimRight(c.BaseURL, "/") + "|" + c.UUID
}

// Configured reports whether the client has enough settings to fetch.
func (c *CookieCloudClient) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.UUID) != ""
}

// FetchCookies posts the password to {base}/get/{uuid} and returns the cookie
// map keyed by domain.
func (c *CookieCloudClient) FetchCookies(ctx context.Context, client *http.Client) (map[string][]CookieItem, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("cookiecloud is not configured")
	}

	payload, err := json.Marshal(map[string]string{"password": c.Password})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/get/" + c.UUID

	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, _, err := httpclient.DoWithRetry(ctx, client, build, depRetryAttempts, depRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("cookiecloud request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 8<<20)
	if err != nil {
		return nil, fmt.Errorf("cookiecloud read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cookiecloud returned HTTP %d", resp.StatusCode)
	}

	// The response is either {"cookie_data": {...}} or the domain map itself,
	// depending on the server version.
	var envelope struct {
		CookieData map[string][]CookieItem `json:"cookie_data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.CookieData) > 0 {
		return envelope.CookieData, nil
	}
	var direct map[string][]CookieItem
	if err := json.Unmarshal(body, &direct); err != nil {
		return nil, fmt.Errorf("cookiecloud response is not a cookie map: %w", err)
	}
	return direct, nil
}
